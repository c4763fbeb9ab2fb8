package metrics

import (
	"math/big"

	"github.com/devblac/payout-reconciler/internal/units"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gauges describing the latest reconciliation. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	expected  prometheus.Gauge
	logged    prometheus.Gauge
	balance   prometheus.Gauge
	delta     prometheus.Gauge
	events    prometheus.Gauge
	payouts   prometheus.Gauge
	status    *prometheus.GaugeVec
	lastRun   prometheus.Gauge
	rpcErrors prometheus.Counter
}

var statuses = []string{"match", "shortfall", "surplus", "mismatch", "error"}

// New builds the gauges on a private registry labelled with the contract.
func New(contract string) *Metrics {
	labels := prometheus.Labels{"contract": contract}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "payout_reconciler_" + name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		expected: gauge("expected_total_tokens", "Sum of the payout manifest in display units"),
		logged:   gauge("logged_total_tokens", "Sum of on-chain payout events in display units"),
		balance:  gauge("contract_balance_tokens", "Token balance held by the payout contract"),
		delta:    gauge("balance_delta_tokens", "Balance minus required total; negative is a shortfall"),
		events:   gauge("payout_events", "Number of payout events found on chain"),
		payouts:  gauge("manifest_payouts", "Number of entries in the payout manifest"),
		lastRun:  gauge("last_run_timestamp_seconds", "Unix time of the last reconciliation"),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "payout_reconciler_status",
			Help:        "1 for the outcome of the last reconciliation, 0 otherwise",
			ConstLabels: labels,
		}, []string{"status"}),
		rpcErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "payout_reconciler_rpc_errors_total",
			Help:        "Node requests that failed during the run",
			ConstLabels: labels,
		}),
	}
	m.registry.MustRegister(
		m.expected,
		m.logged,
		m.balance,
		m.delta,
		m.events,
		m.payouts,
		m.lastRun,
		m.status,
		m.rpcErrors,
	)
	return m
}

// Totals records both sides of the totals check.
func (m *Metrics) Totals(expected, logged *big.Int, decimals uint8, payouts, events int) {
	if m == nil {
		return
	}
	m.expected.Set(toFloat(expected, decimals))
	m.logged.Set(toFloat(logged, decimals))
	m.payouts.Set(float64(payouts))
	m.events.Set(float64(events))
}

// Balance records the contract balance and its gap to the required total.
func (m *Metrics) Balance(balance, required *big.Int, decimals uint8) {
	if m == nil {
		return
	}
	m.balance.Set(toFloat(balance, decimals))
	m.delta.Set(toFloat(new(big.Int).Sub(balance, required), decimals))
}

// Outcome flags the run status and stamps the run time.
func (m *Metrics) Outcome(status string, unix int64) {
	if m == nil {
		return
	}
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.status.WithLabelValues(s).Set(v)
	}
	m.lastRun.Set(float64(unix))
}

// RPCError increments the node error counter.
func (m *Metrics) RPCError() {
	if m != nil {
		m.rpcErrors.Inc()
	}
}

// Gatherer exposes the registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes the metrics for node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// toFloat converts for display only; the reconciliation itself never
// touches floating point.
func toFloat(v *big.Int, decimals uint8) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(v, units.Scale(decimals)).Float64()
	return f
}
