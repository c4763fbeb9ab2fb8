package metrics

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestGaugesReflectRun(t *testing.T) {
	m := New("0xabc")
	m.Totals(tokens(500), tokens(500), 18, 3, 3)
	m.Balance(tokens(300), tokens(500), 18)
	m.Outcome("shortfall", 1700000000)

	body := textfile(t, m)
	for _, want := range []string{
		`payout_reconciler_expected_total_tokens{contract="0xabc"} 500`,
		`payout_reconciler_balance_delta_tokens{contract="0xabc"} -200`,
		`payout_reconciler_status{contract="0xabc",status="shortfall"} 1`,
		`payout_reconciler_status{contract="0xabc",status="match"} 0`,
		`payout_reconciler_manifest_payouts{contract="0xabc"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q:\n%s", want, body)
		}
	}
}

func textfile(t *testing.T, m *Metrics) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payouts.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	return string(raw)
}

func TestWriteTextfile(t *testing.T) {
	m := New("0xabc")
	m.Outcome("match", 1)
	m.RPCError()

	body := textfile(t, m)
	for _, want := range []string{
		`payout_reconciler_status{contract="0xabc",status="match"} 1`,
		`payout_reconciler_rpc_errors_total{contract="0xabc"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("textfile missing %q:\n%s", want, body)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Totals(big.NewInt(1), big.NewInt(1), 0, 1, 1)
	m.Balance(big.NewInt(1), big.NewInt(1), 0)
	m.Outcome("match", 0)
	m.RPCError()
	if err := m.WriteTextfile("/nonexistent/dir/x.prom"); err != nil {
		t.Fatalf("nil metrics should not write: %v", err)
	}
}

func TestGathererListsFamilies(t *testing.T) {
	m := New("0xabc")
	m.Outcome("match", 1)
	families, err := m.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{"payout_reconciler_status", "payout_reconciler_last_run_timestamp_seconds"} {
		if !names[want] {
			t.Fatalf("missing family %s in %v", want, names)
		}
	}
}
