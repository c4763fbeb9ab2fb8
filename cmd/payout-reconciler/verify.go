package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/devblac/payout-reconciler/internal/chain"
	"github.com/devblac/payout-reconciler/internal/config"
	"github.com/devblac/payout-reconciler/internal/logging"
	"github.com/devblac/payout-reconciler/internal/manifest"
	"github.com/devblac/payout-reconciler/internal/metrics"
	"github.com/devblac/payout-reconciler/internal/reconcile"
	"github.com/devblac/payout-reconciler/internal/sink"
	"github.com/devblac/payout-reconciler/internal/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

const statusError = "error"

var (
	flagManifest  string
	flagFrom      uint64
	flagTo        uint64
	flagDryRun    bool
	flagNoHistory bool
)

func init() {
	verifyCmd.Flags().StringVar(&flagManifest, "manifest", "", "Payout manifest override")
	verifyCmd.Flags().Uint64Var(&flagFrom, "from", 0, "Start block override")
	verifyCmd.Flags().Uint64Var(&flagTo, "to", 0, "End block override (inclusive)")
	verifyCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Do not send to sinks")
	verifyCmd.Flags().BoolVar(&flagNoHistory, "no-history", false, "Do not record the run")
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the manifest against PayoutAdded events and the contract balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel := os.Getenv("LOG_LEVEL")
		if logLevel == "" {
			logLevel = "info"
		}
		log := logging.NewWithLevel(logLevel)
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := applyOverrides(cmd, cfg); err != nil {
			return err
		}

		rcfg, err := buildReconcileConfig(cfg)
		if err != nil {
			return err
		}

		// A bad manifest is reported before any node connection is attempted.
		if _, err := manifest.Load(rcfg.Manifest); err != nil {
			return err
		}

		node, err := chain.Dial(ctx, cfg.Network.RPCURL, chain.WithMaxBlockSpan(cfg.Network.MaxBlockSpan))
		if err != nil {
			return err
		}
		defer node.Close()

		var mtr *metrics.Metrics
		if cfg.Global.MetricsFile != "" {
			mtr = metrics.New(rcfg.Payouts.Address.Hex())
		}

		started := time.Now()
		chainID := ""
		if id, err := node.ChainID(ctx); err == nil {
			chainID = id.String()
		} else {
			log.Warn("chain id unavailable", "error", err)
		}

		res, runErr := reconcile.New(node, rcfg, cmd.OutOrStdout(), log).Run(ctx)
		status := outcomeStatus(res, runErr)
		log.Info("reconciliation finished", "status", status, "chain_id", chainID, "dry_run", flagDryRun)

		recordMetrics(log, mtr, cfg.Global.MetricsFile, rcfg.Decimals, res, runErr, status)

		run := buildRun(rcfg, chainID, res, runErr, status, started)
		if cfg.Global.DBPath != "" && !flagNoHistory {
			if err := saveRun(ctx, cfg.Global.DBPath, run); err != nil {
				log.Warn("run not recorded", "error", err)
			} else {
				log.Debug("run recorded", "run_id", run.ID)
			}
		}

		if !flagDryRun {
			notify(ctx, log, cfg.Sinks, outcome(run, rcfg.Symbol, res))
		}
		return runErr
	},
}

func applyOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("manifest") {
		cfg.Payouts.Manifest = flagManifest
	}
	if flags.Changed("from") {
		cfg.Payouts.FromBlock = flagFrom
	}
	if flags.Changed("to") {
		cfg.Payouts.ToBlock = flagTo
	}
	if cfg.Payouts.ToBlock != 0 && cfg.Payouts.ToBlock < cfg.Payouts.FromBlock {
		return fmt.Errorf("--to %d is before --from %d", cfg.Payouts.ToBlock, cfg.Payouts.FromBlock)
	}
	return nil
}

// buildReconcileConfig resolves ABIs and addresses from the loaded config.
// User ABI directories take precedence over the embedded ABIs.
func buildReconcileConfig(cfg *config.Config) (reconcile.Config, error) {
	abis, err := chain.LoadABIs(cfg.ABIDirs)
	if err != nil {
		return reconcile.Config{}, fmt.Errorf("load abis: %w", err)
	}
	payoutsABI := chain.ABIForEvent(abis, cfg.Payouts.Event, chain.PayoutsABI())
	if _, ok := payoutsABI.Events[cfg.Payouts.Event]; !ok {
		return reconcile.Config{}, fmt.Errorf("%w: %s", chain.ErrUnknownEvent, cfg.Payouts.Event)
	}
	tokenABI := chain.ABIForMethod(abis, "balanceOf", chain.ERC20ABI())

	rcfg := reconcile.Config{
		Manifest:  cfg.Payouts.Manifest,
		Payouts:   chain.Contract{Address: common.HexToAddress(cfg.Payouts.Contract), ABI: payoutsABI},
		Event:     cfg.Payouts.Event,
		FromBlock: cfg.Payouts.FromBlock,
		Token:     chain.Contract{ABI: tokenABI},
		Decimals:  *cfg.Token.Decimals,
		Symbol:    cfg.Token.Symbol,
	}
	if cfg.Payouts.ToBlock != 0 {
		to := cfg.Payouts.ToBlock
		rcfg.ToBlock = &to
	}
	if cfg.Token.Address != "" {
		rcfg.Token.Address = common.HexToAddress(cfg.Token.Address)
	}
	return rcfg, nil
}

func outcomeStatus(res *reconcile.Result, err error) string {
	var mm *reconcile.MismatchError
	if errors.As(err, &mm) {
		return string(reconcile.StatusMismatch)
	}
	if err != nil || res == nil {
		return statusError
	}
	return string(res.Status)
}

func recordMetrics(log *slog.Logger, mtr *metrics.Metrics, path string, decimals uint8, res *reconcile.Result, runErr error, status string) {
	if mtr == nil {
		return
	}
	var ce *chain.ConnectivityError
	if errors.As(runErr, &ce) {
		mtr.RPCError()
	}
	if res != nil {
		mtr.Totals(res.Expected.Base(), res.Logged.Base(), decimals, res.PayoutCount, res.EventCount)
		if res.Balance != nil {
			mtr.Balance(res.Balance.Current.Base(), res.Balance.Required.Base(), decimals)
		}
	}
	mtr.Outcome(status, time.Now().Unix())
	if err := mtr.WriteTextfile(path); err != nil {
		log.Warn("metrics not written", "path", path, "error", err)
	}
}

func buildRun(rcfg reconcile.Config, chainID string, res *reconcile.Result, runErr error, status string, started time.Time) *storage.Run {
	run := &storage.Run{
		ID:             storage.NewRunID(),
		ChainID:        chainID,
		PayoutContract: rcfg.Payouts.Address.Hex(),
		FromBlock:      rcfg.FromBlock,
		ToBlock:        rcfg.ToBlock,
		Decimals:       rcfg.Decimals,
		Status:         status,
		StartedAt:      started,
		FinishedAt:     time.Now(),
	}
	if rcfg.Token.Address != (common.Address{}) {
		run.Asset = rcfg.Token.Address.Hex()
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if res == nil {
		run.ExpectedBase, run.LoggedBase = "0", "0"
		return run
	}
	run.Payouts = res.PayoutCount
	run.Events = res.EventCount
	run.ExpectedBase = res.Expected.Base().String()
	run.LoggedBase = res.Logged.Base().String()
	if res.Token != (common.Address{}) {
		run.Asset = res.Token.Hex()
	}
	if res.Balance != nil {
		run.BalanceBase = res.Balance.Current.Base().String()
	}
	for _, d := range res.Discrepancies {
		run.Discrepancies = append(run.Discrepancies, storage.Discrepancy{
			Recipient:    d.Recipient.Hex(),
			ExpectedBase: d.Expected.String(),
			LoggedBase:   d.Logged.String(),
		})
	}
	return run
}

func saveRun(ctx context.Context, path string, run *storage.Run) error {
	store, err := storage.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.InsertRun(ctx, run)
}

func outcome(run *storage.Run, symbol string, res *reconcile.Result) sink.Outcome {
	o := sink.Outcome{
		RunID:         run.ID,
		Status:        run.Status,
		Contract:      run.PayoutContract,
		Asset:         run.Asset,
		Symbol:        symbol,
		Discrepancies: len(run.Discrepancies),
		Error:         run.Error,
	}
	if res != nil {
		o.Expected = res.Expected.String()
		o.Logged = res.Logged.String()
		if res.Balance != nil {
			o.Balance = res.Balance.Current.String()
			o.Delta = res.Balance.Delta.String()
		}
	}
	return o
}

func notify(ctx context.Context, log *slog.Logger, sinks []config.Sink, o sink.Outcome) {
	for _, s := range sinks {
		if !s.Wants(o.Status) {
			continue
		}
		sender, err := newSender(s)
		if err != nil {
			log.Warn("sink unavailable", "sink", s.ID, "error", err)
			continue
		}
		if err := sender.Send(ctx, o); err != nil {
			log.Warn("sink delivery failed", "sink", s.ID, "error", err)
			continue
		}
		log.Debug("sink notified", "sink", s.ID, "status", o.Status)
	}
}

func newSender(s config.Sink) (sink.Sender, error) {
	switch strings.ToLower(s.Type) {
	case "slack":
		return sink.NewSlackSender(s.WebhookURL, s.Template)
	case "teams":
		return sink.NewTeamsSender(s.WebhookURL, s.Template)
	case "webhook":
		return sink.NewWebhookSender(s.URL, s.Method, s.Template, nil)
	default:
		return nil, fmt.Errorf("unsupported sink type: %s", s.Type)
	}
}
