package main

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/devblac/payout-reconciler/internal/config"
	"github.com/devblac/payout-reconciler/internal/storage"
	"github.com/devblac/payout-reconciler/internal/units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var flagHistoryLimit int

// plainStyle renders a borderless table suitable for piping.
var plainStyle = table.Style{
	Name:   "plain",
	Box:    table.StyleBoxDefault,
	Color:  table.ColorOptionsDefault,
	Format: table.FormatOptionsDefault,
	HTML:   table.DefaultHTMLOptions,
	Options: table.Options{
		DrawBorder:      false,
		SeparateColumns: false,
		SeparateFooter:  false,
		SeparateHeader:  false,
		SeparateRows:    false,
	},
	Title: table.TitleOptionsDefault,
}

func init() {
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "Number of runs to show (0 for all)")
}

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded reconciliation runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			run, ok, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("run %s not found", args[0])
			}
			printRun(out, run)
			return nil
		}

		runs, err := store.ListRuns(cmd.Context(), flagHistoryLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "no runs recorded")
			return nil
		}
		tw := table.NewWriter()
		tw.SetOutputMirror(out)
		tw.SetStyle(plainStyle)
		tw.AppendHeader(table.Row{"run", "started", "status", "payouts", "events", "expected", "logged", "balance"})
		for _, r := range runs {
			tw.AppendRow(table.Row{
				r.ID, r.StartedAt.UTC().Format(time.RFC3339), r.Status, r.Payouts, r.Events,
				display(r.ExpectedBase, r.Decimals), display(r.LoggedBase, r.Decimals), display(r.BalanceBase, r.Decimals),
			})
		}
		tw.Render()
		return nil
	},
}

func openHistory() (*storage.Store, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Global.DBPath == "" {
		return nil, errors.New("global.db_path is not configured; no history is kept")
	}
	return storage.Open(cfg.Global.DBPath)
}

func printRun(w io.Writer, r storage.Run) {
	fmt.Fprintf(w, "run:       %s\n", r.ID)
	fmt.Fprintf(w, "status:    %s\n", r.Status)
	fmt.Fprintf(w, "chain:     %s\n", r.ChainID)
	fmt.Fprintf(w, "contract:  %s\n", r.PayoutContract)
	if r.Asset != "" {
		fmt.Fprintf(w, "asset:     %s\n", r.Asset)
	}
	if r.ToBlock != nil {
		fmt.Fprintf(w, "blocks:    %d..%d\n", r.FromBlock, *r.ToBlock)
	} else {
		fmt.Fprintf(w, "blocks:    %d..head\n", r.FromBlock)
	}
	fmt.Fprintf(w, "started:   %s\n", r.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "payouts:   %d expected %s\n", r.Payouts, display(r.ExpectedBase, r.Decimals))
	fmt.Fprintf(w, "events:    %d logged %s\n", r.Events, display(r.LoggedBase, r.Decimals))
	if r.BalanceBase != "" {
		fmt.Fprintf(w, "balance:   %s\n", display(r.BalanceBase, r.Decimals))
	}
	if r.Error != "" {
		fmt.Fprintf(w, "error:     %s\n", r.Error)
	}
	for _, d := range r.Discrepancies {
		fmt.Fprintf(w, "  %s expected %s logged %s\n", d.Recipient, display(d.ExpectedBase, r.Decimals), display(d.LoggedBase, r.Decimals))
	}
}

// display renders a stored base-unit string in token units.
func display(base string, decimals uint8) string {
	if base == "" {
		return "-"
	}
	v, ok := new(big.Int).SetString(base, 10)
	if !ok {
		return base
	}
	return units.Format(v, decimals)
}
