package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/devblac/payout-reconciler/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagExportFormat string
	flagExportOut    string
	flagExportLimit  int
)

func init() {
	exportCmd.Flags().StringVar(&flagExportFormat, "format", "csv", "Output format: csv or json")
	exportCmd.Flags().StringVarP(&flagExportOut, "out", "o", "", "Output file (default stdout)")
	exportCmd.Flags().IntVar(&flagExportLimit, "limit", 0, "Number of runs to export (0 for all)")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recorded runs as csv or json",
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(flagExportFormat)
		if format != "csv" && format != "json" {
			return fmt.Errorf("unsupported format %q (want csv or json)", flagExportFormat)
		}

		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListRuns(cmd.Context(), flagExportLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if flagExportOut != "" {
			f, err := os.Create(flagExportOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", flagExportOut, err)
			}
			defer f.Close()
			out = f
		}

		if format == "json" {
			return exportJSON(out, runs)
		}
		return exportCSV(out, runs)
	},
}

var csvHeader = []string{
	"id", "chain_id", "payout_contract", "asset", "from_block", "to_block", "payouts", "events",
	"expected_base", "logged_base", "balance_base", "decimals", "status", "error", "started_at", "finished_at",
}

func exportCSV(w io.Writer, runs []storage.Run) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range runs {
		to := ""
		if r.ToBlock != nil {
			to = strconv.FormatUint(*r.ToBlock, 10)
		}
		rec := []string{
			r.ID, r.ChainID, r.PayoutContract, r.Asset,
			strconv.FormatUint(r.FromBlock, 10), to,
			strconv.Itoa(r.Payouts), strconv.Itoa(r.Events),
			r.ExpectedBase, r.LoggedBase, r.BalanceBase,
			strconv.Itoa(int(r.Decimals)), r.Status, r.Error,
			r.StartedAt.UTC().Format(time.RFC3339), r.FinishedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type runJSON struct {
	ID             string  `json:"id"`
	ChainID        string  `json:"chain_id"`
	PayoutContract string  `json:"payout_contract"`
	Asset          string  `json:"asset,omitempty"`
	FromBlock      uint64  `json:"from_block"`
	ToBlock        *uint64 `json:"to_block,omitempty"`
	Payouts        int     `json:"payouts"`
	Events         int     `json:"events"`
	ExpectedBase   string  `json:"expected_base"`
	LoggedBase     string  `json:"logged_base"`
	BalanceBase    string  `json:"balance_base,omitempty"`
	Decimals       uint8   `json:"decimals"`
	Status         string  `json:"status"`
	Error          string  `json:"error,omitempty"`
	StartedAt      string  `json:"started_at"`
	FinishedAt     string  `json:"finished_at"`
}

func exportJSON(w io.Writer, runs []storage.Run) error {
	out := make([]runJSON, 0, len(runs))
	for _, r := range runs {
		out = append(out, runJSON{
			ID:             r.ID,
			ChainID:        r.ChainID,
			PayoutContract: r.PayoutContract,
			Asset:          r.Asset,
			FromBlock:      r.FromBlock,
			ToBlock:        r.ToBlock,
			Payouts:        r.Payouts,
			Events:         r.Events,
			ExpectedBase:   r.ExpectedBase,
			LoggedBase:     r.LoggedBase,
			BalanceBase:    r.BalanceBase,
			Decimals:       r.Decimals,
			Status:         r.Status,
			Error:          r.Error,
			StartedAt:      r.StartedAt.UTC().Format(time.RFC3339),
			FinishedAt:     r.FinishedAt.UTC().Format(time.RFC3339),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
