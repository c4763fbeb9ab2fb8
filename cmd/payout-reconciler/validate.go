package main

import (
	"context"
	"fmt"
	"time"

	"github.com/devblac/payout-reconciler/internal/chain"
	"github.com/devblac/payout-reconciler/internal/config"
	"github.com/devblac/payout-reconciler/internal/manifest"
	"github.com/devblac/payout-reconciler/internal/reconcile"
	"github.com/devblac/payout-reconciler/internal/storage"
	"github.com/spf13/cobra"
)

const defaultDialTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config, manifest and ABIs, and ping the node",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d)\n", cfg.Version)

		failures := 0
		check := func(name string, fn func() (string, error)) {
			detail, err := fn()
			if err != nil {
				failures++
				fmt.Fprintf(out, "- %s: ERROR %v\n", name, err)
				return
			}
			fmt.Fprintf(out, "- %s: %s OK\n", name, detail)
		}

		check("manifest", func() (string, error) {
			payouts, err := manifest.Load(cfg.Payouts.Manifest)
			if err != nil {
				return "", err
			}
			total := reconcile.SumExpected(payouts, *cfg.Token.Decimals)
			return fmt.Sprintf("%d payouts totalling %s %s", len(payouts), total, cfg.Token.Symbol), nil
		})

		check("abi", func() (string, error) {
			if _, err := buildReconcileConfig(cfg); err != nil {
				return "", err
			}
			return fmt.Sprintf("event %s", cfg.Payouts.Event), nil
		})

		check("node", func() (string, error) {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultDialTimeout)
			defer cancel()
			return pingNode(ctx, cfg.Network.RPCURL)
		})

		if cfg.Global.DBPath != "" {
			check("history", func() (string, error) {
				store, err := storage.Open(cfg.Global.DBPath)
				if err != nil {
					return "", err
				}
				defer store.Close()
				if err := store.Ping(cmd.Context()); err != nil {
					return "", err
				}
				return cfg.Global.DBPath, nil
			})
		}

		for _, s := range cfg.Sinks {
			check("sink "+s.ID, func() (string, error) {
				if _, err := newSender(s); err != nil {
					return "", err
				}
				return s.Type, nil
			})
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d check(s) failed", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

func pingNode(ctx context.Context, url string) (string, error) {
	node, err := chain.Dial(ctx, url)
	if err != nil {
		return "", err
	}
	defer node.Close()

	id, err := node.ChainID(ctx)
	if err != nil {
		return "", err
	}
	head, err := node.Head(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("chainId %s head %d", id, head), nil
}
