package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var flagForce bool

func init() {
	initCmd.Flags().BoolVar(&flagForce, "force", false, "Overwrite existing files")
}

// Addresses are the deterministic hardhat localhost deployments.
const sampleConfig = `version: 1

global:
  db_path: ./reconciler.db
  metrics_file: ""

network:
  rpc_url: ${RPC_URL}
  max_block_span: 5000

payouts:
  manifest: ./payouts.json
  contract: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
  event: PayoutAdded
  from_block: 0

token:
  address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  symbol: DAI
  decimals: 18

abi_dirs: []

sinks: []
#  - id: ops
#    type: slack
#    webhook_url: ${SLACK_WEBHOOK_URL}
#    notify_on: [shortfall, mismatch, error]
`

const sampleEnv = `RPC_URL=ws://127.0.0.1:8545/
`

const sampleManifest = `[
  {"recipient": "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", "amount": "100000000000000000000"},
  {"recipient": "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC", "amount": "250000000000000000000"}
]
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a sample config, .env and payout manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		dir := filepath.Dir(cfgPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}

		files := []struct {
			path string
			body string
		}{
			{cfgPath, sampleConfig},
			{filepath.Join(dir, ".env"), sampleEnv},
			{filepath.Join(dir, "payouts.json"), sampleManifest},
		}
		for _, f := range files {
			if err := writeScaffold(f.path, f.body, flagForce); err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote %s\n", f.path)
		}
		return nil
	},
}

func writeScaffold(path, body string, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := f.WriteString(body); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
