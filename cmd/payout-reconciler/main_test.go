package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/devblac/payout-reconciler/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	payoutContract = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	daiToken       = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	alice          = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bob            = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

var resettable = []string{"force", "manifest", "from", "to", "dry-run", "no-history", "limit", "format", "out"}

// execute runs the root command with fresh flag state.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, c := range rootCmd.Commands() {
		for _, name := range resettable {
			if f := c.Flags().Lookup(name); f != nil {
				_ = f.Value.Set(f.DefValue)
				f.Changed = false
			}
		}
	}
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// rpcNode answers the handful of JSON-RPC methods the reconciler uses.
type rpcNode struct {
	mu      sync.Mutex
	logs    []map[string]any
	balance *big.Int
	calls   map[string]int
}

func newRPCNode(balance *big.Int, payouts ...payout) *rpcNode {
	ev := chain.PayoutsABI().Events["PayoutAdded"]
	n := &rpcNode{balance: balance, calls: map[string]int{}}
	for i, p := range payouts {
		data, err := ev.Inputs.Pack(p.recipient, p.amount)
		if err != nil {
			panic(err)
		}
		n.logs = append(n.logs, map[string]any{
			"address":          payoutContract.Hex(),
			"topics":           []string{ev.ID.Hex()},
			"data":             hexutil.Encode(data),
			"blockNumber":      hexutil.EncodeUint64(uint64(10 + i)),
			"transactionHash":  common.BigToHash(big.NewInt(int64(i + 1))).Hex(),
			"transactionIndex": "0x0",
			"blockHash":        common.BigToHash(big.NewInt(int64(100 + i))).Hex(),
			"logIndex":         "0x0",
			"removed":          false,
		})
	}
	return n
}

type payout struct {
	recipient common.Address
	amount    *big.Int
}

func (n *rpcNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.calls[req.Method]++
	n.mu.Unlock()

	var result any
	switch req.Method {
	case "eth_chainId":
		result = "0x7a69"
	case "eth_blockNumber":
		result = "0x64"
	case "eth_getLogs":
		result = n.logs
	case "eth_call":
		var call struct {
			Input hexutil.Bytes `json:"input"`
			Data  hexutil.Bytes `json:"data"`
		}
		if len(req.Params) > 0 {
			_ = json.Unmarshal(req.Params[0], &call)
		}
		input := call.Input
		if len(input) == 0 {
			input = call.Data
		}
		out, err := n.call(input)
		if err != nil {
			writeRPC(w, req.ID, nil, err)
			return
		}
		result = hexutil.Bytes(out)
	default:
		writeRPC(w, req.ID, nil, fmt.Errorf("method %s not supported", req.Method))
		return
	}
	writeRPC(w, req.ID, result, nil)
}

func (n *rpcNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *rpcNode) call(input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("short call data")
	}
	balanceOf := chain.ERC20ABI().Methods["balanceOf"]
	dai := chain.PayoutsABI().Methods["dai"]
	switch {
	case bytes.Equal(input[:4], balanceOf.ID):
		return balanceOf.Outputs.Pack(n.balance)
	case bytes.Equal(input[:4], dai.ID):
		return dai.Outputs.Pack(daiToken)
	}
	return nil, fmt.Errorf("unknown selector %x", input[:4])
}

func writeRPC(w http.ResponseWriter, id json.RawMessage, result any, err error) {
	resp := map[string]any{"jsonrpc": "2.0", "id": id}
	if err != nil {
		resp["error"] = map[string]any{"code": -32000, "message": err.Error()}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// project writes a manifest and config pointing at rpcURL and returns the
// config path.
func project(t *testing.T, rpcURL, extra string) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "payouts.json"), fmt.Sprintf(`[
  {"recipient": %q, "amount": %q},
  {"recipient": %q, "amount": %q}
]`, alice.Hex(), tokens(100).String(), bob.Hex(), tokens(250).String()))

	cfg := fmt.Sprintf(`version: 1
global:
  db_path: ./history.db
  metrics_file: ./reconciler.prom
network:
  rpc_url: %s
payouts:
  manifest: ./payouts.json
  contract: %q
  from_block: 0
token:
  symbol: DAI
%s`, rpcURL, payoutContract.Hex(), extra)
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, cfg)
	return path
}

func startNode(t *testing.T, n *rpcNode) string {
	t.Helper()
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)
	return srv.URL
}
