package chain

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	payoutAddr = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	tokenAddr  = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

type fakeBackend struct {
	head     uint64
	logs     []types.Log
	queries  []ethereum.FilterQuery
	calls    []ethereum.CallMsg
	callOut  []byte
	filterEr error
	callErr  error
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(31337), nil }

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.queries = append(f.queries, q)
	if f.filterEr != nil {
		return nil, f.filterEr
	}
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls = append(f.calls, msg)
	return f.callOut, f.callErr
}

func payoutLog(t *testing.T, block uint64, recipient common.Address, amount *big.Int) types.Log {
	t.Helper()
	ev := PayoutsABI().Events["PayoutAdded"]
	data, err := ev.Inputs.NonIndexed().Pack(recipient, amount)
	if err != nil {
		t.Fatalf("pack log: %v", err)
	}
	return types.Log{
		Address:     payoutAddr,
		Topics:      []common.Hash{ev.ID},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
	}
}

func TestEventsDecodesPayoutAdded(t *testing.T) {
	alice := common.HexToAddress("0x0000000000000000000000000000000000000001")
	fb := &fakeBackend{
		head: 10,
		logs: []types.Log{payoutLog(t, 3, alice, big.NewInt(1000))},
	}
	n := NewNode(fb)

	evs, err := n.Events(context.Background(), Contract{Address: payoutAddr, ABI: PayoutsABI()}, "PayoutAdded", 0, nil)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if got := evs[0].Args["recipient"].(common.Address); got != alice {
		t.Fatalf("recipient = %s", got.Hex())
	}
	if got := evs[0].Args["amount"].(*big.Int); got.Int64() != 1000 {
		t.Fatalf("amount = %s", got)
	}
	if evs[0].BlockNumber != 3 {
		t.Fatalf("block = %d", evs[0].BlockNumber)
	}

	q := fb.queries[0]
	if q.FromBlock.Uint64() != 0 || q.ToBlock.Uint64() != 10 {
		t.Fatalf("unexpected range %s-%s", q.FromBlock, q.ToBlock)
	}
	if len(q.Addresses) != 1 || q.Addresses[0] != payoutAddr {
		t.Fatalf("unexpected addresses %v", q.Addresses)
	}
	if q.Topics[0][0] != PayoutsABI().Events["PayoutAdded"].ID {
		t.Fatalf("unexpected topic filter")
	}
}

func TestEventsSkipsRemovedAndForeignLogs(t *testing.T) {
	alice := common.HexToAddress("0x0000000000000000000000000000000000000001")
	removed := payoutLog(t, 2, alice, big.NewInt(1))
	removed.Removed = true
	foreign := payoutLog(t, 2, alice, big.NewInt(2))
	foreign.Address = tokenAddr

	fb := &fakeBackend{head: 5, logs: []types.Log{removed, foreign, payoutLog(t, 4, alice, big.NewInt(3))}}
	evs, err := NewNode(fb).Events(context.Background(), Contract{Address: payoutAddr, ABI: PayoutsABI()}, "PayoutAdded", 0, nil)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 1 || evs[0].Args["amount"].(*big.Int).Int64() != 3 {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestEventsChunksRange(t *testing.T) {
	alice := common.HexToAddress("0x0000000000000000000000000000000000000001")
	fb := &fakeBackend{
		head: 25,
		logs: []types.Log{
			payoutLog(t, 5, alice, big.NewInt(1)),
			payoutLog(t, 10, alice, big.NewInt(2)),
			payoutLog(t, 11, alice, big.NewInt(3)),
			payoutLog(t, 25, alice, big.NewInt(4)),
		},
	}
	n := NewNode(fb, WithMaxBlockSpan(10))

	evs, err := n.Events(context.Background(), Contract{Address: payoutAddr, ABI: PayoutsABI()}, "PayoutAdded", 1, nil)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 4 {
		t.Fatalf("expected 4 events, got %d", len(evs))
	}
	if len(fb.queries) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(fb.queries))
	}
	last := fb.queries[2]
	if last.FromBlock.Uint64() != 21 || last.ToBlock.Uint64() != 25 {
		t.Fatalf("unexpected last window %s-%s", last.FromBlock, last.ToBlock)
	}
}

func TestWindows(t *testing.T) {
	tests := []struct {
		from, to, span uint64
		want           [][2]uint64
	}{
		{0, 10, 0, [][2]uint64{{0, 10}}},
		{0, 9, 5, [][2]uint64{{0, 4}, {5, 9}}},
		{0, 10, 5, [][2]uint64{{0, 4}, {5, 9}, {10, 10}}},
		{7, 7, 100, [][2]uint64{{7, 7}}},
		{^uint64(0) - 1, ^uint64(0), 10, [][2]uint64{{^uint64(0) - 1, ^uint64(0)}}},
	}
	for _, tt := range tests {
		if got := windows(tt.from, tt.to, tt.span); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("windows(%d,%d,%d) = %v, want %v", tt.from, tt.to, tt.span, got, tt.want)
		}
	}
}

func TestEventsFromAfterHead(t *testing.T) {
	fb := &fakeBackend{head: 3}
	evs, err := NewNode(fb).Events(context.Background(), Contract{Address: payoutAddr, ABI: PayoutsABI()}, "PayoutAdded", 10, nil)
	if err != nil || len(evs) != 0 || len(fb.queries) != 0 {
		t.Fatalf("expected no query, got evs=%v err=%v queries=%d", evs, err, len(fb.queries))
	}
}

func TestEventsFilterRejected(t *testing.T) {
	fb := &fakeBackend{head: 3, filterEr: errors.New("query returned more than 10000 results")}
	_, err := NewNode(fb).Events(context.Background(), Contract{Address: payoutAddr, ABI: PayoutsABI()}, "PayoutAdded", 0, nil)
	var cerr *ConnectivityError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConnectivityError, got %v", err)
	}
}

func TestEventsUnknownEvent(t *testing.T) {
	_, err := NewNode(&fakeBackend{}).Events(context.Background(), Contract{Address: payoutAddr, ABI: ERC20ABI()}, "PayoutAdded", 0, nil)
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestCallBalanceOf(t *testing.T) {
	erc20 := ERC20ABI()
	want := new(big.Int).Mul(big.NewInt(210000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	out, err := erc20.Methods["balanceOf"].Outputs.Pack(want)
	if err != nil {
		t.Fatalf("pack output: %v", err)
	}
	fb := &fakeBackend{callOut: out}

	vals, err := NewNode(fb).Call(context.Background(), Contract{Address: tokenAddr, ABI: erc20}, "balanceOf", payoutAddr)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got := vals[0].(*big.Int); got.Cmp(want) != 0 {
		t.Fatalf("balance = %s", got)
	}

	msg := fb.calls[0]
	if msg.To == nil || *msg.To != tokenAddr {
		t.Fatalf("call sent to wrong address")
	}
	if !reflect.DeepEqual(msg.Data[:4], erc20.Methods["balanceOf"].ID) {
		t.Fatalf("unexpected selector %x", msg.Data[:4])
	}
}

func TestCallErrors(t *testing.T) {
	c := Contract{Address: tokenAddr, ABI: ERC20ABI()}

	_, err := NewNode(&fakeBackend{callErr: errors.New("execution reverted")}).Call(context.Background(), c, "balanceOf", payoutAddr)
	var cerr *ConnectivityError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConnectivityError on revert, got %v", err)
	}

	_, err = NewNode(&fakeBackend{}).Call(context.Background(), c, "balanceOf", payoutAddr)
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}

	_, err = NewNode(&fakeBackend{}).Call(context.Background(), c, "mint", payoutAddr)
	if !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestABIForEventPrefersLoadedABI(t *testing.T) {
	dir := t.TempDir()
	custom := `[{"type":"event","name":"PayoutAdded","inputs":[
		{"name":"recipient","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}
	]}]`
	if err := os.WriteFile(filepath.Join(dir, "payouts.json"), []byte(custom), 0o644); err != nil {
		t.Fatalf("write abi: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("not an abi"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}

	abis, err := LoadABIs([]string{dir, ""})
	if err != nil {
		t.Fatalf("load abis: %v", err)
	}
	if len(abis) != 1 {
		t.Fatalf("expected 1 abi, got %d", len(abis))
	}

	got := ABIForEvent(abis, "PayoutAdded", PayoutsABI())
	if !got.Events["PayoutAdded"].Inputs[0].Indexed {
		t.Fatalf("expected the loaded abi to win")
	}
	if ABIForMethod(abis, "balanceOf", ERC20ABI()).Methods["balanceOf"].Name != "balanceOf" {
		t.Fatalf("expected fallback erc20 abi")
	}
}

func TestDecodeIndexedRecipient(t *testing.T) {
	dir := t.TempDir()
	custom := `[{"type":"event","name":"PayoutAdded","inputs":[
		{"name":"recipient","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}
	]}]`
	path := filepath.Join(dir, "payouts.json")
	if err := os.WriteFile(path, []byte(custom), 0o644); err != nil {
		t.Fatalf("write abi: %v", err)
	}
	abis, err := LoadABIs([]string{dir})
	if err != nil {
		t.Fatalf("load abis: %v", err)
	}
	a := abis[path]
	ev := a.Events["PayoutAdded"]
	bob := common.HexToAddress("0x0000000000000000000000000000000000000002")
	data, _ := ev.Inputs.NonIndexed().Pack(big.NewInt(42))

	fb := &fakeBackend{head: 1, logs: []types.Log{{
		Address:     payoutAddr,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(common.LeftPadBytes(bob.Bytes(), 32))},
		Data:        data,
		BlockNumber: 1,
	}}}
	evs, err := NewNode(fb).Events(context.Background(), Contract{Address: payoutAddr, ABI: a}, "PayoutAdded", 0, nil)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if evs[0].Args["recipient"].(common.Address) != bob {
		t.Fatalf("recipient not decoded from topic")
	}
}
