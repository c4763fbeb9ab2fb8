package reconcile

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/devblac/payout-reconciler/internal/chain"
	"github.com/devblac/payout-reconciler/internal/manifest"
	"github.com/devblac/payout-reconciler/internal/units"
	"github.com/ethereum/go-ethereum/common"
)

// PayoutEvent is a decoded PayoutAdded log.
type PayoutEvent struct {
	Recipient   common.Address
	Amount      *big.Int
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

func payoutEventFrom(ev chain.Event) (PayoutEvent, error) {
	recipient, ok := ev.Args["recipient"].(common.Address)
	if !ok {
		return PayoutEvent{}, fmt.Errorf("%s log %s#%d: missing recipient", ev.Name, ev.TxHash.Hex(), ev.LogIndex)
	}
	amount, ok := ev.Args["amount"].(*big.Int)
	if !ok || amount == nil {
		return PayoutEvent{}, fmt.Errorf("%s log %s#%d: missing amount", ev.Name, ev.TxHash.Hex(), ev.LogIndex)
	}
	return PayoutEvent{
		Recipient:   recipient,
		Amount:      new(big.Int).Set(amount),
		BlockNumber: ev.BlockNumber,
		TxHash:      ev.TxHash,
		LogIndex:    ev.LogIndex,
	}, nil
}

// SumExpected totals the manifest. An empty manifest sums to zero.
func SumExpected(payouts []manifest.Payout, decimals uint8) units.Amount {
	sum := new(big.Int)
	for _, p := range payouts {
		if p.Amount != nil {
			sum.Add(sum, p.Amount)
		}
	}
	return units.New(sum, decimals)
}

// SumLogged totals the on-chain payout events.
func SumLogged(events []PayoutEvent, decimals uint8) units.Amount {
	sum := new(big.Int)
	for _, e := range events {
		if e.Amount != nil {
			sum.Add(sum, e.Amount)
		}
	}
	return units.New(sum, decimals)
}

// MismatchError is the fatal outcome of VerifyTotals.
type MismatchError struct {
	Expected units.Amount
	Logged   units.Amount
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("total payout amount in the contract does not equal the expected value (expected %s, logged %s)", e.Expected, e.Logged)
}

// Difference is logged minus expected.
func (e *MismatchError) Difference() units.Amount {
	return e.Logged.Sub(e.Expected)
}

// Direction describes which side is larger, e.g.
// "on-chain total is short of expected by 200".
func (e *MismatchError) Direction() string {
	d := e.Difference()
	if d.Sign() > 0 {
		return fmt.Sprintf("on-chain total exceeds expected by %s", d)
	}
	return fmt.Sprintf("on-chain total is short of expected by %s", d.Abs())
}

// VerifyTotals returns a *MismatchError unless both totals are equal.
func VerifyTotals(expected, logged units.Amount) error {
	if expected.Equal(logged) {
		return nil
	}
	return &MismatchError{Expected: expected, Logged: logged}
}

// Discrepancy is a recipient whose expected and logged sums differ.
type Discrepancy struct {
	Recipient common.Address
	Expected  *big.Int
	Logged    *big.Int
}

// Diff lists recipients whose per-recipient totals differ, ordered by address.
// Recipients appearing on only one side are reported with zero on the other.
func Diff(payouts []manifest.Payout, events []PayoutEvent) []Discrepancy {
	expected := map[common.Address]*big.Int{}
	for _, p := range payouts {
		addTo(expected, p.Recipient, p.Amount)
	}
	logged := map[common.Address]*big.Int{}
	for _, e := range events {
		addTo(logged, e.Recipient, e.Amount)
	}

	seen := map[common.Address]struct{}{}
	out := []Discrepancy{}
	check := func(addr common.Address) {
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		exp, lg := valueOr0(expected[addr]), valueOr0(logged[addr])
		if exp.Cmp(lg) != 0 {
			out = append(out, Discrepancy{Recipient: addr, Expected: exp, Logged: lg})
		}
	}
	for addr := range expected {
		check(addr)
	}
	for addr := range logged {
		check(addr)
	}

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Recipient[:], out[j].Recipient[:]) < 0
	})
	return out
}

func addTo(m map[common.Address]*big.Int, addr common.Address, v *big.Int) {
	if v == nil {
		return
	}
	cur, ok := m[addr]
	if !ok {
		cur = new(big.Int)
		m[addr] = cur
	}
	cur.Add(cur, v)
}

func valueOr0(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
