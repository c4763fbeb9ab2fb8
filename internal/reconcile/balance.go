package reconcile

import "github.com/devblac/payout-reconciler/internal/units"

// Status is the outcome of a reconciliation run.
type Status string

const (
	StatusExact     Status = "match"
	StatusShortfall Status = "shortfall"
	StatusSurplus   Status = "surplus"
	StatusMismatch  Status = "mismatch"
)

// BalanceReport compares the contract's token balance with what it owes.
// Delta is zero for an exact match, otherwise the positive gap.
type BalanceReport struct {
	Status   Status
	Required units.Amount
	Current  units.Amount
	Delta    units.Amount
}

// CompareBalance never fails; a shortfall is reported, not raised.
func CompareBalance(balance, required units.Amount) BalanceReport {
	r := BalanceReport{
		Required: required,
		Current:  balance,
		Delta:    units.Zero(required.Decimals()),
	}
	switch balance.Cmp(required) {
	case 0:
		r.Status = StatusExact
	case -1:
		r.Status = StatusShortfall
		r.Delta = required.Sub(balance)
	default:
		r.Status = StatusSurplus
		r.Delta = balance.Sub(required)
	}
	return r
}
