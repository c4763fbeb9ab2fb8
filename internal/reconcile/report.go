package reconcile

import (
	"fmt"
	"io"
	"strings"

	"github.com/devblac/payout-reconciler/internal/units"
)

var border = strings.TrimSpace(strings.Repeat("* ", 43))

// printer writes the human-readable report. Write errors are ignored the way
// fmt.Println output is; the report is best effort, the returned error is not.
type printer struct {
	w      io.Writer
	symbol string
}

func (p printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p printer) totalsOK() {
	p.line("Total payout amount in the contract is the expected value")
}

func (p printer) mismatch(err *MismatchError, diffs []Discrepancy, decimals uint8) {
	p.line("")
	p.line("%s", border)
	p.line("Total %s payout amount in the contract does not equal the expected value!", p.symbol)
	p.line("  Total expected amount:   %s", err.Expected)
	p.line("  Total amount from logs:  %s", err.Logged)
	p.line("  The %s %s", err.Direction(), p.symbol)
	if len(diffs) > 0 {
		p.line("  Recipients with differing amounts (%d):", len(diffs))
		for _, d := range diffs {
			p.line("    %s expected %s, logged %s",
				d.Recipient.Hex(), units.Format(d.Expected, decimals), units.Format(d.Logged, decimals))
		}
	}
	p.line("%s", border)
	p.line("")
}

func (p printer) balance(r BalanceReport) {
	p.line("")
	p.line("%s", border)
	switch r.Status {
	case StatusExact:
		p.line("Contract balance of %s %s is exactly equal to the required amount", r.Current, p.symbol)
	case StatusShortfall:
		p.line("Contract %s balance is insufficient", p.symbol)
		p.line("  Required balance:  %s", r.Required)
		p.line("  Current balance:   %s", r.Current)
		p.line("  Extra %s needed:   %s", p.symbol, r.Delta)
		p.line("")
		p.line(" Contract needs another %s %s", r.Delta, p.symbol)
	case StatusSurplus:
		p.line("Contract has excess %s balance", p.symbol)
		p.line("  Required balance:  %s", r.Required)
		p.line("  Current balance:   %s", r.Current)
		p.line("  Excess %s amount:  %s", p.symbol, r.Delta)
		p.line("")
		p.line(" Contract has an excess of %s %s", r.Delta, p.symbol)
	}
	p.line("%s", border)
	p.line("")
}
