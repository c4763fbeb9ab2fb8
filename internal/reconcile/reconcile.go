package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/devblac/payout-reconciler/internal/chain"
	"github.com/devblac/payout-reconciler/internal/manifest"
	"github.com/devblac/payout-reconciler/internal/units"
	"github.com/ethereum/go-ethereum/common"
)

// tokenGetter is the payout contract view returning the payout token.
const tokenGetter = "dai"

// Chain is the node capability the reconciler needs: events by name and
// block range, and read-only view calls. *chain.Node satisfies it.
type Chain interface {
	Events(ctx context.Context, c chain.Contract, name string, from uint64, to *uint64) ([]chain.Event, error)
	Call(ctx context.Context, c chain.Contract, method string, args ...any) ([]any, error)
}

// Config describes the payout contract, token and manifest to reconcile.
type Config struct {
	Manifest  string
	Payouts   chain.Contract
	Event     string
	FromBlock uint64
	// ToBlock nil means the chain head.
	ToBlock *uint64
	// Token with a zero address is resolved through the payout contract.
	Token    chain.Contract
	Decimals uint8
	Symbol   string
}

// Result summarises a run. Balance is nil when the totals did not match.
type Result struct {
	Status        Status
	Token         common.Address
	PayoutCount   int
	EventCount    int
	Expected      units.Amount
	Logged        units.Amount
	Discrepancies []Discrepancy
	Balance       *BalanceReport
}

// Reconciler runs the verification pipeline for one payout contract.
type Reconciler struct {
	chain Chain
	cfg   Config
	out   printer
	log   *slog.Logger
	load  func(path string) ([]manifest.Payout, error)
}

// New builds a reconciler. The report is written to out.
func New(c Chain, cfg Config, out io.Writer, log *slog.Logger) *Reconciler {
	if cfg.Event == "" {
		cfg.Event = "PayoutAdded"
	}
	if cfg.Symbol == "" {
		cfg.Symbol = "DAI"
	}
	if out == nil {
		out = io.Discard
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconciler{
		chain: c,
		cfg:   cfg,
		out:   printer{w: out, symbol: cfg.Symbol},
		log:   log,
		load:  manifest.Load,
	}
}

// Run loads the manifest, verifies it against the on-chain events and then
// reports the contract's balance position. A totals mismatch returns the
// partial result together with a *MismatchError.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	payouts, err := r.load(r.cfg.Manifest)
	if err != nil {
		return nil, err
	}
	expected := SumExpected(payouts, r.cfg.Decimals)
	r.log.Info("manifest loaded", "path", r.cfg.Manifest, "payouts", len(payouts), "total", expected.String())

	events, err := r.FetchPayoutEvents(ctx)
	if err != nil {
		return nil, err
	}
	logged := SumLogged(events, r.cfg.Decimals)
	r.log.Info("payout events fetched", "event", r.cfg.Event, "from_block", r.cfg.FromBlock, "events", len(events), "total", logged.String())

	res := &Result{
		PayoutCount: len(payouts),
		EventCount:  len(events),
		Expected:    expected,
		Logged:      logged,
	}

	if err := VerifyTotals(expected, logged); err != nil {
		var mm *MismatchError
		if errors.As(err, &mm) {
			res.Status = StatusMismatch
			res.Discrepancies = Diff(payouts, events)
			r.out.mismatch(mm, res.Discrepancies, r.cfg.Decimals)
		}
		return res, err
	}
	r.out.totalsOK()

	token, err := r.ResolveToken(ctx)
	if err != nil {
		return res, err
	}
	res.Token = token.Address

	balance, err := r.FetchTokenBalance(ctx, token, r.cfg.Payouts.Address)
	if err != nil {
		return res, err
	}

	report := CompareBalance(balance, logged)
	res.Balance = &report
	res.Status = report.Status
	r.out.balance(report)
	r.log.Info("balance compared", "status", string(report.Status), "balance", balance.String(), "required", logged.String())
	return res, nil
}

// FetchPayoutEvents returns every payout event from the configured start block.
func (r *Reconciler) FetchPayoutEvents(ctx context.Context) ([]PayoutEvent, error) {
	raw, err := r.chain.Events(ctx, r.cfg.Payouts, r.cfg.Event, r.cfg.FromBlock, r.cfg.ToBlock)
	if err != nil {
		return nil, fmt.Errorf("fetch %s events: %w", r.cfg.Event, err)
	}
	out := make([]PayoutEvent, 0, len(raw))
	for _, ev := range raw {
		p, err := payoutEventFrom(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// FetchTokenBalance reads token.balanceOf(holder).
func (r *Reconciler) FetchTokenBalance(ctx context.Context, token chain.Contract, holder common.Address) (units.Amount, error) {
	vals, err := r.chain.Call(ctx, token, "balanceOf", holder)
	if err != nil {
		return units.Amount{}, fmt.Errorf("fetch balance: %w", err)
	}
	if len(vals) == 0 {
		return units.Amount{}, errors.New("fetch balance: balanceOf returned no value")
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return units.Amount{}, fmt.Errorf("fetch balance: unexpected balanceOf result %T", vals[0])
	}
	return units.New(v, r.cfg.Decimals), nil
}

// ResolveToken returns the configured token, or asks the payout contract
// for it when no address was configured.
func (r *Reconciler) ResolveToken(ctx context.Context) (chain.Contract, error) {
	token := r.cfg.Token
	if token.Address != (common.Address{}) {
		return token, nil
	}
	vals, err := r.chain.Call(ctx, r.cfg.Payouts, tokenGetter)
	if err != nil {
		return token, fmt.Errorf("resolve payout token: %w", err)
	}
	if len(vals) == 0 {
		return token, errors.New("resolve payout token: empty result")
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return token, fmt.Errorf("resolve payout token: unexpected result %T", vals[0])
	}
	token.Address = addr
	r.log.Debug("payout token resolved", "asset", addr.Hex())
	return token, nil
}
