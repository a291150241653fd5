// Package paper simulates a prediction-market portfolio: position lifecycle, fees, P&L and the
// drawdown breaker.
package paper

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"momentum-go/internal/execution"
	"momentum-go/internal/risk"
	"momentum-go/internal/signal"
)

// ErrRejected wraps every refused entry. Callers log it and carry on.
var ErrRejected = errors.New("entry rejected")

// positionNamespace seeds deterministic position ids so identical runs produce identical ledgers.
var positionNamespace = uuid.MustParse("6f1c9a52-3b0e-4d7e-9a55-8c1f0e2d4b7a")

// Position is an open holding.
type Position struct {
	ID         string          `json:"id"`
	Model      string          `json:"model"`
	Instrument string          `json:"instrument"`
	Side       signal.Side     `json:"side"`
	EntryPrice int64           `json:"entry_price"`
	Contracts  int64           `json:"contracts"`
	EntryCost  decimal.Decimal `json:"entry_cost"`
	EntryFee   decimal.Decimal `json:"entry_fee"`
	EntryTs    int64           `json:"entry_ts"`
}

// ClosedPosition is a finished round trip. Values are never mutated after close.
type ClosedPosition struct {
	Position
	ExitPrice int64           `json:"exit_price"`
	ExitTs    int64           `json:"exit_ts"`
	Reason    risk.ExitReason `json:"reason"`
	ExitFee   decimal.Decimal `json:"exit_fee"`
	Fees      decimal.Decimal `json:"fees"`
	PnL       decimal.Decimal `json:"pnl"`
}

// Summary is a point-in-time read of the portfolio.
type Summary struct {
	Balance     decimal.Decimal `json:"balance"`
	Peak        decimal.Decimal `json:"peak"`
	TotalPnL    decimal.Decimal `json:"total_pnl"`
	DrawdownPct decimal.Decimal `json:"drawdown_pct"`
	Open        int             `json:"open"`
	Closed      int             `json:"closed"`
	Halted      bool            `json:"halted"`
}

// Config bundles the risk knobs applied by the portfolio.
type Config struct {
	StartingBalanceCents decimal.Decimal
	Sizer                risk.Sizer
	Limits               risk.Limits
	Exits                risk.ExitRules
	CooldownSec          int64
}

// Portfolio tracks balance, open and closed positions. It is owned by the single decision loop
// and is not safe for concurrent mutation.
type Portfolio struct {
	cfg      Config
	exec     *execution.Executor
	ledger   *Ledger
	sinks    []Recorder
	starting decimal.Decimal
	balance  decimal.Decimal
	peak     decimal.Decimal
	open     []Position
	lastExit map[string]int64
	halted   bool
	seq      uint64
}

// NewPortfolio constructs a portfolio funded with cfg.StartingBalanceCents.
func NewPortfolio(cfg Config, exec *execution.Executor, sinks ...Recorder) *Portfolio {
	return &Portfolio{
		cfg:      cfg,
		exec:     exec,
		ledger:   NewLedger(64),
		sinks:    sinks,
		starting: cfg.StartingBalanceCents,
		balance:  cfg.StartingBalanceCents,
		peak:     cfg.StartingBalanceCents,
		lastExit: make(map[string]int64),
	}
}

// CanEnter reports whether a new position on instrument is allowed at now.
func (p *Portfolio) CanEnter(instrument string, closeTs, noEntryBufferMin, now int64) bool {
	if p.halted {
		return false
	}
	if closeTs > 0 && now >= closeTs-noEntryBufferMin*60 {
		return false
	}
	if last, ok := p.lastExit[instrument]; ok && p.cfg.CooldownSec > 0 && now-last < p.cfg.CooldownSec {
		return false
	}
	return true
}

// OpenPosition sizes and opens a position at price. Refusals wrap ErrRejected.
func (p *Portfolio) OpenPosition(model, instrument string, side signal.Side, price, now int64) (Position, error) {
	switch {
	case instrument == "":
		return Position{}, fmt.Errorf("%w: empty instrument", ErrRejected)
	case price <= 0 || price >= 100:
		return Position{}, fmt.Errorf("%w: price %d outside (0,100)", ErrRejected, price)
	case !side.Valid():
		return Position{}, fmt.Errorf("%w: unknown side %q", ErrRejected, side)
	case p.halted:
		return Position{}, fmt.Errorf("%w: portfolio halted", ErrRejected)
	}
	for _, pos := range p.open {
		if pos.Model == model && pos.Instrument == instrument {
			return Position{}, fmt.Errorf("%w: %s already holds %s", ErrRejected, model, instrument)
		}
	}
	if !p.cfg.Limits.AllowOpen(len(p.open)) {
		return Position{}, fmt.Errorf("%w: max open positions %d", ErrRejected, p.cfg.Limits.MaxOpenPositions)
	}
	contracts := p.cfg.Sizer.Contracts(price)
	if contracts <= 0 {
		return Position{}, fmt.Errorf("%w: sized to zero contracts at %dc", ErrRejected, price)
	}
	cost := decimal.NewFromInt(collateral(side, price) * contracts)
	fee := p.exec.Fees().Fee(execution.Taker, price, contracts)
	if cost.Add(fee).GreaterThan(p.Free()) {
		return Position{}, fmt.Errorf("%w: insufficient balance for %s", ErrRejected, cost.Add(fee))
	}

	p.seq++
	pos := Position{
		ID:         uuid.NewSHA1(positionNamespace, []byte(fmt.Sprintf("%s|%s|%d|%d", model, instrument, now, p.seq))).String(),
		Model:      model,
		Instrument: instrument,
		Side:       side,
		EntryPrice: price,
		Contracts:  contracts,
		EntryCost:  cost,
		EntryTs:    now,
	}
	fill, err := p.exec.Submit(execution.Order{
		PositionID: pos.ID, Model: model, Instrument: instrument, Side: side,
		Leg: execution.Entry, Price: price, Contracts: contracts, Ts: now,
	})
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	pos.EntryFee = fill.Fee
	p.open = append(p.open, pos)
	return pos, nil
}

// CheckExits closes the instrument's positions whose exit rule fires at lastPrice. Rules are
// evaluated in priority order and each position closes at most once per call.
func (p *Portfolio) CheckExits(lastPrice, closeTs, forceExitBufferMin int64, instrument string, now int64) []ClosedPosition {
	if lastPrice <= 0 {
		return nil
	}
	rules := p.cfg.Exits
	rules.ForceExitBufferSec = forceExitBufferMin * 60
	var closed []ClosedPosition
	kept := p.open[:0]
	for _, pos := range p.open {
		if pos.Instrument != instrument {
			kept = append(kept, pos)
			continue
		}
		reason, ok := rules.Check(risk.Holding{Side: pos.Side, Entry: pos.EntryPrice, EntryTs: pos.EntryTs, CloseTs: closeTs}, lastPrice, now)
		if !ok {
			kept = append(kept, pos)
			continue
		}
		closed = append(closed, p.close(pos, lastPrice, now, reason))
	}
	p.open = kept
	return closed
}

// CloseAll force-closes every open position at the supplied marks, used at the end of a run.
// Instruments with no mark are closed at their entry price.
func (p *Portfolio) CloseAll(marks map[string]int64, now int64, reason risk.ExitReason) []ClosedPosition {
	var closed []ClosedPosition
	for _, pos := range p.open {
		px := marks[pos.Instrument]
		if px <= 0 {
			px = pos.EntryPrice
		}
		closed = append(closed, p.close(pos, px, now, reason))
	}
	p.open = p.open[:0]
	return closed
}

func (p *Portfolio) close(pos Position, price, now int64, reason risk.ExitReason) ClosedPosition {
	exitFee := p.exec.Fees().Fee(execution.Taker, price, pos.Contracts)
	if fill, err := p.exec.Submit(execution.Order{
		PositionID: pos.ID, Model: pos.Model, Instrument: pos.Instrument, Side: pos.Side.Opposite(),
		Leg: execution.Exit, Price: price, Contracts: pos.Contracts, Ts: now,
	}); err == nil {
		exitFee = fill.Fee
	}
	fees := pos.EntryFee.Add(exitFee)
	gross := decimal.NewFromInt(pos.Side.Sign() * (price - pos.EntryPrice) * pos.Contracts)
	cp := ClosedPosition{
		Position:  pos,
		ExitPrice: price,
		ExitTs:    now,
		Reason:    reason,
		ExitFee:   exitFee,
		Fees:      fees,
		PnL:       gross.Sub(fees),
	}
	p.balance = p.balance.Add(cp.PnL)
	if p.balance.GreaterThan(p.peak) {
		p.peak = p.balance
	}
	if !p.halted && p.cfg.Limits.Breached(p.peak, p.balance) {
		p.halted = true
	}
	p.lastExit[pos.Instrument] = now
	p.ledger.Record(cp)
	for _, sink := range p.sinks {
		sink.Record(cp)
	}
	return cp
}

// Free returns balance not committed to open positions.
func (p *Portfolio) Free() decimal.Decimal {
	free := p.balance
	for _, pos := range p.open {
		free = free.Sub(pos.EntryCost).Sub(pos.EntryFee)
	}
	return free
}

// Halted reports whether the drawdown breaker has tripped. Once set it stays set.
func (p *Portfolio) Halted() bool { return p.halted }

// Open returns a copy of the open positions in entry order.
func (p *Portfolio) Open() []Position {
	out := make([]Position, len(p.open))
	copy(out, p.open)
	return out
}

// Ledger exposes the closed-position ledger.
func (p *Portfolio) Ledger() *Ledger { return p.ledger }

// Summary reads the current totals without mutating anything.
func (p *Portfolio) Summary() Summary {
	return Summary{
		Balance:     p.balance,
		Peak:        p.peak,
		TotalPnL:    p.balance.Sub(p.starting),
		DrawdownPct: risk.DrawdownPct(p.peak, p.balance),
		Open:        len(p.open),
		Closed:      p.ledger.Len(),
		Halted:      p.halted,
	}
}

// collateral is the per-contract cost: YES at price for longs, NO at 100-price for shorts.
func collateral(side signal.Side, price int64) int64 {
	if side == signal.Short {
		return 100 - price
	}
	return price
}
