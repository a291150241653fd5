// Package risk holds position sizing, exit rules and the drawdown breaker.
package risk

import (
	"github.com/shopspring/decimal"

	"momentum-go/internal/signal"
)

// Limits caps exposure across the whole portfolio.
type Limits struct {
	MaxOpenPositions int
	// DrawdownHaltPct halts new entries once (peak-balance)/peak*100 reaches it. Zero disables.
	DrawdownHaltPct decimal.Decimal
}

// AllowOpen reports whether another position fits under the open cap.
func (l Limits) AllowOpen(open int) bool {
	if l.MaxOpenPositions <= 0 {
		return true
	}
	return open < l.MaxOpenPositions
}

// Breached reports whether the drawdown from peak trips the halt.
func (l Limits) Breached(peak, balance decimal.Decimal) bool {
	if !l.DrawdownHaltPct.IsPositive() {
		return false
	}
	return DrawdownPct(peak, balance).GreaterThanOrEqual(l.DrawdownHaltPct)
}

// DrawdownPct returns (peak-balance)/peak*100, floored at zero.
func DrawdownPct(peak, balance decimal.Decimal) decimal.Decimal {
	if !peak.IsPositive() || balance.GreaterThanOrEqual(peak) {
		return decimal.Zero
	}
	return peak.Sub(balance).Div(peak).Mul(decimal.NewFromInt(100))
}

// Sizer converts a fixed notional per trade into a contract count.
type Sizer struct {
	TradeSizeCents decimal.Decimal
	MinContracts   int64
	MaxContracts   int64
}

// Contracts returns floor(tradeSize/price) clamped to [Min,Max]; zero when the price is unusable.
func (s Sizer) Contracts(price int64) int64 {
	if price <= 0 || !s.TradeSizeCents.IsPositive() {
		return 0
	}
	n := s.TradeSizeCents.Div(decimal.NewFromInt(price)).Floor().IntPart()
	if s.MinContracts > 0 && n < s.MinContracts {
		n = s.MinContracts
	}
	if s.MaxContracts > 0 && n > s.MaxContracts {
		n = s.MaxContracts
	}
	return n
}

// ExitReason names why a position was closed.
type ExitReason string

const (
	ExitMarketClose ExitReason = "market_close"
	ExitTakeProfit  ExitReason = "take_profit"
	ExitStopLoss    ExitReason = "stop_loss"
	ExitTimeStop    ExitReason = "time_stop"
	ExitEndOfRun    ExitReason = "end_of_run"
)

// ExitRules are evaluated in priority order: market close, then take profit or stop loss, then time stop.
// Zero values disable the corresponding rule.
type ExitRules struct {
	TakeProfitCents    int64
	StopLossCents      int64
	TimeStopSec        int64
	ForceExitBufferSec int64
}

// Holding is the subset of a position the exit rules need.
type Holding struct {
	Side    signal.Side
	Entry   int64
	EntryTs int64
	CloseTs int64
}

// Check returns the first rule that fires for the holding at price and now.
func (r ExitRules) Check(h Holding, price, now int64) (ExitReason, bool) {
	if h.CloseTs > 0 && now >= h.CloseTs-r.ForceExitBufferSec {
		return ExitMarketClose, true
	}
	move := h.Side.Sign() * (price - h.Entry)
	if r.TakeProfitCents > 0 && move >= r.TakeProfitCents {
		return ExitTakeProfit, true
	}
	if r.StopLossCents > 0 && -move >= r.StopLossCents {
		return ExitStopLoss, true
	}
	if r.TimeStopSec > 0 && now-h.EntryTs >= r.TimeStopSec {
		return ExitTimeStop, true
	}
	return "", false
}
