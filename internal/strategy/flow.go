package strategy

import (
	"fmt"

	"momentum-go/internal/signal"
	"momentum-go/internal/state"
)

// FlowImbalanceParams configures FlowImbalance.
type FlowImbalanceParams struct {
	Enabled          bool
	WindowSec        int64
	ConfirmWindowSec int64
	Dominance        float64
	MinTrades        int
	MinConfirmTrades int
}

// FlowImbalance fires when one aggressor side dominates trade volume and the shorter
// confirmation window agrees.
type FlowImbalance struct {
	window           int64
	confirmWindow    int64
	dominance        float64
	minTrades        int
	minConfirmTrades int
}

// NewFlowImbalance builds the evaluator, filling defaults for unset knobs.
func NewFlowImbalance(p FlowImbalanceParams) *FlowImbalance {
	if p.WindowSec <= 0 {
		p.WindowSec = 300
	}
	if p.ConfirmWindowSec <= 0 || p.ConfirmWindowSec > p.WindowSec {
		p.ConfirmWindowSec = p.WindowSec / 5
	}
	if p.Dominance <= 0.5 || p.Dominance > 1 {
		p.Dominance = 0.7
	}
	if p.MinTrades <= 0 {
		p.MinTrades = 10
	}
	if p.MinConfirmTrades <= 0 {
		p.MinConfirmTrades = 1
	}
	return &FlowImbalance{
		window:           p.WindowSec,
		confirmWindow:    p.ConfirmWindowSec,
		dominance:        p.Dominance,
		minTrades:        p.MinTrades,
		minConfirmTrades: p.MinConfirmTrades,
	}
}

// Name returns the model identifier.
func (f *FlowImbalance) Name() string { return ModelFlowImbalance }

// Evaluate checks dominance over the main window, then the confirmation window.
func (f *FlowImbalance) Evaluate(st *state.MarketState) (signal.Signal, bool) {
	if st == nil || st.LastPrice <= 0 {
		return signal.Signal{}, false
	}
	flow := st.TradeFlow(f.window)
	if flow.Trades < f.minTrades || flow.Dominant == "" || flow.Ratio < f.dominance {
		return signal.Signal{}, false
	}
	confirm := st.TradeFlow(f.confirmWindow)
	if confirm.Trades < f.minConfirmTrades || confirm.Dominant != flow.Dominant || confirm.Ratio < f.dominance {
		return signal.Signal{}, false
	}
	return signal.Signal{
		Model:      ModelFlowImbalance,
		Instrument: st.Instrument,
		Side:       flow.Dominant,
		Price:      st.LastPrice,
		Score:      flow.Ratio,
		Reason: fmt.Sprintf("dominance=%.2f trades=%d confirm=%.2f/%d",
			flow.Ratio, flow.Trades, confirm.Ratio, confirm.Trades),
		Ts: st.LastEventTime,
	}, true
}
