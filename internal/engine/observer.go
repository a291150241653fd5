package engine

import (
	"github.com/rs/zerolog"

	"momentum-go/internal/metrics"
	"momentum-go/internal/paper"
	"momentum-go/internal/signal"
)

// Observer receives decision-loop facts. Implementations must not block.
type Observer interface {
	Activated(instrument string, ts int64, total int)
	Signal(sig signal.Signal)
	Rejected(sig signal.Signal, err error)
	Opened(pos paper.Position)
	Closed(cp paper.ClosedPosition)
	Halted(sum paper.Summary, ts int64)
	Summary(sum paper.Summary, ts int64)
	Final(res Result)
}

// NopObserver drops everything.
type NopObserver struct{}

func (NopObserver) Activated(string, int64, int) {}
func (NopObserver) Signal(signal.Signal) {}
func (NopObserver) Rejected(signal.Signal, error) {}
func (NopObserver) Opened(paper.Position) {}
func (NopObserver) Closed(paper.ClosedPosition) {}
func (NopObserver) Halted(paper.Summary, int64) {}
func (NopObserver) Summary(paper.Summary, int64) {}
func (NopObserver) Final(Result) {}

// Multi fans out to several observers in order.
type Multi []Observer

func (m Multi) Activated(inst string, ts int64, total int) {
	for _, o := range m {
		o.Activated(inst, ts, total)
	}
}

func (m Multi) Signal(sig signal.Signal) {
	for _, o := range m {
		o.Signal(sig)
	}
}

func (m Multi) Rejected(sig signal.Signal, err error) {
	for _, o := range m {
		o.Rejected(sig, err)
	}
}

func (m Multi) Opened(pos paper.Position) {
	for _, o := range m {
		o.Opened(pos)
	}
}

func (m Multi) Closed(cp paper.ClosedPosition) {
	for _, o := range m {
		o.Closed(cp)
	}
}

func (m Multi) Halted(sum paper.Summary, ts int64) {
	for _, o := range m {
		o.Halted(sum, ts)
	}
}

func (m Multi) Summary(sum paper.Summary, ts int64) {
	for _, o := range m {
		o.Summary(sum, ts)
	}
}

func (m Multi) Final(res Result) {
	for _, o := range m {
		o.Final(res)
	}
}

// LogObserver writes facts as structured log lines.
type LogObserver struct {
	Log zerolog.Logger
}

func (l LogObserver) Activated(inst string, ts int64, total int) {
	l.Log.Info().Str("instrument", inst).Int64("ts", ts).Int("active", total).Msg("instrument activated")
}

func (l LogObserver) Signal(sig signal.Signal) {
	l.Log.Debug().
		Str("model", sig.Model).
		Str("instrument", sig.Instrument).
		Str("side", string(sig.Side)).
		Int64("px", sig.Price).
		Float64("score", sig.Score).
		Str("reason", sig.Reason).
		Int64("ts", sig.Ts).
		Msg("signal")
}

func (l LogObserver) Rejected(sig signal.Signal, err error) {
	l.Log.Debug().Err(err).Str("model", sig.Model).Str("instrument", sig.Instrument).Msg("entry rejected")
}

func (l LogObserver) Opened(pos paper.Position) {
	l.Log.Info().
		Str("id", pos.ID).
		Str("model", pos.Model).
		Str("instrument", pos.Instrument).
		Str("side", string(pos.Side)).
		Int64("px", pos.EntryPrice).
		Int64("qty", pos.Contracts).
		Str("fee", pos.EntryFee.String()).
		Int64("ts", pos.EntryTs).
		Msg("position opened")
}

func (l LogObserver) Closed(cp paper.ClosedPosition) {
	l.Log.Info().
		Str("id", cp.ID).
		Str("model", cp.Model).
		Str("instrument", cp.Instrument).
		Str("reason", string(cp.Reason)).
		Int64("entry", cp.EntryPrice).
		Int64("exit", cp.ExitPrice).
		Str("pnl", cp.PnL.String()).
		Int64("ts", cp.ExitTs).
		Msg("position closed")
}

func (l LogObserver) Halted(sum paper.Summary, ts int64) {
	l.Log.Warn().
		Str("balance", sum.Balance.StringFixed(0)).
		Str("drawdown_pct", sum.DrawdownPct.StringFixed(2)).
		Int64("ts", ts).
		Msg("drawdown halt: new entries disabled")
}

func (l LogObserver) Summary(sum paper.Summary, ts int64) {
	l.Log.Info().
		Int64("ts", ts).
		Str("balance", sum.Balance.StringFixed(0)).
		Str("pnl", sum.TotalPnL.StringFixed(0)).
		Str("drawdown_pct", sum.DrawdownPct.StringFixed(2)).
		Int("open", sum.Open).
		Int("closed", sum.Closed).
		Bool("halted", sum.Halted).
		Msg("portfolio summary")
}

func (l LogObserver) Final(res Result) {
	evt := l.Log.Info().
		Int64("processed", res.Processed).
		Int64("malformed", res.Source.Malformed).
		Int("active", len(res.Active)).
		Str("balance", res.Summary.Balance.StringFixed(0)).
		Str("pnl", res.Summary.TotalPnL.StringFixed(0)).
		Int("closed", res.Summary.Closed).
		Int("open", res.Summary.Open).
		Bool("halted", res.Summary.Halted)
	for _, m := range res.Models {
		evt = evt.Str(m.Model, m.NetPnL.StringFixed(0))
	}
	evt.Msg("run finished")
}

// MetricsObserver mirrors facts into the Prometheus collectors.
type MetricsObserver struct{}

func (MetricsObserver) Activated(_ string, _ int64, total int) {
	metrics.ActiveInstruments.Set(float64(total))
}

func (MetricsObserver) Signal(sig signal.Signal) {
	metrics.SignalsTotal.WithLabelValues(sig.Model, "emitted").Inc()
}

func (MetricsObserver) Rejected(sig signal.Signal, _ error) {
	metrics.SignalsTotal.WithLabelValues(sig.Model, "rejected").Inc()
}

func (MetricsObserver) Opened(pos paper.Position) {
	metrics.SignalsTotal.WithLabelValues(pos.Model, "opened").Inc()
	metrics.OpenPositions.Inc()
}

func (MetricsObserver) Closed(cp paper.ClosedPosition) {
	metrics.PositionsClosed.WithLabelValues(cp.Model, string(cp.Reason)).Inc()
	metrics.OpenPositions.Dec()
}

func (m MetricsObserver) Halted(sum paper.Summary, _ int64) {
	metrics.Halted.Set(1)
	m.portfolio(sum)
}

func (m MetricsObserver) Summary(sum paper.Summary, _ int64) { m.portfolio(sum) }

func (m MetricsObserver) Final(res Result) { m.portfolio(res.Summary) }

func (MetricsObserver) portfolio(sum paper.Summary) {
	bal, _ := sum.Balance.Float64()
	dd, _ := sum.DrawdownPct.Float64()
	metrics.BalanceCents.Set(bal)
	metrics.DrawdownPct.Set(dd)
	metrics.OpenPositions.Set(float64(sum.Open))
	if sum.Halted {
		metrics.Halted.Set(1)
	}
}
