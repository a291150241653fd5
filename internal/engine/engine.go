// Package engine runs the single-threaded decision loop: state updates, exits, activation,
// signal evaluation and entries, one record at a time.
package engine

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"momentum-go/internal/exchange"
	"momentum-go/internal/paper"
	"momentum-go/internal/risk"
	"momentum-go/internal/signal"
	"momentum-go/internal/source"
	"momentum-go/internal/state"
	"momentum-go/internal/strategy"
)

// Config holds the loop-level knobs. Portfolio and model settings live with their owners.
type Config struct {
	ActivationThresholdDollars float64
	ActivationWindowSec        int64
	NoEntryBufferMin           int64
	ForceExitBufferMin         int64
	SummaryIntervalSec         int64
	FlattenOnExit              bool
}

// Result is what a finished run reports.
type Result struct {
	Summary   paper.Summary          `json:"summary"`
	Models    []paper.ModelStats     `json:"models"`
	Closed    []paper.ClosedPosition `json:"-"`
	Open      []paper.Position       `json:"open"`
	Source    source.Stats           `json:"source"`
	Processed int64                  `json:"processed"`
	Active    []string               `json:"active_instruments"`
	FirstTs   int64                  `json:"first_ts"`
	LastTs    int64                  `json:"last_ts"`
}

// Engine folds records into state and the portfolio. It is not safe for concurrent use.
type Engine struct {
	cfg       Config
	log       zerolog.Logger
	agg       *state.Aggregator
	evals     []strategy.Evaluator
	portfolio *paper.Portfolio
	catalog   *exchange.Catalog
	obs       Observer

	active      map[string]bool
	halted      bool
	processed   int64
	firstTs     int64
	lastTs      int64
	lastSummary int64
}

// New wires an engine. A nil catalog or observer is replaced by an empty one.
func New(cfg Config, log zerolog.Logger, evals []strategy.Evaluator, portfolio *paper.Portfolio, catalog *exchange.Catalog, obs Observer) *Engine {
	if catalog == nil {
		catalog = exchange.NewCatalog()
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Engine{
		cfg:       cfg,
		log:       log,
		agg:       state.NewAggregator(),
		evals:     evals,
		portfolio: portfolio,
		catalog:   catalog,
		obs:       obs,
		active:    make(map[string]bool),
	}
}

// Process folds one record.
func (e *Engine) Process(rec signal.Record) {
	e.processed++
	if rec.Kind == signal.KindLifecycle {
		e.catalog.Set(rec.Instrument, rec.CloseTs)
		return
	}
	st := e.agg.Apply(rec)
	if st == nil {
		return
	}
	now := rec.Ts
	if e.firstTs == 0 || now < e.firstTs {
		e.firstTs = now
	}
	if now > e.lastTs {
		e.lastTs = now
	}
	inst := rec.Instrument
	closeTs := e.catalog.CloseTime(inst)

	for _, cp := range e.portfolio.CheckExits(st.LastPrice, closeTs, e.cfg.ForceExitBufferMin, inst, now) {
		e.obs.Closed(cp)
	}
	e.checkHalt()

	if !e.active[inst] {
		if !st.IsActivated(e.cfg.ActivationThresholdDollars, e.cfg.ActivationWindowSec) {
			e.maybeSummarize()
			return
		}
		// activation is permanent for the run
		e.active[inst] = true
		e.obs.Activated(inst, now, len(e.active))
	}

	if !e.halted && e.portfolio.CanEnter(inst, closeTs, e.cfg.NoEntryBufferMin, now) {
		for _, ev := range e.evals {
			sig, ok := ev.Evaluate(st)
			if !ok {
				continue
			}
			e.obs.Signal(sig)
			pos, err := e.portfolio.OpenPosition(sig.Model, sig.Instrument, sig.Side, sig.Price, now)
			if err != nil {
				e.obs.Rejected(sig, err)
				continue
			}
			e.obs.Opened(pos)
		}
	}
	e.maybeSummarize()
}

func (e *Engine) checkHalt() {
	if e.halted || !e.portfolio.Halted() {
		return
	}
	e.halted = true
	e.obs.Halted(e.portfolio.Summary(), e.lastTs)
}

// maybeSummarize emits a summary whenever event time crosses the next interval boundary.
func (e *Engine) maybeSummarize() {
	if e.cfg.SummaryIntervalSec <= 0 || e.lastTs == 0 {
		return
	}
	if e.lastSummary == 0 {
		e.lastSummary = e.lastTs
		return
	}
	if e.lastTs-e.lastSummary >= e.cfg.SummaryIntervalSec {
		e.lastSummary = e.lastTs
		e.obs.Summary(e.portfolio.Summary(), e.lastTs)
	}
}

// Run drains src, acking each message after it has been processed. Cancellation is a clean stop.
func (e *Engine) Run(ctx context.Context, src source.Source) (Result, error) {
	for {
		msg, ok := src.Next(ctx)
		if !ok {
			break
		}
		e.Process(msg.Record)
		if err := msg.Ack(); err != nil {
			e.log.Warn().Err(err).Str("instrument", msg.Record.Instrument).Msg("ack failed")
		}
	}
	res := e.Finish(src.Stats())
	err := src.Err()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	return res, err
}

// Finish optionally flattens open positions and reports the run.
func (e *Engine) Finish(stats source.Stats) Result {
	if e.cfg.FlattenOnExit {
		marks := make(map[string]int64)
		for _, inst := range e.agg.Instruments() {
			if st := e.agg.Get(inst); st != nil {
				marks[inst] = st.LastPrice
			}
		}
		for _, cp := range e.portfolio.CloseAll(marks, e.lastTs, risk.ExitEndOfRun) {
			e.obs.Closed(cp)
		}
		e.checkHalt()
	}
	res := e.Result(stats)
	e.obs.Final(res)
	return res
}

// Result snapshots the run without side effects.
func (e *Engine) Result(stats source.Stats) Result {
	active := make([]string, 0, len(e.active))
	for inst := range e.active {
		active = append(active, inst)
	}
	sort.Strings(active)
	ledger := e.portfolio.Ledger()
	return Result{
		Summary:   e.portfolio.Summary(),
		Models:    ledger.Stats(),
		Closed:    ledger.Snapshot(),
		Open:      e.portfolio.Open(),
		Source:    stats,
		Processed: e.processed,
		Active:    active,
		FirstTs:   e.firstTs,
		LastTs:    e.lastTs,
	}
}

// Active reports whether inst has crossed the activation threshold.
func (e *Engine) Active(inst string) bool { return e.active[inst] }

// Catalog exposes the close-time catalog.
func (e *Engine) Catalog() *exchange.Catalog { return e.catalog }
