// Package state keeps per-instrument rolling windows of prices, volume deltas and trades.
package state

import (
	"sort"

	"momentum-go/internal/signal"
)

// RetentionSec bounds how much event time every window keeps. Queries over longer windows under-report.
const RetentionSec int64 = 30 * 60

type pricePoint struct {
	ts    int64
	price int64
}

type volumePoint struct {
	ts        int64
	contracts int64
	notional  float64
}

type tradePoint struct {
	ts    int64
	price int64
	count int64
	side  signal.Side
}

// VolumeRate is the trailing volume inside a window.
type VolumeRate struct {
	Contracts int64
	Notional  float64
	PerMinute float64 // contracts per minute
	Samples   int
}

// Flow summarizes aggressor-side volume inside a window.
type Flow struct {
	LongVolume  int64
	ShortVolume int64
	Trades      int
	Dominant    signal.Side // empty when balanced or empty
	Ratio       float64     // in [0.5, 1.0]
}

// MarketState is the rolling view of a single instrument. It is not safe for concurrent use.
type MarketState struct {
	Instrument    string
	LastPrice     int64
	Bid           int64
	Ask           int64
	LastEventTime int64
	Updates       int64

	prevCumVolume   int64
	prevCumNotional float64
	hasCumulative   bool

	prices  []pricePoint
	volumes []volumePoint
	trades  []tradePoint
}

// New returns an empty state for the instrument.
func New(instrument string) *MarketState {
	return &MarketState{Instrument: instrument}
}

// Update folds a record into the state and prunes every window to the retention horizon.
// Records are applied in arrival order; nothing is re-sorted.
func (s *MarketState) Update(rec signal.Record) {
	switch rec.Kind {
	case signal.KindTick:
		s.applyTick(rec)
	case signal.KindTrade:
		s.applyTrade(rec)
	default:
		return
	}
	s.LastEventTime = rec.Ts
	s.Updates++

	cutoff := s.LastEventTime - RetentionSec
	s.prices = prune(s.prices, func(p pricePoint) int64 { return p.ts }, cutoff)
	s.volumes = prune(s.volumes, func(v volumePoint) int64 { return v.ts }, cutoff)
	s.trades = prune(s.trades, func(t tradePoint) int64 { return t.ts }, cutoff)
}

func (s *MarketState) applyTick(rec signal.Record) {
	if rec.Bid > 0 {
		s.Bid = rec.Bid
	}
	if rec.Ask > 0 {
		s.Ask = rec.Ask
	}
	snapshot := rec.Last
	if snapshot > 0 {
		s.LastPrice = rec.Last
	} else if rec.Bid > 0 && rec.Ask > 0 {
		snapshot = (rec.Bid + rec.Ask) / 2
	}
	if snapshot > 0 {
		s.prices = append(s.prices, pricePoint{ts: rec.Ts, price: snapshot})
	}

	// Quote-only ticks carry no counters.
	if rec.CumVolume == 0 && rec.CumNotional == 0 && s.hasCumulative {
		return
	}
	// The first tick only establishes the baseline. The baseline is a high-water
	// mark so a redelivered older tick adds nothing and is not counted twice.
	if !s.hasCumulative {
		s.prevCumVolume = rec.CumVolume
		s.prevCumNotional = rec.CumNotional
		s.hasCumulative = true
		return
	}
	var dv int64
	if rec.CumVolume > s.prevCumVolume {
		dv = rec.CumVolume - s.prevCumVolume
		s.prevCumVolume = rec.CumVolume
	}
	var dn float64
	if rec.CumNotional > s.prevCumNotional {
		dn = rec.CumNotional - s.prevCumNotional
		s.prevCumNotional = rec.CumNotional
	}
	s.volumes = append(s.volumes, volumePoint{ts: rec.Ts, contracts: dv, notional: dn})
}

func (s *MarketState) applyTrade(rec signal.Record) {
	if rec.Price <= 0 {
		return
	}
	s.LastPrice = rec.Price
	s.prices = append(s.prices, pricePoint{ts: rec.Ts, price: rec.Price})
	s.trades = append(s.trades, tradePoint{ts: rec.Ts, price: rec.Price, count: rec.Count, side: rec.Side})
}

func prune[T any](items []T, ts func(T) int64, cutoff int64) []T {
	idx := 0
	for idx < len(items) && ts(items[idx]) < cutoff {
		idx++
	}
	if idx == 0 {
		return items
	}
	return items[idx:]
}

func (s *MarketState) cutoff(windowSec int64) int64 {
	return s.LastEventTime - windowSec
}

// VolumeRate sums retained volume deltas with ts >= lastEventTime-window.
func (s *MarketState) VolumeRate(windowSec int64) VolumeRate {
	if windowSec <= 0 {
		return VolumeRate{}
	}
	cutoff := s.cutoff(windowSec)
	var out VolumeRate
	for _, v := range s.volumes {
		if v.ts < cutoff {
			continue
		}
		out.Contracts += v.contracts
		out.Notional += v.notional
		out.Samples++
	}
	out.PerMinute = float64(out.Contracts) / (float64(windowSec) / 60)
	return out
}

// PriceChange returns last minus first snapshot inside the window, or 0 with fewer than two points.
func (s *MarketState) PriceChange(windowSec int64) int64 {
	if windowSec <= 0 {
		return 0
	}
	cutoff := s.cutoff(windowSec)
	var first, last int64
	n := 0
	for _, p := range s.prices {
		if p.ts < cutoff {
			continue
		}
		if n == 0 {
			first = p.price
		}
		last = p.price
		n++
	}
	if n < 2 {
		return 0
	}
	return last - first
}

// PriceRatePerMinute normalizes PriceChange to cents per minute of window.
func (s *MarketState) PriceRatePerMinute(windowSec int64) float64 {
	if windowSec <= 0 {
		return 0
	}
	return float64(s.PriceChange(windowSec)) / (float64(windowSec) / 60)
}

// PriceSamples counts retained price snapshots inside the window.
func (s *MarketState) PriceSamples(windowSec int64) int {
	if windowSec <= 0 {
		return 0
	}
	cutoff := s.cutoff(windowSec)
	n := 0
	for _, p := range s.prices {
		if p.ts >= cutoff {
			n++
		}
	}
	return n
}

// TradeFlow splits trade volume inside the window by aggressor side.
func (s *MarketState) TradeFlow(windowSec int64) Flow {
	out := Flow{Ratio: 0.5}
	if windowSec <= 0 {
		return out
	}
	cutoff := s.cutoff(windowSec)
	for _, t := range s.trades {
		if t.ts < cutoff {
			continue
		}
		out.Trades++
		switch t.side {
		case signal.Long:
			out.LongVolume += t.count
		case signal.Short:
			out.ShortVolume += t.count
		}
	}
	total := out.LongVolume + out.ShortVolume
	if total == 0 {
		return out
	}
	switch {
	case out.LongVolume > out.ShortVolume:
		out.Dominant = signal.Long
		out.Ratio = float64(out.LongVolume) / float64(total)
	case out.ShortVolume > out.LongVolume:
		out.Dominant = signal.Short
		out.Ratio = float64(out.ShortVolume) / float64(total)
	}
	return out
}

// IsActivated reports whether trailing notional volume reached the threshold.
func (s *MarketState) IsActivated(thresholdNotional float64, windowSec int64) bool {
	if windowSec <= 0 {
		return false
	}
	return s.VolumeRate(windowSec).Notional >= thresholdNotional
}

// Mid returns the quote midpoint, falling back to the last price when one side is missing.
func (s *MarketState) Mid() int64 {
	if s.Bid > 0 && s.Ask > 0 {
		return (s.Bid + s.Ask) / 2
	}
	return s.LastPrice
}

// Aggregator owns every MarketState for a run and is the only writer.
type Aggregator struct {
	states map[string]*MarketState
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{states: make(map[string]*MarketState)}
}

// Apply lazily creates the instrument state and folds the record into it.
func (a *Aggregator) Apply(rec signal.Record) *MarketState {
	st := a.states[rec.Instrument]
	if st == nil {
		st = New(rec.Instrument)
		a.states[rec.Instrument] = st
	}
	st.Update(rec)
	return st
}

// Get returns the instrument state or nil.
func (a *Aggregator) Get(instrument string) *MarketState { return a.states[instrument] }

// Len returns how many instruments have been seen.
func (a *Aggregator) Len() int { return len(a.states) }

// Instruments returns the tracked instruments sorted for deterministic iteration.
func (a *Aggregator) Instruments() []string {
	out := make([]string, 0, len(a.states))
	for k := range a.states {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
