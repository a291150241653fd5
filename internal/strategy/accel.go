package strategy

import (
	"fmt"

	"momentum-go/internal/signal"
	"momentum-go/internal/state"
)

// PriceAccelParams configures PriceAccel.
type PriceAccelParams struct {
	Enabled        bool
	ShortWindowSec int64
	MidWindowSec   int64
	LongWindowSec  int64
	Ratio          float64
	MinSamples     int
	MinMoveCents   int64
	MinPrice       int64
	MaxPrice       int64
}

// PriceAccel emits signals when the short-window price rate accelerates past the mid-window rate.
// Entries are restricted to a price band away from the 0/100 edges.
type PriceAccel struct {
	shortWindow int64
	midWindow   int64
	longWindow  int64
	ratio       float64
	minSamples  int
	minMove     int64
	minPrice    int64
	maxPrice    int64
}

// NewPriceAccel builds the evaluator, filling defaults for unset knobs.
func NewPriceAccel(p PriceAccelParams) *PriceAccel {
	if p.ShortWindowSec <= 0 {
		p.ShortWindowSec = 60
	}
	if p.MidWindowSec <= p.ShortWindowSec {
		p.MidWindowSec = 5 * p.ShortWindowSec
	}
	if p.LongWindowSec <= p.MidWindowSec {
		p.LongWindowSec = 3 * p.MidWindowSec
	}
	if p.Ratio <= 0 {
		p.Ratio = 2
	}
	if p.MinSamples < 2 {
		p.MinSamples = 2
	}
	if p.MinMoveCents <= 0 {
		p.MinMoveCents = 1
	}
	if p.MinPrice <= 0 {
		p.MinPrice = 10
	}
	if p.MaxPrice <= 0 || p.MaxPrice >= 100 {
		p.MaxPrice = 90
	}
	return &PriceAccel{
		shortWindow: p.ShortWindowSec,
		midWindow:   p.MidWindowSec,
		longWindow:  p.LongWindowSec,
		ratio:       p.Ratio,
		minSamples:  p.MinSamples,
		minMove:     p.MinMoveCents,
		minPrice:    p.MinPrice,
		maxPrice:    p.MaxPrice,
	}
}

// Name returns the model identifier.
func (a *PriceAccel) Name() string { return ModelPriceAccel }

// Evaluate compares short, mid and long price rates.
func (a *PriceAccel) Evaluate(st *state.MarketState) (signal.Signal, bool) {
	if st == nil {
		return signal.Signal{}, false
	}
	price := st.LastPrice
	if price < a.minPrice || price > a.maxPrice {
		return signal.Signal{}, false
	}
	if st.PriceSamples(a.longWindow) < a.minSamples {
		return signal.Signal{}, false
	}
	move := st.PriceChange(a.shortWindow)
	if move < a.minMove && -move < a.minMove {
		return signal.Signal{}, false
	}
	short := st.PriceRatePerMinute(a.shortWindow)
	mid := st.PriceRatePerMinute(a.midWindow)
	long := st.PriceRatePerMinute(a.longWindow)
	if abs(short) <= abs(mid)*a.ratio {
		return signal.Signal{}, false
	}
	side := sideOf(short)
	if long != 0 && sideOf(long) != side {
		return signal.Signal{}, false
	}
	score := abs(short)
	if mid != 0 {
		score = abs(short) / abs(mid)
	}
	return signal.Signal{
		Model:      ModelPriceAccel,
		Instrument: st.Instrument,
		Side:       side,
		Price:      price,
		Score:      score,
		Reason:     fmt.Sprintf("short=%+.2fc/min mid=%+.2fc/min long=%+.2fc/min", short, mid, long),
		Ts:         st.LastEventTime,
	}, true
}
