// Package strategy contains the signal evaluators run against per-instrument market state.
package strategy

import (
	"fmt"

	"momentum-go/internal/signal"
	"momentum-go/internal/state"
)

// VolumeSpikeParams configures VolumeSpike.
type VolumeSpikeParams struct {
	Enabled           bool
	ShortWindowSec    int64
	BaselineWindowSec int64
	Multiplier        float64
	MinSamples        int
	MinShortContracts int64
}

// VolumeSpike fires when the short-window contract rate runs well ahead of its longer baseline.
// Direction follows the short-window price move.
type VolumeSpike struct {
	shortWindow       int64
	baselineWindow    int64
	multiplier        float64
	minSamples        int
	minShortContracts int64
}

// NewVolumeSpike builds the evaluator, filling defaults for unset knobs.
func NewVolumeSpike(p VolumeSpikeParams) *VolumeSpike {
	if p.ShortWindowSec <= 0 {
		p.ShortWindowSec = 60
	}
	if p.BaselineWindowSec <= p.ShortWindowSec {
		p.BaselineWindowSec = 10 * p.ShortWindowSec
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 3
	}
	if p.MinSamples <= 0 {
		p.MinSamples = 5
	}
	return &VolumeSpike{
		shortWindow:       p.ShortWindowSec,
		baselineWindow:    p.BaselineWindowSec,
		multiplier:        p.Multiplier,
		minSamples:        p.MinSamples,
		minShortContracts: p.MinShortContracts,
	}
}

// Name returns the model identifier.
func (v *VolumeSpike) Name() string { return ModelVolumeSpike }

// Evaluate compares the short and baseline per-minute volume rates.
func (v *VolumeSpike) Evaluate(st *state.MarketState) (signal.Signal, bool) {
	if st == nil || st.LastPrice <= 0 {
		return signal.Signal{}, false
	}
	baseline := st.VolumeRate(v.baselineWindow)
	if baseline.Samples < v.minSamples || baseline.PerMinute <= 0 {
		return signal.Signal{}, false
	}
	short := st.VolumeRate(v.shortWindow)
	if short.Contracts <= 0 || short.Contracts < v.minShortContracts {
		return signal.Signal{}, false
	}
	if short.PerMinute <= baseline.PerMinute*v.multiplier {
		return signal.Signal{}, false
	}
	move := st.PriceChange(v.shortWindow)
	if move == 0 {
		return signal.Signal{}, false
	}
	ratio := short.PerMinute / baseline.PerMinute
	return signal.Signal{
		Model:      ModelVolumeSpike,
		Instrument: st.Instrument,
		Side:       sideOf(float64(move)),
		Price:      st.LastPrice,
		Score:      ratio,
		Reason:     fmt.Sprintf("rate=%.1f/min baseline=%.1f/min x%.2f move=%+dc", short.PerMinute, baseline.PerMinute, ratio, move),
		Ts:         st.LastEventTime,
	}, true
}
