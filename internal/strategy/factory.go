package strategy

import (
	"momentum-go/internal/signal"
	"momentum-go/internal/state"
)

// Evaluator inspects an instrument state and optionally proposes an entry.
// Implementations hold only static parameters and are safe to call in any order.
type Evaluator interface {
	Evaluate(st *state.MarketState) (signal.Signal, bool)
	Name() string
}

// Model names used in signals, positions and metrics.
const (
	ModelVolumeSpike   = "volume_spike"
	ModelFlowImbalance = "flow_imbalance"
	ModelPriceAccel    = "price_accel"
)

// Params expresses tunable knobs required by evaluator constructors.
type Params struct {
	VolumeSpike   VolumeSpikeParams
	FlowImbalance FlowImbalanceParams
	PriceAccel    PriceAccelParams
}

// Build returns the enabled evaluators in a fixed order so every run evaluates them identically.
func Build(params Params) []Evaluator {
	var out []Evaluator
	if params.VolumeSpike.Enabled {
		out = append(out, NewVolumeSpike(params.VolumeSpike))
	}
	if params.FlowImbalance.Enabled {
		out = append(out, NewFlowImbalance(params.FlowImbalance))
	}
	if params.PriceAccel.Enabled {
		out = append(out, NewPriceAccel(params.PriceAccel))
	}
	return out
}

func sideOf(v float64) signal.Side {
	if v < 0 {
		return signal.Short
	}
	return signal.Long
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
