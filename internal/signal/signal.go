// Package signal standardizes payloads shared between data ingestion, state and strategy layers.
package signal

import "fmt"

// Kind discriminates the canonical record shapes.
type Kind string

const (
	// KindTick is a quote/volume snapshot carrying cumulative counters.
	KindTick Kind = "tick"
	// KindTrade is a single print with an aggressor side.
	KindTrade Kind = "trade"
	// KindLifecycle carries market metadata such as the scheduled close time.
	KindLifecycle Kind = "lifecycle"
)

// Side is the directional bias of a trade or position.
type Side string

const (
	// Long profits when the contract price rises (YES aggressor).
	Long Side = "long"
	// Short profits when the contract price falls (NO aggressor).
	Short Side = "short"
)

// Sign returns +1 for long and -1 for short.
func (s Side) Sign() int64 {
	if s == Short {
		return -1
	}
	return 1
}

// Opposite flips the side.
func (s Side) Opposite() Side {
	if s == Short {
		return Long
	}
	return Short
}

// Valid reports whether the side is one of the known values.
func (s Side) Valid() bool { return s == Long || s == Short }

// Record is the canonical unit of input consumed by the engine. Prices are integer cents.
type Record struct {
	Kind       Kind   `json:"kind"`
	Instrument string `json:"instrument"`
	Ts         int64  `json:"ts"`

	// tick
	Bid         int64   `json:"bid,omitempty"`
	Ask         int64   `json:"ask,omitempty"`
	Last        int64   `json:"last,omitempty"`
	CumVolume   int64   `json:"cum_volume,omitempty"`
	CumNotional float64 `json:"cum_notional,omitempty"`

	// trade
	Price   int64  `json:"price,omitempty"`
	Count   int64  `json:"count,omitempty"`
	Side    Side   `json:"side,omitempty"`
	TradeID string `json:"trade_id,omitempty"`

	// lifecycle
	CloseTs int64 `json:"close_ts,omitempty"`
}

func (r Record) String() string {
	switch r.Kind {
	case KindTrade:
		return fmt.Sprintf("trade %s@%d %s %dx%d", r.Instrument, r.Ts, r.Side, r.Count, r.Price)
	case KindLifecycle:
		return fmt.Sprintf("lifecycle %s@%d close=%d", r.Instrument, r.Ts, r.CloseTs)
	default:
		return fmt.Sprintf("tick %s@%d %d/%d last=%d vol=%d", r.Instrument, r.Ts, r.Bid, r.Ask, r.Last, r.CumVolume)
	}
}

// Signal expresses an entry request produced by an evaluator. It is consumed immediately and never stored.
type Signal struct {
	Model      string
	Instrument string
	Side       Side
	Price      int64
	Score      float64
	Reason     string
	Ts         int64
}
