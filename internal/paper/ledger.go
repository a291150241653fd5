package paper

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Recorder receives every closed position as it happens.
type Recorder interface {
	Record(ClosedPosition)
}

// ModelStats aggregates closed trades for one model.
type ModelStats struct {
	Model  string          `json:"model"`
	Trades int             `json:"trades"`
	Wins   int             `json:"wins"`
	Losses int             `json:"losses"`
	Fees   decimal.Decimal `json:"fees"`
	NetPnL decimal.Decimal `json:"net_pnl"`
}

// WinRate is wins over trades, 0 with no trades.
func (s ModelStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// Ledger stores closed positions in close order. Readers such as the metrics endpoint may
// snapshot it while the decision loop appends.
type Ledger struct {
	mu     sync.Mutex
	closed []ClosedPosition
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{closed: make([]ClosedPosition, 0, capacity)}
}

// Record appends a closed position.
func (l *Ledger) Record(cp ClosedPosition) {
	l.mu.Lock()
	l.closed = append(l.closed, cp)
	l.mu.Unlock()
}

// Len returns the number of closed positions.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.closed)
}

// Snapshot returns a copy of the closed positions.
func (l *Ledger) Snapshot() []ClosedPosition {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ClosedPosition, len(l.closed))
	copy(out, l.closed)
	return out
}

// Stats groups the ledger by model, sorted by model name.
func (l *Ledger) Stats() []ModelStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	byModel := make(map[string]*ModelStats)
	for _, cp := range l.closed {
		s, ok := byModel[cp.Model]
		if !ok {
			s = &ModelStats{Model: cp.Model}
			byModel[cp.Model] = s
		}
		s.Trades++
		switch {
		case cp.PnL.IsPositive():
			s.Wins++
		case cp.PnL.IsNegative():
			s.Losses++
		}
		s.Fees = s.Fees.Add(cp.Fees)
		s.NetPnL = s.NetPnL.Add(cp.PnL)
	}
	out := make([]ModelStats, 0, len(byModel))
	for _, s := range byModel {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}
