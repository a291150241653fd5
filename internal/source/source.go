// Package source yields normalized records from a live transport or an archive replay behind
// one interface, so the decision loop cannot tell them apart.
package source

import (
	"context"
	"sync/atomic"

	"momentum-go/internal/exchange"
	"momentum-go/internal/signal"
)

// Message is one normalized record plus its acknowledgement.
type Message struct {
	Record signal.Record
	ack    func() error
}

// Ack acknowledges the underlying delivery. Replay messages ack as a no-op.
func (m Message) Ack() error {
	if m.ack == nil {
		return nil
	}
	return m.ack()
}

// Stats counts what a source has seen.
type Stats struct {
	Received  int64 `json:"received"`
	Delivered int64 `json:"delivered"`
	Malformed int64 `json:"malformed"`
	AckErrors int64 `json:"ack_errors"`
	Files     int64 `json:"files"`
}

// Source is a pull-based record feed.
type Source interface {
	// Next blocks until a record is available. It returns false when the source is exhausted,
	// failed, or ctx ended; Err distinguishes those cases.
	Next(ctx context.Context) (Message, bool)
	Err() error
	Stats() Stats
	Close() error
}

// Normalizer converts a raw payload to a record.
type Normalizer func([]byte) (signal.Record, error)

type counters struct {
	received  atomic.Int64
	delivered atomic.Int64
	malformed atomic.Int64
	ackErrors atomic.Int64
	opened    atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Received:  c.received.Load(),
		Delivered: c.delivered.Load(),
		Malformed: c.malformed.Load(),
		AckErrors: c.ackErrors.Load(),
		Files:     c.opened.Load(),
	}
}

func defaultNormalizer() Normalizer { return exchange.Normalize }

// Static replays an in-memory record slice. Records are delivered as-is.
type Static struct {
	recs []signal.Record
	pos  int
	err  error
}

// NewStatic wraps recs.
func NewStatic(recs []signal.Record) *Static { return &Static{recs: recs} }

// Next returns the next record.
func (s *Static) Next(ctx context.Context) (Message, bool) {
	if err := ctx.Err(); err != nil {
		s.err = err
		return Message{}, false
	}
	if s.pos >= len(s.recs) {
		return Message{}, false
	}
	rec := s.recs[s.pos]
	s.pos++
	return Message{Record: rec}, true
}

// Err reports cancellation.
func (s *Static) Err() error { return s.err }

// Stats reports deliveries so far.
func (s *Static) Stats() Stats {
	return Stats{Received: int64(s.pos), Delivered: int64(s.pos)}
}

// Close is a no-op.
func (s *Static) Close() error { return nil }
