package source

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"momentum-go/internal/metrics"
	"momentum-go/internal/transport"
)

// LiveOption configures a Live source.
type LiveOption func(*Live)

// WithBufferSize sets the capacity of the channel between the transport and the decision loop.
func WithBufferSize(n int) LiveOption {
	return func(l *Live) {
		if n > 0 {
			l.buffer = n
		}
	}
}

// WithNormalizer overrides payload decoding.
func WithNormalizer(n Normalizer) LiveOption {
	return func(l *Live) {
		if n != nil {
			l.normalize = n
		}
	}
}

// Live adapts a transport.Subscriber running in its own goroutine.
type Live struct {
	log       zerolog.Logger
	sub       transport.Subscriber
	normalize Normalizer
	buffer    int
	feed      string

	ch     chan transport.Delivery
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	subErr error
	err    error

	counters
}

// NewLive starts the subscriber immediately. feed labels metrics.
func NewLive(ctx context.Context, log zerolog.Logger, feed string, sub transport.Subscriber, opts ...LiveOption) *Live {
	l := &Live{
		log:       log,
		sub:       sub,
		normalize: defaultNormalizer(),
		buffer:    1024,
		feed:      feed,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.ch = make(chan transport.Delivery, l.buffer)
	subCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go l.run(subCtx)
	return l
}

func (l *Live) run(ctx context.Context) {
	defer close(l.done)
	defer close(l.ch)
	err := l.sub.Subscribe(ctx, l.ch)
	if err != nil && !errors.Is(err, context.Canceled) {
		l.log.Error().Err(err).Msg("live subscriber stopped")
	}
	l.mu.Lock()
	l.subErr = err
	l.mu.Unlock()
}

// Next returns the next well-formed record. Malformed payloads are acked and counted.
func (l *Live) Next(ctx context.Context) (Message, bool) {
	for {
		var (
			d  transport.Delivery
			ok bool
		)
		select {
		case <-ctx.Done():
			l.setErr(ctx.Err())
			return Message{}, false
		case d, ok = <-l.ch:
		}
		if !ok {
			l.mu.Lock()
			err := l.subErr
			l.mu.Unlock()
			if err != nil && !errors.Is(err, context.Canceled) {
				l.setErr(err)
			}
			return Message{}, false
		}
		l.received.Add(1)
		rec, err := l.normalize(d.Payload)
		if err != nil {
			l.malformed.Add(1)
			metrics.RecordsTotal.WithLabelValues(l.feed, "malformed").Inc()
			l.log.Debug().Err(err).Str("subject", d.Subject).Msg("skipping malformed payload")
			if ackErr := d.Ack(); ackErr != nil {
				l.ackErrors.Add(1)
			}
			continue
		}
		l.delivered.Add(1)
		metrics.RecordsTotal.WithLabelValues(l.feed, string(rec.Kind)).Inc()
		ack := d.Ack
		return Message{Record: rec, ack: func() error {
			if err := ack(); err != nil {
				l.ackErrors.Add(1)
				return err
			}
			return nil
		}}, true
	}
}

func (l *Live) setErr(err error) {
	l.mu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.mu.Unlock()
}

// Err returns the subscriber failure or the cancellation that stopped Next.
func (l *Live) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Stats returns counters.
func (l *Live) Stats() Stats { return l.snapshot() }

// Close stops the subscriber and waits for it to exit.
func (l *Live) Close() error {
	l.cancel()
	// drain so a blocked send can observe cancellation
	go func() {
		for range l.ch {
		}
	}()
	<-l.done
	return l.sub.Close()
}
