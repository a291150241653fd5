// Package transport delivers raw market payloads from live messaging systems.
package transport

import (
	"context"
	"math"
	"time"
)

// Delivery is one raw payload plus its acknowledgement hook.
type Delivery struct {
	Subject string
	Payload []byte
	ack     func() error
}

// NewDelivery wraps a payload. A nil ack makes Ack a no-op.
func NewDelivery(subject string, payload []byte, ack func() error) Delivery {
	return Delivery{Subject: subject, Payload: payload, ack: ack}
}

// Ack acknowledges the delivery to the broker.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Subscriber pushes deliveries into out until ctx is cancelled or the connection fails for good.
// Sends on out block, which is how backpressure reaches the broker.
type Subscriber interface {
	Subscribe(ctx context.Context, out chan<- Delivery) error
	Close() error
}

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

func nextBackoff(d time.Duration) time.Duration {
	return time.Duration(math.Min(float64(maxBackoff), float64(d)*1.8))
}

// sleep waits for d or ctx, reporting whether ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return false
	case <-ctx.Done():
		return true
	}
}

func send(ctx context.Context, out chan<- Delivery, d Delivery) error {
	select {
	case out <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
