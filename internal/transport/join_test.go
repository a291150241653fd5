package transport

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fixedSubscriber struct {
	payloads []string
	err      error
	closed   bool
}

func (f *fixedSubscriber) Subscribe(ctx context.Context, out chan<- Delivery) error {
	for _, p := range f.payloads {
		if err := send(ctx, out, NewDelivery("fixed", []byte(p), nil)); err != nil {
			return err
		}
	}
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fixedSubscriber) Close() error {
	f.closed = true
	return nil
}

func TestJoinMergesSubscribers(t *testing.T) {
	a := &fixedSubscriber{payloads: []string{"a1", "a2"}}
	b := &fixedSubscriber{payloads: []string{"b1"}}
	sub := Join(a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out := make(chan Delivery)
	done := make(chan error, 1)
	go func() { done <- sub.Subscribe(ctx, out) }()

	var got []string
	for len(got) < 3 {
		select {
		case d := <-out:
			got = append(got, string(d.Payload))
		case <-ctx.Done():
			t.Fatalf("timed out after %v", got)
		}
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	sort.Strings(got)
	assert.Equal(t, []string{"a1", "a2", "b1"}, got)

	assert.NoError(t, sub.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestJoinStopsOnFirstFailure(t *testing.T) {
	boom := errors.New("connection lost")
	sub := Join(&fixedSubscriber{}, &fixedSubscriber{err: boom})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sub.Subscribe(ctx, make(chan Delivery))
	if !errors.Is(err, boom) {
		t.Fatalf("Subscribe error = %v, want %v", err, boom)
	}
}
