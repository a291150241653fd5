package transport

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Join runs several subscribers into one output channel. The first failure cancels the rest.
func Join(subs ...Subscriber) Subscriber {
	return joined(subs)
}

type joined []Subscriber

func (j joined) Subscribe(ctx context.Context, out chan<- Delivery) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range j {
		s := s
		g.Go(func() error { return s.Subscribe(gctx, out) })
	}
	return g.Wait()
}

func (j joined) Close() error {
	var errs []error
	for _, s := range j {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
