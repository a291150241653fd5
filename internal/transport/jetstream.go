package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"momentum-go/internal/metrics"
)

// SubjectFor returns the wildcard subject carrying every message of a feed, e.g. prod.kalshi.>.
func SubjectFor(env, feed string) string {
	return fmt.Sprintf("%s.%s.>", strings.ToLower(env), strings.ToLower(feed))
}

// StreamFor returns the JetStream stream name for a feed, e.g. PROD_KALSHI.
func StreamFor(env, feed string) string {
	return fmt.Sprintf("%s_%s", strings.ToUpper(env), strings.ToUpper(feed))
}

// JetStreamConfig configures a durable pull consumer.
type JetStreamConfig struct {
	URL      string
	Env      string
	Feed     string
	Stream   string
	Consumer string
	Batch    int
}

func (c JetStreamConfig) consumerConfig() jetstream.ConsumerConfig {
	durable := c.Consumer
	if durable == "" {
		durable = "momentum-" + strings.ToLower(c.Feed)
	}
	return jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: SubjectFor(c.Env, c.Feed),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckWait:       30 * time.Second,
		MaxAckPending: 4 * c.batch(),
	}
}

func (c JetStreamConfig) batch() int {
	if c.Batch <= 0 {
		return 256
	}
	return c.Batch
}

func (c JetStreamConfig) stream() string {
	if c.Stream != "" {
		return c.Stream
	}
	return StreamFor(c.Env, c.Feed)
}

// JetStream consumes a feed stream through a durable pull consumer.
type JetStream struct {
	log zerolog.Logger
	cfg JetStreamConfig
	nc  *nats.Conn
}

// NewJetStream connects to NATS. Reconnects are handled by the client.
func NewJetStream(log zerolog.Logger, cfg JetStreamConfig) (*JetStream, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("momentum-paper"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			metrics.TransportEvents.WithLabelValues("jetstream", "disconnect").Inc()
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			metrics.TransportEvents.WithLabelValues("jetstream", "reconnect").Inc()
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &JetStream{log: log, cfg: cfg, nc: nc}, nil
}

// Subscribe binds the durable consumer and forwards messages until ctx ends.
func (j *JetStream) Subscribe(ctx context.Context, out chan<- Delivery) error {
	js, err := jetstream.New(j.nc)
	if err != nil {
		return fmt.Errorf("jetstream: %w", err)
	}
	stream, err := js.Stream(ctx, j.cfg.stream())
	if err != nil {
		return fmt.Errorf("lookup stream %s: %w", j.cfg.stream(), err)
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, j.cfg.consumerConfig())
	if err != nil {
		return fmt.Errorf("bind consumer: %w", err)
	}
	iter, err := cons.Messages(jetstream.PullMaxMessages(j.cfg.batch()))
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	defer iter.Stop()
	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	j.log.Info().
		Str("stream", j.cfg.stream()).
		Str("subject", SubjectFor(j.cfg.Env, j.cfg.Feed)).
		Msg("jetstream consumer bound")

	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return ctx.Err()
			}
			return fmt.Errorf("next message: %w", err)
		}
		d := NewDelivery(msg.Subject(), msg.Data(), msg.Ack)
		if err := send(ctx, out, d); err != nil {
			return err
		}
	}
}

// Close drains the connection.
func (j *JetStream) Close() error {
	if j.nc == nil {
		return nil
	}
	return j.nc.Drain()
}
