package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"momentum-go/internal/metrics"
)

// PayloadField is the stream entry field holding the raw JSON message.
const PayloadField = "payload"

// RedisConfig configures a Redis Streams consumer group reader.
type RedisConfig struct {
	Stream   string
	Group    string
	Consumer string
	Count    int64
	Block    time.Duration
}

// RedisStream reads a stream through a consumer group and acks with XACK.
// Entries left pending by a previous run of the same consumer are read
// before any new ones.
type RedisStream struct {
	log    zerolog.Logger
	client redis.UniversalClient
	cfg    RedisConfig
	// cursor walks the pending entries list; empty once drained.
	cursor string
}

// NewRedisStream wraps an existing client.
func NewRedisStream(log zerolog.Logger, client redis.UniversalClient, cfg RedisConfig) *RedisStream {
	if cfg.Count <= 0 {
		cfg.Count = 100
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	return &RedisStream{log: log, client: client, cfg: cfg, cursor: "0"}
}

// EnsureGroup creates the stream and group if needed.
func (r *RedisStream) EnsureGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.cfg.Stream, r.cfg.Group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", r.cfg.Group, r.cfg.Stream, err)
	}
	return nil
}

// ReadBatch performs one XREADGROUP. Until the pending list is drained it reads
// history from the cursor, then it reads new entries. An empty result is not an error.
func (r *RedisStream) ReadBatch(ctx context.Context) ([]Delivery, error) {
	pending := r.cursor != ""
	args := &redis.XReadGroupArgs{
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		Streams:  []string{r.cfg.Stream, ">"},
		Count:    r.cfg.Count,
		Block:    r.cfg.Block,
	}
	if pending {
		args.Streams[1] = r.cursor
		args.Block = -1
	}
	streams, err := r.client.XReadGroup(ctx, args).Result()
	if err == redis.Nil {
		if pending {
			r.drained()
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Delivery
	lastID := ""
	for _, s := range streams {
		for _, msg := range s.Messages {
			id := msg.ID
			lastID = id
			payload, _ := msg.Values[PayloadField].(string)
			out = append(out, NewDelivery(s.Stream, []byte(payload), func() error {
				ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return r.client.XAck(ackCtx, r.cfg.Stream, r.cfg.Group, id).Err()
			}))
		}
	}
	if pending {
		if lastID == "" {
			r.drained()
		} else {
			r.cursor = lastID
			metrics.TransportEvents.WithLabelValues("redis", "redelivered").Add(float64(len(out)))
		}
	}
	return out, nil
}

func (r *RedisStream) drained() {
	r.cursor = ""
	r.log.Info().Str("stream", r.cfg.Stream).Str("consumer", r.cfg.Consumer).Msg("pending entries drained")
}

// Subscribe ensures the group then loops ReadBatch, backing off on errors.
func (r *RedisStream) Subscribe(ctx context.Context, out chan<- Delivery) error {
	if err := r.EnsureGroup(ctx); err != nil {
		return err
	}
	r.log.Info().Str("stream", r.cfg.Stream).Str("group", r.cfg.Group).Msg("redis consumer group ready")
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		batch, err := r.ReadBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.TransportEvents.WithLabelValues("redis", "error").Inc()
			r.log.Warn().Err(err).Dur("backoff", backoff).Msg("redis read failed, retrying")
			if sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff
		for _, d := range batch {
			if err := send(ctx, out, d); err != nil {
				return err
			}
		}
	}
}

// Close closes the client.
func (r *RedisStream) Close() error { return r.client.Close() }
