package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"momentum-go/internal/config"
	"momentum-go/internal/engine"
	"momentum-go/internal/exchange"
	"momentum-go/internal/source"
	"momentum-go/internal/transport"
)

var liveTransport string

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Trade on paper against the live record stream",
	Long: `Consume the configured feed from JetStream, Redis Streams or a websocket relay and
run the paper portfolio until interrupted.

Examples:
  paper live --config config.yaml
  paper live --transport redis`,
	RunE: runLive,
}

func init() {
	rootCmd.AddCommand(liveCmd)
	liveCmd.Flags().StringVar(&liveTransport, "transport", "", "Override source.live.transport (jetstream|redis|websocket)")
}

func runLive(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if liveTransport != "" {
		cfg.Source.Live.Transport = liveTransport
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log := newLogger(cfg)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	catalog, err := loadCatalog(cfg, log)
	if err != nil {
		return err
	}
	sub, err := newSubscriber(cfg, log.With().Str("component", "transport").Logger())
	if err != nil {
		return err
	}
	// Close-time changes ride the record channel so the engine stays the only catalog writer.
	poller := exchange.NewSecmasterPoller(log.With().Str("component", "secmaster").Logger(),
		cfg.Catalog.SecmasterURL, cfg.Catalog.APIKey, time.Duration(cfg.Catalog.RefreshSec)*time.Second)
	if poller != nil {
		sub = transport.Join(sub, poller)
	}
	src := source.NewLive(ctx, log, cfg.Source.Feed, sub, source.WithBufferSize(cfg.Source.Live.BufferSize))

	now := time.Now().UTC()
	info := engine.RunInfo{ID: newRunID("live", now), Mode: "live", Feed: cfg.Source.Feed, StartedAt: now}
	return runEngine(ctx, cfg, log, catalog, src, info, src.Err)
}

// newSubscriber builds the configured transport.
func newSubscriber(cfg *config.Config, log zerolog.Logger) (transport.Subscriber, error) {
	live := cfg.Source.Live
	switch live.Transport {
	case "jetstream":
		js, err := transport.NewJetStream(log, transport.JetStreamConfig{
			URL:      live.NATS.URL,
			Env:      cfg.App.Env,
			Feed:     cfg.Source.Feed,
			Stream:   live.NATS.Stream,
			Consumer: live.NATS.Consumer,
		})
		if err != nil {
			return nil, err
		}
		return js, nil
	case "redis":
		stream := live.Redis.Stream
		if stream == "" {
			stream = strings.ToLower(cfg.App.Env + "." + cfg.Source.Feed)
		}
		client := redis.NewClient(&redis.Options{
			Addr:     live.Redis.Addr,
			Password: live.Redis.Password,
			DB:       live.Redis.DB,
		})
		return transport.NewRedisStream(log, client, transport.RedisConfig{
			Stream:   stream,
			Group:    live.Redis.Group,
			Consumer: live.Redis.Consumer,
			Block:    time.Duration(live.Redis.BlockMs) * time.Millisecond,
		}), nil
	case "websocket":
		if live.WebSocket.URL == "" {
			return nil, fmt.Errorf("source.live.websocket.url is required")
		}
		return transport.NewWebSocket(log, live.WebSocket.URL), nil
	}
	return nil, fmt.Errorf("unknown transport %q", live.Transport)
}
