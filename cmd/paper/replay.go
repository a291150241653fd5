package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"momentum-go/internal/archive"
	"momentum-go/internal/config"
	"momentum-go/internal/engine"
	"momentum-go/internal/source"
)

var (
	replayFrom string
	replayTo   string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay archived days through the paper portfolio",
	Long: `Replay every record of the feed archive between --from and --to (inclusive, UTC
dates) through the same engine used live. Missing days are skipped.

Examples:
  paper replay --from 2026-01-02 --to 2026-01-05
  paper replay --from 2026-01-02 --config replay.yaml`,
	RunE: runReplay,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download archive days into the local cache",
	RunE:  runFetch,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(fetchCmd)
	for _, c := range []*cobra.Command{replayCmd, fetchCmd} {
		c.Flags().StringVar(&replayFrom, "from", "", "First date (YYYY-MM-DD), overrides source.replay.from")
		c.Flags().StringVar(&replayTo, "to", "", "Last date (YYYY-MM-DD), overrides source.replay.to")
	}
}

// replayDates resolves the inclusive date range. An empty end means a single day.
func replayDates(cfg *config.Config) ([]string, error) {
	from, to := cfg.Source.Replay.From, cfg.Source.Replay.To
	if replayFrom != "" {
		from = replayFrom
	}
	if replayTo != "" {
		to = replayTo
	}
	if from == "" {
		return nil, fmt.Errorf("replay needs --from or source.replay.from")
	}
	if to == "" {
		to = from
	}
	return archive.Dates(from, to)
}

// openArchive returns the cache-backed store, fetching through HTTP when an archive URL is set.
func openArchive(cfg *config.Config, log zerolog.Logger) archive.Store {
	rc := cfg.Source.Replay
	cache := archive.NewLocalStore(rc.CacheDir)
	if rc.ArchiveURL == "" {
		return cache
	}
	return archive.NewHTTPStore(log, rc.ArchiveURL, cache,
		archive.WithHTTPClient(&http.Client{Timeout: time.Duration(rc.TimeoutSec) * time.Second}),
		archive.WithRateLimit(rc.RatePerSec, rc.Concurrency),
	)
}

func prefetch(ctx context.Context, cfg *config.Config, log zerolog.Logger, store archive.Store, dates []string) error {
	res, err := archive.Prefetch(ctx, store, cfg.Source.Feed, dates, cfg.Source.Replay.Concurrency)
	if err != nil {
		return fmt.Errorf("prefetch: %w", err)
	}
	log.Info().Int("dates", res.Dates).Int("files", res.Files).Strs("missing", res.Missing).Msg("archive ready")
	return nil
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log := newLogger(cfg)
	dates, err := replayDates(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := openArchive(cfg, log.With().Str("component", "archive").Logger())
	if cfg.Source.Replay.ArchiveURL != "" {
		if err := prefetch(ctx, cfg, log, store, dates); err != nil {
			return err
		}
	}
	catalog, err := loadCatalog(cfg, log)
	if err != nil {
		return err
	}

	src := source.NewReplay(log, store, cfg.Source.Feed, dates)
	now := time.Now().UTC()
	info := engine.RunInfo{
		ID: newRunID("replay", now), Mode: "replay", Feed: cfg.Source.Feed,
		From: dates[0], To: dates[len(dates)-1], StartedAt: now,
	}
	return runEngine(ctx, cfg, log, catalog, src, info, nil)
}

func runFetch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Source.Replay.ArchiveURL == "" {
		return fmt.Errorf("fetch needs source.replay.archive_url")
	}
	log := newLogger(cfg)
	dates, err := replayDates(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return prefetch(ctx, cfg, log, openArchive(cfg, log), dates)
}
