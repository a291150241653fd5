package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"momentum-go/internal/config"
	"momentum-go/internal/engine"
	"momentum-go/internal/exchange"
	"momentum-go/internal/metrics"
	"momentum-go/internal/source"
	"momentum-go/internal/store"
)

// newRunID returns a sortable, unique run identifier.
func newRunID(mode string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s", mode, now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

// loadCatalog seeds close times from the markets file when configured.
func loadCatalog(cfg *config.Config, log zerolog.Logger) (*exchange.Catalog, error) {
	catalog := exchange.NewCatalog()
	if cfg.Catalog.MarketsFile == "" {
		return catalog, nil
	}
	n, err := catalog.LoadFile(cfg.Catalog.MarketsFile)
	if err != nil {
		return nil, fmt.Errorf("load markets file: %w", err)
	}
	log.Info().Int("markets", n).Str("file", cfg.Catalog.MarketsFile).Msg("catalog loaded")
	return catalog, nil
}

// runEngine drives src through a configured engine and writes the run artifacts.
func runEngine(ctx context.Context, cfg *config.Config, log zerolog.Logger, catalog *exchange.Catalog, src source.Source, info engine.RunInfo, health metrics.HealthFunc) error {
	dir, err := engine.RunDir(cfg.Output.Dir, info.ID)
	if err != nil {
		return err
	}
	trades, err := engine.OpenTrades(dir)
	if err != nil {
		return fmt.Errorf("open trades log: %w", err)
	}

	var srv interface{ Shutdown(context.Context) error }
	if cfg.App.MetricsAddr != "" {
		srv = metrics.Serve(cfg.App.MetricsAddr, health)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	obs := engine.Multi{engine.LogObserver{Log: log}, engine.MetricsObserver{}}
	eng := engine.NewFromConfig(cfg, log, catalog, obs, trades)
	log.Info().Str("run_id", info.ID).Str("mode", info.Mode).Str("feed", info.Feed).Str("dir", dir).Msg("paper engine started")

	res, runErr := eng.Run(ctx, src)
	info.FinishedAt = time.Now().UTC()
	errs := []error{runErr, trades.Close(), src.Close()}
	if err := engine.WriteSummary(dir, info, res); err != nil {
		errs = append(errs, fmt.Errorf("write summary: %w", err))
	}
	if cfg.Output.PostgresDSN != "" {
		if err := persist(cfg, info, res); err != nil {
			errs = append(errs, err)
		} else {
			log.Info().Str("run_id", info.ID).Int("positions", len(res.Closed)).Msg("run stored")
		}
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	return errors.Join(errs...)
}

// persist stores the run in Postgres. It uses its own deadline so an interrupted run is still saved.
func persist(cfg *config.Config, info engine.RunInfo, res engine.Result) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg, err := store.Open(cfg.Output.PostgresDSN, 10*time.Second)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	return pg.SaveRun(ctx, store.Run{
		ID:              info.ID,
		Mode:            info.Mode,
		Feed:            info.Feed,
		StartedAt:       info.StartedAt,
		FinishedAt:      info.FinishedAt,
		StartingBalance: engine.PortfolioConfig(cfg).StartingBalanceCents,
		Balance:         res.Summary.Balance,
		TotalPnL:        res.Summary.TotalPnL,
		Trades:          len(res.Closed),
		Halted:          res.Summary.Halted,
	}, res.Closed)
}
