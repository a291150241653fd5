package engine

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"momentum-go/internal/config"
	"momentum-go/internal/exchange"
	"momentum-go/internal/execution"
	"momentum-go/internal/paper"
	"momentum-go/internal/risk"
	"momentum-go/internal/strategy"
)

// StrategyParams maps the models section onto evaluator parameters.
func StrategyParams(cfg *config.Config) strategy.Params {
	m := cfg.Models
	return strategy.Params{
		VolumeSpike: strategy.VolumeSpikeParams{
			Enabled:           m.VolumeSpike.Enabled,
			ShortWindowSec:    m.VolumeSpike.ShortWindowSec,
			BaselineWindowSec: m.VolumeSpike.BaselineWindowSec,
			Multiplier:        m.VolumeSpike.Multiplier,
			MinSamples:        m.VolumeSpike.MinSamples,
			MinShortContracts: m.VolumeSpike.MinShortContracts,
		},
		FlowImbalance: strategy.FlowImbalanceParams{
			Enabled:          m.FlowImbalance.Enabled,
			WindowSec:        m.FlowImbalance.WindowSec,
			ConfirmWindowSec: m.FlowImbalance.ConfirmWindowSec,
			Dominance:        m.FlowImbalance.Dominance,
			MinTrades:        m.FlowImbalance.MinTrades,
			MinConfirmTrades: m.FlowImbalance.MinConfirmTrades,
		},
		PriceAccel: strategy.PriceAccelParams{
			Enabled:        m.PriceAccel.Enabled,
			ShortWindowSec: m.PriceAccel.ShortWindowSec,
			MidWindowSec:   m.PriceAccel.MidWindowSec,
			LongWindowSec:  m.PriceAccel.LongWindowSec,
			Ratio:          m.PriceAccel.Ratio,
			MinSamples:     m.PriceAccel.MinSamples,
			MinMoveCents:   m.PriceAccel.MinMoveCents,
			MinPrice:       m.PriceAccel.MinPrice,
			MaxPrice:       m.PriceAccel.MaxPrice,
		},
	}
}

// dollars converts a configured dollar amount to cents.
func dollars(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Mul(decimal.NewFromInt(100)).Round(0)
}

// PortfolioConfig maps the portfolio and position sections onto paper.Config.
func PortfolioConfig(cfg *config.Config) paper.Config {
	return paper.Config{
		StartingBalanceCents: dollars(cfg.Portfolio.StartingBalanceDollars),
		Sizer: risk.Sizer{
			TradeSizeCents: dollars(cfg.Portfolio.TradeSizeDollars),
			MinContracts:   cfg.Portfolio.MinContracts,
			MaxContracts:   cfg.Portfolio.MaxContracts,
		},
		Limits: risk.Limits{
			MaxOpenPositions: cfg.Portfolio.MaxOpenPositions,
			DrawdownHaltPct:  decimal.NewFromFloat(cfg.Portfolio.DrawdownHaltPct),
		},
		Exits: risk.ExitRules{
			TakeProfitCents: cfg.Position.TakeProfitCents,
			StopLossCents:   cfg.Position.StopLossCents,
			TimeStopSec:     cfg.Position.TimeStopMin * 60,
		},
		CooldownSec: cfg.Portfolio.CooldownSec,
	}
}

// FeeSchedule maps the fees section onto the execution schedule.
func FeeSchedule(cfg *config.Config) execution.FeeSchedule {
	if execution.FeeModel(cfg.Fees.Model) == execution.FeeKalshi {
		return execution.FeeSchedule{
			Model:     execution.FeeKalshi,
			MakerRate: decimal.NewFromFloat(cfg.Fees.MakerRate),
			TakerRate: decimal.NewFromFloat(cfg.Fees.TakerRate),
		}
	}
	return execution.FlatFees(cfg.Fees.MakerCents, cfg.Fees.TakerCents)
}

// LoopConfig maps the activation, close-buffer and summary sections onto Config.
func LoopConfig(cfg *config.Config) Config {
	return Config{
		ActivationThresholdDollars: cfg.Activation.ThresholdDollars,
		ActivationWindowSec:        cfg.Activation.WindowSec,
		NoEntryBufferMin:           cfg.MarketClose.NoEntryBufferMin,
		ForceExitBufferMin:         cfg.MarketClose.ForceExitBufferMin,
		SummaryIntervalSec:         cfg.Summary.IntervalMin * 60,
		FlattenOnExit:              cfg.Position.FlattenOnExit,
	}
}

// NewFromConfig assembles an engine with its portfolio, executor and evaluators.
func NewFromConfig(cfg *config.Config, log zerolog.Logger, catalog *exchange.Catalog, obs Observer, sinks ...paper.Recorder) *Engine {
	exec := execution.NewExecutor(log.With().Str("component", "execution").Logger(), FeeSchedule(cfg))
	portfolio := paper.NewPortfolio(PortfolioConfig(cfg), exec, sinks...)
	return New(LoopConfig(cfg), log, strategy.Build(StrategyParams(cfg)), portfolio, catalog, obs)
}

// Portfolio exposes the simulated portfolio.
func (e *Engine) Portfolio() *paper.Portfolio { return e.portfolio }
