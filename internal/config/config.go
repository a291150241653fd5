// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Activation gates signal evaluation until an instrument trades enough notional.
type Activation struct {
	ThresholdDollars float64 `yaml:"threshold_dollars"`
	WindowSec        int64   `yaml:"window_sec"`
}

// VolumeSpike tunes the volume spike model.
type VolumeSpike struct {
	Enabled           bool    `yaml:"enabled"`
	ShortWindowSec    int64   `yaml:"short_window_sec"`
	BaselineWindowSec int64   `yaml:"baseline_window_sec"`
	Multiplier        float64 `yaml:"multiplier"`
	MinSamples        int     `yaml:"min_samples"`
	MinShortContracts int64   `yaml:"min_short_contracts"`
}

// FlowImbalance tunes the aggressor-flow model.
type FlowImbalance struct {
	Enabled          bool    `yaml:"enabled"`
	WindowSec        int64   `yaml:"window_sec"`
	ConfirmWindowSec int64   `yaml:"confirm_window_sec"`
	Dominance        float64 `yaml:"dominance"`
	MinTrades        int     `yaml:"min_trades"`
	MinConfirmTrades int     `yaml:"min_confirm_trades"`
}

// PriceAccel tunes the price acceleration model.
type PriceAccel struct {
	Enabled        bool    `yaml:"enabled"`
	ShortWindowSec int64   `yaml:"short_window_sec"`
	MidWindowSec   int64   `yaml:"mid_window_sec"`
	LongWindowSec  int64   `yaml:"long_window_sec"`
	Ratio          float64 `yaml:"ratio"`
	MinSamples     int     `yaml:"min_samples"`
	MinMoveCents   int64   `yaml:"min_move_cents"`
	MinPrice       int64   `yaml:"min_price"`
	MaxPrice       int64   `yaml:"max_price"`
}

// Models groups every signal model.
type Models struct {
	VolumeSpike   VolumeSpike   `yaml:"volume_spike"`
	FlowImbalance FlowImbalance `yaml:"flow_imbalance"`
	PriceAccel    PriceAccel    `yaml:"price_accel"`
}

// Portfolio captures bankroll, sizing and the drawdown breaker.
type Portfolio struct {
	StartingBalanceDollars float64 `yaml:"starting_balance_dollars"`
	TradeSizeDollars       float64 `yaml:"trade_size_dollars"`
	MinContracts           int64   `yaml:"min_contracts"`
	MaxContracts           int64   `yaml:"max_contracts"`
	MaxOpenPositions       int     `yaml:"max_open_positions"`
	DrawdownHaltPct        float64 `yaml:"drawdown_halt_pct"`
	CooldownSec            int64   `yaml:"cooldown_sec"`
}

// Position holds per-position exit rules.
type Position struct {
	TakeProfitCents int64 `yaml:"take_profit_cents"`
	StopLossCents   int64 `yaml:"stop_loss_cents"`
	TimeStopMin     int64 `yaml:"time_stop_min"`
	// FlattenOnExit closes anything still open at the last seen price when the run ends.
	FlattenOnExit bool `yaml:"flatten_on_exit"`
}

// Fees selects the fee schedule. Model is "flat" or "kalshi".
type Fees struct {
	Model      string  `yaml:"model"`
	MakerCents float64 `yaml:"maker_cents"`
	TakerCents float64 `yaml:"taker_cents"`
	MakerRate  float64 `yaml:"maker_rate"`
	TakerRate  float64 `yaml:"taker_rate"`
}

// MarketClose configures behaviour near a market's close time.
type MarketClose struct {
	NoEntryBufferMin   int64 `yaml:"no_entry_buffer_min"`
	ForceExitBufferMin int64 `yaml:"force_exit_buffer_min"`
}

// Summary controls the periodic event-time summary.
type Summary struct {
	IntervalMin int64 `yaml:"interval_min"`
}

// NATS configures the JetStream transport.
type NATS struct {
	URL      string `yaml:"url"`
	Stream   string `yaml:"stream"`
	Consumer string `yaml:"consumer"`
}

// Redis configures the Redis Streams transport.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
	BlockMs  int    `yaml:"block_ms"`
}

// WebSocket configures the websocket relay transport.
type WebSocket struct {
	URL string `yaml:"url"`
}

// Live selects and configures the live transport. Transport is jetstream, redis or websocket.
type Live struct {
	Transport  string    `yaml:"transport"`
	BufferSize int       `yaml:"buffer_size"`
	NATS       NATS      `yaml:"nats"`
	Redis      Redis     `yaml:"redis"`
	WebSocket  WebSocket `yaml:"websocket"`
}

// Replay configures the archive reader. Dates are YYYY-MM-DD, inclusive.
type Replay struct {
	From        string  `yaml:"from"`
	To          string  `yaml:"to"`
	ArchiveURL  string  `yaml:"archive_url"`
	CacheDir    string  `yaml:"cache_dir"`
	Concurrency int     `yaml:"concurrency"`
	RatePerSec  float64 `yaml:"rate_per_sec"`
	TimeoutSec  int     `yaml:"timeout_sec"`
}

// Source configures where records come from.
type Source struct {
	Feed   string `yaml:"feed"`
	Live   Live   `yaml:"live"`
	Replay Replay `yaml:"replay"`
}

// Catalog configures market close-time discovery.
type Catalog struct {
	MarketsFile  string `yaml:"markets_file"`
	SecmasterURL string `yaml:"secmaster_url"`
	APIKey       string `yaml:"api_key"`
	RefreshSec   int    `yaml:"refresh_sec"`
}

// Output configures run artifacts.
type Output struct {
	Dir         string `yaml:"dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App         App         `yaml:"app"`
	Activation  Activation  `yaml:"activation"`
	Models      Models      `yaml:"models"`
	Portfolio   Portfolio   `yaml:"portfolio"`
	Position    Position    `yaml:"position"`
	Fees        Fees        `yaml:"fees"`
	MarketClose MarketClose `yaml:"market_close"`
	Summary     Summary     `yaml:"summary"`
	Source      Source      `yaml:"source"`
	Catalog     Catalog     `yaml:"catalog"`
	Output      Output      `yaml:"output"`
}

// Default returns a config with every knob at its default.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads a YAML file from disk, hydrates a Config struct and fills defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.ApplyDefaults()
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyDefaults fills zero values. Model enable flags are left as configured.
func (c *Config) ApplyDefaults() {
	setStr(&c.App.Name, "momentum")
	setStr(&c.App.Env, "prod")
	setStr(&c.App.LogLevel, "info")
	setInt64(&c.Activation.WindowSec, 300)
	setFloat(&c.Activation.ThresholdDollars, 250)

	setFloat(&c.Portfolio.StartingBalanceDollars, 500)
	setFloat(&c.Portfolio.TradeSizeDollars, 10)
	setInt64(&c.Portfolio.MinContracts, 1)
	setInt64(&c.Portfolio.MaxContracts, 100)
	setInt(&c.Portfolio.MaxOpenPositions, 10)
	setFloat(&c.Portfolio.DrawdownHaltPct, 20)

	setInt64(&c.Position.TakeProfitCents, 10)
	setInt64(&c.Position.StopLossCents, 5)
	setInt64(&c.Position.TimeStopMin, 60)

	setStr(&c.Fees.Model, "flat")
	if c.Fees.Model == "kalshi" {
		setFloat(&c.Fees.TakerRate, 0.07)
		setFloat(&c.Fees.MakerRate, 0.0175)
	}

	setInt64(&c.MarketClose.NoEntryBufferMin, 10)
	setInt64(&c.MarketClose.ForceExitBufferMin, 5)
	setInt64(&c.Summary.IntervalMin, 15)

	setStr(&c.Source.Feed, "kalshi")
	setStr(&c.Source.Live.Transport, "jetstream")
	setInt(&c.Source.Live.BufferSize, 1024)
	setStr(&c.Source.Live.NATS.URL, "nats://localhost:4222")
	setStr(&c.Source.Live.Redis.Addr, "localhost:6379")
	setStr(&c.Source.Live.Redis.Group, "momentum")
	setStr(&c.Source.Live.Redis.Consumer, "paper")
	setInt(&c.Source.Live.Redis.BlockMs, 2000)
	setStr(&c.Source.Replay.CacheDir, "data/archive")
	setInt(&c.Source.Replay.Concurrency, 4)
	setFloat(&c.Source.Replay.RatePerSec, 5)
	setInt(&c.Source.Replay.TimeoutSec, 30)

	setInt(&c.Catalog.RefreshSec, 300)
	setStr(&c.Output.Dir, "runs")
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Portfolio.StartingBalanceDollars <= 0 {
		errs = append(errs, errors.New("portfolio.starting_balance_dollars must be positive"))
	}
	if c.Portfolio.TradeSizeDollars <= 0 {
		errs = append(errs, errors.New("portfolio.trade_size_dollars must be positive"))
	}
	if c.Portfolio.MaxContracts > 0 && c.Portfolio.MinContracts > c.Portfolio.MaxContracts {
		errs = append(errs, errors.New("portfolio.min_contracts exceeds max_contracts"))
	}
	if c.Portfolio.DrawdownHaltPct < 0 || c.Portfolio.DrawdownHaltPct > 100 {
		errs = append(errs, fmt.Errorf("portfolio.drawdown_halt_pct %.2f outside [0,100]", c.Portfolio.DrawdownHaltPct))
	}
	switch c.Fees.Model {
	case "flat", "kalshi":
	default:
		errs = append(errs, fmt.Errorf("fees.model %q unknown", c.Fees.Model))
	}
	switch c.Source.Live.Transport {
	case "jetstream", "redis", "websocket":
	default:
		errs = append(errs, fmt.Errorf("source.live.transport %q unknown", c.Source.Live.Transport))
	}
	if c.Source.Feed == "" {
		errs = append(errs, errors.New("source.feed is required"))
	}
	if c.Summary.IntervalMin <= 0 {
		errs = append(errs, errors.New("summary.interval_min must be positive"))
	}
	if !c.Models.VolumeSpike.Enabled && !c.Models.FlowImbalance.Enabled && !c.Models.PriceAccel.Enabled {
		errs = append(errs, errors.New("at least one model must be enabled"))
	}
	return errors.Join(errs...)
}

// LoadDotEnv reads .env style files into the process environment. Missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		_ = godotenv.Load()
		return
	}
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// ApplyEnv overlays endpoints and secrets from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("MOMENTUM_ENV", &c.App.Env)
	str("MOMENTUM_LOG_LEVEL", &c.App.LogLevel)
	str("MOMENTUM_METRICS_ADDR", &c.App.MetricsAddr)
	str("MOMENTUM_FEED", &c.Source.Feed)
	str("MOMENTUM_NATS_URL", &c.Source.Live.NATS.URL)
	str("MOMENTUM_REDIS_ADDR", &c.Source.Live.Redis.Addr)
	str("MOMENTUM_REDIS_PASSWORD", &c.Source.Live.Redis.Password)
	str("MOMENTUM_WS_URL", &c.Source.Live.WebSocket.URL)
	str("MOMENTUM_ARCHIVE_URL", &c.Source.Replay.ArchiveURL)
	str("MOMENTUM_SECMASTER_URL", &c.Catalog.SecmasterURL)
	str("MOMENTUM_SECMASTER_API_KEY", &c.Catalog.APIKey)
	str("MOMENTUM_POSTGRES_DSN", &c.Output.PostgresDSN)
	if v, ok := lookup("MOMENTUM_REDIS_DB"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.Source.Live.Redis.DB = n
		}
	}
}

func setStr(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if *dst <= 0 {
		*dst = v
	}
}

func setInt64(dst *int64, v int64) {
	if *dst <= 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if *dst <= 0 {
		*dst = v
	}
}
