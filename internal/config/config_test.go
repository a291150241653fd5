package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join("testdata", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Name != "momentum-test" {
		t.Fatalf("unexpected App.Name: %s", cfg.App.Name)
	}
	if !cfg.Models.VolumeSpike.Enabled || cfg.Models.PriceAccel.Enabled {
		t.Fatalf("unexpected model flags: %+v", cfg.Models)
	}
	if cfg.Models.FlowImbalance.Dominance != 0.75 {
		t.Fatalf("unexpected dominance: %.2f", cfg.Models.FlowImbalance.Dominance)
	}
	if cfg.Portfolio.TradeSizeDollars != 4.5 {
		t.Fatalf("unexpected trade size: %.2f", cfg.Portfolio.TradeSizeDollars)
	}
	if cfg.Source.Live.Transport != "redis" || cfg.Source.Live.Redis.Addr != "redis:6379" {
		t.Fatalf("unexpected live source: %+v", cfg.Source.Live)
	}
	if cfg.Source.Replay.From != "2026-01-02" {
		t.Fatalf("unexpected replay range: %+v", cfg.Source.Replay)
	}

	// defaults fill what the file leaves out
	assert.Equal(t, int64(5), cfg.MarketClose.ForceExitBufferMin)
	assert.Equal(t, int64(15), cfg.MarketClose.NoEntryBufferMin)
	assert.Equal(t, int64(15), cfg.Summary.IntervalMin)
	assert.Equal(t, 0.07, cfg.Fees.TakerRate)
	assert.Equal(t, "momentum", cfg.Source.Live.Redis.Group)
	assert.Equal(t, 1024, cfg.Source.Live.BufferSize)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Models.PriceAccel.Enabled = true
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	assert.Error(t, Save(path, nil))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err, "no model enabled")

	cfg.Models.VolumeSpike.Enabled = true
	require.NoError(t, cfg.Validate())

	cfg.Fees.Model = "percent"
	cfg.Source.Live.Transport = "kafka"
	cfg.Portfolio.DrawdownHaltPct = 150
	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"fees.model", "source.live.transport", "drawdown_halt_pct"} {
		assert.True(t, strings.Contains(err.Error(), want), "missing %q in %v", want, err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"MOMENTUM_NATS_URL":     "nats://nats:4222",
		"MOMENTUM_POSTGRES_DSN": "postgres://paper@db/runs",
		"MOMENTUM_REDIS_DB":     "3",
		"MOMENTUM_FEED":         "  ",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "nats://nats:4222", cfg.Source.Live.NATS.URL)
	assert.Equal(t, "postgres://paper@db/runs", cfg.Output.PostgresDSN)
	assert.Equal(t, 3, cfg.Source.Live.Redis.DB)
	assert.Equal(t, "kalshi", cfg.Source.Feed, "blank values are ignored")
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MOMENTUM_SECMASTER_URL=http://secmaster:8080\n"), 0o644))
	t.Setenv("MOMENTUM_SECMASTER_URL", "")
	require.NoError(t, os.Unsetenv("MOMENTUM_SECMASTER_URL"))

	LoadDotEnv(path)
	cfg := Default()
	cfg.ApplyEnv(nil)
	assert.Equal(t, "http://secmaster:8080", cfg.Catalog.SecmasterURL)
}
