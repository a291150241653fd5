package paper

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-go/internal/execution"
	"momentum-go/internal/risk"
	"momentum-go/internal/signal"
)

func newPortfolio(t *testing.T, cfg Config, fees execution.FeeSchedule, sinks ...Recorder) *Portfolio {
	t.Helper()
	return NewPortfolio(cfg, execution.NewExecutor(zerolog.Nop(), fees), sinks...)
}

func baseConfig() Config {
	return Config{
		StartingBalanceCents: decimal.NewFromInt(10000),
		Sizer:                risk.Sizer{TradeSizeCents: decimal.NewFromInt(450), MinContracts: 1, MaxContracts: 100},
		Limits:               risk.Limits{MaxOpenPositions: 5, DrawdownHaltPct: decimal.NewFromInt(20)},
		Exits:                risk.ExitRules{TakeProfitCents: 10, StopLossCents: 5, TimeStopSec: 3600},
	}
}

func TestFeeAdjustedPnL(t *testing.T) {
	p := newPortfolio(t, baseConfig(), execution.FlatFees(0, 2))

	pos, err := p.OpenPosition("volume_spike", "KXBTC-T1", signal.Long, 45, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos.Contracts)
	assert.Equal(t, "20", pos.EntryFee.String())
	assert.Equal(t, "450", pos.EntryCost.String())
	assert.NotEmpty(t, pos.ID)

	closed := p.CheckExits(55, 0, 0, "KXBTC-T1", 200)
	require.Len(t, closed, 1)
	assert.Equal(t, risk.ExitTakeProfit, closed[0].Reason)
	assert.Equal(t, "60", closed[0].PnL.String())
	assert.Equal(t, "40", closed[0].Fees.String())

	sum := p.Summary()
	assert.Equal(t, "10060", sum.Balance.String())
	assert.Equal(t, "60", sum.TotalPnL.String())
	assert.Equal(t, 0, sum.Open)
	assert.Equal(t, 1, sum.Closed)
}

func TestShortPositionPnL(t *testing.T) {
	p := newPortfolio(t, baseConfig(), execution.FlatFees(0, 1))
	pos, err := p.OpenPosition("flow_imbalance", "KXNBA", signal.Short, 60, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pos.Contracts)
	assert.Equal(t, "280", pos.EntryCost.String(), "short collateral is the NO price")

	closed := p.CheckExits(50, 0, 0, "KXNBA", 10)
	require.Len(t, closed, 1)
	assert.Equal(t, risk.ExitTakeProfit, closed[0].Reason)
	// 10c * 7 contracts - 14c fees
	assert.Equal(t, "56", closed[0].PnL.String())
}

func TestMarketCloseOutranksTakeProfit(t *testing.T) {
	p := newPortfolio(t, baseConfig(), execution.FlatFees(0, 0))
	_, err := p.OpenPosition("price_accel", "M1", signal.Long, 40, 0)
	require.NoError(t, err)

	// closes at 1000, force-exit buffer 5 minutes: now=800 is inside the buffer
	closed := p.CheckExits(60, 1000, 5, "M1", 800)
	require.Len(t, closed, 1)
	assert.Equal(t, risk.ExitMarketClose, closed[0].Reason)
}

func TestSimultaneousExitsCloseOnce(t *testing.T) {
	p := newPortfolio(t, baseConfig(), execution.FlatFees(0, 0))
	_, err := p.OpenPosition("volume_spike", "KXBTC-T1", signal.Long, 45, 0)
	require.NoError(t, err)

	// Past the one-hour time stop and at the take-profit target.
	closed := p.CheckExits(56, 0, 0, "KXBTC-T1", 3700)
	require.Len(t, closed, 1)
	assert.Equal(t, risk.ExitTakeProfit, closed[0].Reason)

	if again := p.CheckExits(56, 0, 0, "KXBTC-T1", 3800); len(again) != 0 {
		t.Fatalf("position closed twice: %+v", again)
	}
	sum := p.Summary()
	assert.Equal(t, 0, sum.Open)
	assert.Equal(t, 1, sum.Closed)
}

func TestCheckExitsOnlyTouchesInstrument(t *testing.T) {
	p := newPortfolio(t, baseConfig(), execution.FlatFees(0, 0))
	for _, model := range []string{"volume_spike", "flow_imbalance"} {
		_, err := p.OpenPosition(model, "A", signal.Long, 30, 0)
		require.NoError(t, err)
	}
	_, err := p.OpenPosition("volume_spike", "B", signal.Long, 30, 0)
	require.NoError(t, err)

	closed := p.CheckExits(20, 0, 0, "A", 10)
	require.Len(t, closed, 2)
	for _, cp := range closed {
		assert.Equal(t, risk.ExitStopLoss, cp.Reason)
	}
	open := p.Open()
	require.Len(t, open, 1)
	assert.Equal(t, "B", open[0].Instrument)

	assert.Empty(t, p.CheckExits(30, 0, 0, "B", 20))
	closed = p.CheckExits(30, 0, 0, "B", 3600)
	require.Len(t, closed, 1)
	assert.Equal(t, risk.ExitTimeStop, closed[0].Reason)
}

func TestOpenPositionRejections(t *testing.T) {
	cfg := baseConfig()
	cfg.Limits.MaxOpenPositions = 1
	p := newPortfolio(t, cfg, execution.FlatFees(0, 0))

	_, err := p.OpenPosition("m", "", signal.Long, 40, 0)
	assert.True(t, errors.Is(err, ErrRejected))
	_, err = p.OpenPosition("m", "X", signal.Long, 0, 0)
	assert.True(t, errors.Is(err, ErrRejected))

	_, err = p.OpenPosition("m", "X", signal.Long, 40, 0)
	require.NoError(t, err)
	_, err = p.OpenPosition("m", "X", signal.Long, 41, 1)
	assert.True(t, errors.Is(err, ErrRejected), "duplicate model/instrument")
	_, err = p.OpenPosition("m", "Y", signal.Long, 41, 1)
	assert.True(t, errors.Is(err, ErrRejected), "max open positions")

	poor := baseConfig()
	poor.StartingBalanceCents = decimal.NewFromInt(100)
	_, err = newPortfolio(t, poor, execution.FlatFees(0, 0)).OpenPosition("m", "X", signal.Long, 40, 0)
	assert.True(t, errors.Is(err, ErrRejected), "insufficient balance")
}

func TestHaltIsMonotonic(t *testing.T) {
	cfg := Config{
		StartingBalanceCents: decimal.NewFromInt(1000),
		Sizer:                risk.Sizer{TradeSizeCents: decimal.NewFromInt(500)},
		Limits:               risk.Limits{MaxOpenPositions: 2, DrawdownHaltPct: decimal.NewFromInt(5)},
		Exits:                risk.ExitRules{TakeProfitCents: 10, StopLossCents: 5},
	}
	p := newPortfolio(t, cfg, execution.FlatFees(0, 0))
	_, err := p.OpenPosition("m", "A", signal.Long, 50, 0)
	require.NoError(t, err)
	_, err = p.OpenPosition("m", "B", signal.Long, 50, 0)
	require.NoError(t, err)

	closed := p.CheckExits(44, 0, 0, "A", 10)
	require.Len(t, closed, 1)
	assert.Equal(t, "-60", closed[0].PnL.String())
	require.True(t, p.Halted())
	assert.False(t, p.CanEnter("C", 0, 0, 20))
	_, err = p.OpenPosition("m", "C", signal.Long, 50, 20)
	assert.True(t, errors.Is(err, ErrRejected))

	// exits keep working while halted and recovery does not clear the halt
	closed = p.CheckExits(60, 0, 0, "B", 30)
	require.Len(t, closed, 1)
	sum := p.Summary()
	assert.Equal(t, "1040", sum.Balance.String())
	assert.True(t, sum.DrawdownPct.IsZero())
	assert.True(t, sum.Halted)
}

func TestCanEnterBuffersAndCooldown(t *testing.T) {
	cfg := baseConfig()
	cfg.CooldownSec = 300
	p := newPortfolio(t, cfg, execution.FlatFees(0, 0))

	assert.True(t, p.CanEnter("A", 0, 10, 0))
	assert.True(t, p.CanEnter("A", 10000, 10, 9399))
	assert.False(t, p.CanEnter("A", 10000, 10, 9400))

	_, err := p.OpenPosition("m", "A", signal.Long, 50, 0)
	require.NoError(t, err)
	require.Len(t, p.CheckExits(60, 0, 0, "A", 100), 1)
	assert.False(t, p.CanEnter("A", 0, 0, 200))
	assert.True(t, p.CanEnter("B", 0, 0, 200))
	assert.True(t, p.CanEnter("A", 0, 0, 400))
}

type captureSink struct{ got []ClosedPosition }

func (c *captureSink) Record(cp ClosedPosition) { c.got = append(c.got, cp) }

func TestCloseAllAndSinks(t *testing.T) {
	sink := &captureSink{}
	p := newPortfolio(t, baseConfig(), execution.FlatFees(0, 0), sink)
	_, err := p.OpenPosition("m", "A", signal.Long, 50, 0)
	require.NoError(t, err)
	_, err = p.OpenPosition("m", "B", signal.Short, 50, 0)
	require.NoError(t, err)

	closed := p.CloseAll(map[string]int64{"A": 52}, 100, risk.ExitEndOfRun)
	require.Len(t, closed, 2)
	assert.Equal(t, "18", closed[0].PnL.String())
	assert.True(t, closed[1].PnL.IsZero(), "no mark closes flat")
	assert.Len(t, sink.got, 2)
	assert.Empty(t, p.Open())
}

func TestPositionIDsAreDeterministic(t *testing.T) {
	run := func() string {
		p := newPortfolio(t, baseConfig(), execution.FlatFees(0, 0))
		pos, err := p.OpenPosition("m", "A", signal.Long, 50, 42)
		require.NoError(t, err)
		return pos.ID
	}
	assert.Equal(t, run(), run())
}
