package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum-go/internal/paper"
	"momentum-go/internal/risk"
	"momentum-go/internal/signal"
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres"), time.Second), mock
}

func sampleRun() Run {
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	return Run{
		ID: "run-1", Mode: "replay", Feed: "kalshi",
		StartedAt: start, FinishedAt: start.Add(time.Minute),
		StartingBalance: decimal.NewFromInt(10000), Balance: decimal.NewFromInt(10060),
		TotalPnL: decimal.NewFromInt(60), Trades: 1,
	}
}

func TestMigrate(t *testing.T) {
	pg, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS runs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS positions").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, pg.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunWritesRunAndPositions(t *testing.T) {
	pg, mock := newMock(t)
	cp := paper.ClosedPosition{
		Position: paper.Position{ID: "p1", Model: "volume_spike", Instrument: "KXA", Side: signal.Long, EntryPrice: 45, Contracts: 10, EntryTs: 100},
		ExitPrice: 55, ExitTs: 160, Reason: risk.ExitTakeProfit,
		Fees: decimal.NewFromInt(40), PnL: decimal.NewFromInt(60),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").
		WithArgs("run-1", "replay", "kalshi", sqlmock.AnyArg(), sqlmock.AnyArg(), "10000", "10060", "60", 1, false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep := mock.ExpectPrepare("INSERT INTO positions")
	prep.ExpectExec().
		WithArgs("run-1", "p1", "volume_spike", "KXA", "long", 10, 45, 55, 100, 160, "take_profit", "40", "60").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, pg.SaveRun(context.Background(), sampleRun(), []paper.ClosedPosition{cp}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunMapsDuplicate(t *testing.T) {
	pg, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := pg.SaveRun(context.Background(), sampleRun(), nil)
	assert.True(t, errors.Is(err, ErrDuplicateRun), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunRollsBackOnPositionError(t *testing.T) {
	pg, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(1, 1))
	prep := mock.ExpectPrepare("INSERT INTO positions")
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := pg.SaveRun(context.Background(), sampleRun(), []paper.ClosedPosition{{Position: paper.Position{ID: "p1"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert position p1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPnLByModel(t *testing.T) {
	pg, mock := newMock(t)
	mock.ExpectQuery("SELECT model, SUM\\(pnl\\)").
		WillReturnRows(sqlmock.NewRows([]string{"model", "pnl"}).AddRow("flow_imbalance", "-12").AddRow("volume_spike", "60"))

	out, err := pg.PnLByModel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "60", out["volume_spike"].String())
	assert.Equal(t, "-12", out["flow_imbalance"].String())
	require.NoError(t, mock.ExpectationsWereMet())
}
