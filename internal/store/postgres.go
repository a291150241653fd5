// Package store persists finished runs and their closed positions to PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"momentum-go/internal/paper"
)

// ErrDuplicateRun is returned when a run id already exists.
var ErrDuplicateRun = errors.New("run already stored")

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	mode             TEXT NOT NULL,
	feed             TEXT NOT NULL,
	started_at       TIMESTAMPTZ NOT NULL,
	finished_at      TIMESTAMPTZ NOT NULL,
	starting_balance NUMERIC NOT NULL,
	balance          NUMERIC NOT NULL,
	total_pnl        NUMERIC NOT NULL,
	trades           INTEGER NOT NULL,
	halted           BOOLEAN NOT NULL
)`

const schemaPositions = `
CREATE TABLE IF NOT EXISTS positions (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	position_id TEXT NOT NULL,
	model       TEXT NOT NULL,
	instrument  TEXT NOT NULL,
	side        TEXT NOT NULL,
	contracts   BIGINT NOT NULL,
	entry_price BIGINT NOT NULL,
	exit_price  BIGINT NOT NULL,
	entry_ts    BIGINT NOT NULL,
	exit_ts     BIGINT NOT NULL,
	reason      TEXT NOT NULL,
	fees        NUMERIC NOT NULL,
	pnl         NUMERIC NOT NULL,
	PRIMARY KEY (run_id, position_id)
)`

// Run is the row stored per finished run. Money is in cents.
type Run struct {
	ID              string          `db:"id"`
	Mode            string          `db:"mode"`
	Feed            string          `db:"feed"`
	StartedAt       time.Time       `db:"started_at"`
	FinishedAt      time.Time       `db:"finished_at"`
	StartingBalance decimal.Decimal `db:"starting_balance"`
	Balance         decimal.Decimal `db:"balance"`
	TotalPnL        decimal.Decimal `db:"total_pnl"`
	Trades          int             `db:"trades"`
	Halted          bool            `db:"halted"`
}

// Postgres writes runs with a bounded timeout per call.
type Postgres struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects with the lib/pq driver.
func Open(dsn string, timeout time.Duration) (*Postgres, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, timeout), nil
}

// New wraps an existing handle.
func New(db *sqlx.DB, timeout time.Duration) *Postgres {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Postgres{db: db, timeout: timeout}
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.db.PingContext(ctx)
}

// Migrate creates the tables when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	for _, stmt := range []string{schemaRuns, schemaPositions} {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SaveRun stores the run and every closed position in one transaction.
func (p *Postgres) SaveRun(ctx context.Context, run Run, closed []paper.ClosedPosition) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout*time.Duration(len(closed)/500+1))
	defer cancel()

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO runs (id, mode, feed, started_at, finished_at, starting_balance, balance, total_pnl, trades, halted)
		VALUES (:id, :mode, :feed, :started_at, :finished_at, :starting_balance, :balance, :total_pnl, :trades, :halted)`, run)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, run.ID)
		}
		return fmt.Errorf("insert run: %w", err)
	}

	if len(closed) > 0 {
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO positions (run_id, position_id, model, instrument, side, contracts, entry_price, exit_price, entry_ts, exit_ts, reason, fees, pnl)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`)
		if err != nil {
			return fmt.Errorf("prepare positions: %w", err)
		}
		defer stmt.Close()
		for _, cp := range closed {
			if _, err := stmt.ExecContext(ctx,
				run.ID, cp.ID, cp.Model, cp.Instrument, string(cp.Side), cp.Contracts,
				cp.EntryPrice, cp.ExitPrice, cp.EntryTs, cp.ExitTs, string(cp.Reason),
				cp.Fees, cp.PnL); err != nil {
				return fmt.Errorf("insert position %s: %w", cp.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// PnLByModel sums stored net P&L per model across every run.
func (p *Postgres) PnLByModel(ctx context.Context) (map[string]decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var rows []struct {
		Model string          `db:"model"`
		PnL   decimal.Decimal `db:"pnl"`
	}
	if err := p.db.SelectContext(ctx, &rows, `SELECT model, SUM(pnl) AS pnl FROM positions GROUP BY model ORDER BY model`); err != nil {
		return nil, fmt.Errorf("query pnl: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		out[r.Model] = r.PnL
	}
	return out, nil
}

// Close releases the pool.
func (p *Postgres) Close() error { return p.db.Close() }
