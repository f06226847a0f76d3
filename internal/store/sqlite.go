package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"meridian/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RunStore = (*SQLiteStore)(nil)
var _ OrderStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at       INTEGER NOT NULL,
	strategy         TEXT    NOT NULL,
	symbol           TEXT    NOT NULL,
	timeframe        TEXT    NOT NULL,
	start_ts         INTEGER NOT NULL,
	end_ts           INTEGER NOT NULL,
	starting_cash    REAL    NOT NULL,
	final_equity     REAL    NOT NULL,
	total_return_pct REAL    NOT NULL,
	total_trades     INTEGER NOT NULL,
	max_drawdown     REAL    NOT NULL,
	sharpe_ratio     REAL,
	win_rate         REAL    NOT NULL
);
CREATE TABLE IF NOT EXISTS backtest_trades (
	run_id    INTEGER NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
	seq       INTEGER NOT NULL,
	date      INTEGER NOT NULL,
	bar_index INTEGER NOT NULL,
	type      TEXT    NOT NULL,
	shares    INTEGER NOT NULL,
	price     REAL    NOT NULL,
	total     REAL    NOT NULL,
	fees      REAL    NOT NULL,
	PRIMARY KEY (run_id, seq)
);
CREATE TABLE IF NOT EXISTS orders (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at INTEGER NOT NULL,
	symbol     TEXT    NOT NULL,
	side       TEXT    NOT NULL,
	qty        INTEGER NOT NULL,
	status     TEXT    NOT NULL,
	order_id   TEXT    NOT NULL DEFAULT '',
	error      TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS orders_status_idx ON orders(status, id);
`

// SQLiteStore implements RunStore and OrderStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; serialise access through one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts a run and its trades in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *BacktestRun) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	m := run.Metrics
	res, err := tx.ExecContext(ctx, `
		INSERT INTO backtest_runs (created_at, strategy, symbol, timeframe, start_ts, end_ts,
			starting_cash, final_equity, total_return_pct, total_trades, max_drawdown, sharpe_ratio, win_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.CreatedAt.UnixMilli(), run.Strategy, run.Symbol, string(run.Timeframe),
		run.Start.UnixMilli(), run.End.UnixMilli(), run.StartingCash,
		m.FinalEquity, m.TotalReturnPct, m.TotalTrades, m.MaxDrawdown, nullableFloat(m.SharpeRatio), m.WinRate,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, t := range run.Trades {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO backtest_trades (run_id, seq, date, bar_index, type, shares, price, total, fees)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, t.Date.UnixMilli(), t.BarIndex, string(t.Type), t.Shares, t.Price, t.Total, t.Fees,
		); err != nil {
			return 0, fmt.Errorf("inserting trade %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	run.ID = id
	return id, nil
}

// ListRuns returns the most recent runs, newest first. Trades are not loaded.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]BacktestRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, strategy, symbol, timeframe, start_ts, end_ts, starting_cash,
			final_equity, total_return_pct, total_trades, max_drawdown, sharpe_ratio, win_rate
		FROM backtest_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []BacktestRun
	for rows.Next() {
		var (
			r                   BacktestRun
			created, start, end int64
			tf                  string
			sharpe              sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &created, &r.Strategy, &r.Symbol, &tf, &start, &end, &r.StartingCash,
			&r.Metrics.FinalEquity, &r.Metrics.TotalReturnPct, &r.Metrics.TotalTrades,
			&r.Metrics.MaxDrawdown, &sharpe, &r.Metrics.WinRate); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		r.Start = time.UnixMilli(start).UTC()
		r.End = time.UnixMilli(end).UTC()
		r.Timeframe = domain.Timeframe(tf)
		r.Metrics.SharpeRatio = math.NaN()
		if sharpe.Valid {
			r.Metrics.SharpeRatio = sharpe.Float64
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunTrades returns the trades of a run in execution order.
func (s *SQLiteStore) RunTrades(ctx context.Context, runID int64) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.symbol, t.date, t.bar_index, t.type, t.shares, t.price, t.total, t.fees
		FROM backtest_trades t JOIN backtest_runs r ON r.id = t.run_id
		WHERE t.run_id = ? ORDER BY t.seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var (
			t    domain.Trade
			date int64
			typ  string
		)
		if err := rows.Scan(&t.Symbol, &date, &t.BarIndex, &typ, &t.Shares, &t.Price, &t.Total, &t.Fees); err != nil {
			return nil, err
		}
		t.Date = time.UnixMilli(date).UTC()
		t.Type = domain.TradeType(typ)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// SaveOrder appends one order outcome to the audit log.
func (s *SQLiteStore) SaveOrder(ctx context.Context, rec *OrderRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (created_at, symbol, side, qty, status, order_id, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.CreatedAt.UnixMilli(), rec.Symbol, string(rec.Side), rec.Qty, string(rec.Status), rec.OrderID, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

// ListOrders returns the most recent audit records, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, status domain.ResultStatus, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, symbol, side, qty, status, order_id, error
		FROM orders WHERE (? = '' OR status = ?) ORDER BY id DESC LIMIT ?`,
		string(status), string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var (
			r            OrderRecord
			created      int64
			side, status string
		)
		if err := rows.Scan(&r.ID, &created, &r.Symbol, &side, &r.Qty, &status, &r.OrderID, &r.Error); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		r.Side = domain.OrderSide(side)
		r.Status = domain.ResultStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// nullableFloat maps NaN and Inf to SQL NULL.
func nullableFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
