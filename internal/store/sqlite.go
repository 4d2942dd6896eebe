package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"bandwagon/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RunSaver = (*SQLiteStore)(nil)

// ErrRunNotFound is returned when a run id is not in the database.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore keeps an index of backtest runs with their timelines, holdings,
// trades and metrics in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	ID             string
	CreatedAt      time.Time
	SignalMode     string
	Sizing         string
	Start          time.Time
	End            time.Time
	BeginningValue float64
	FinalTotal     int64
	Symbols        []string
	Evaluation     domain.Evaluation
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs
// migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps in-memory databases consistent across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id                TEXT PRIMARY KEY,
			created_at        INTEGER NOT NULL,
			signal_mode       TEXT,
			sizing            TEXT,
			start_date        TEXT NOT NULL,
			end_date          TEXT NOT NULL,
			beginning_value   REAL,
			final_total       INTEGER,
			symbols           TEXT,
			total_return      REAL,
			annual_return     REAL,
			annual_volatility REAL,
			sharpe_ratio      REAL,
			sortino_ratio     REAL,
			max_drawdown      REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,

		`CREATE TABLE IF NOT EXISTS timeline (
			run_id        TEXT NOT NULL,
			date          TEXT NOT NULL,
			cash          INTEGER,
			holding_value INTEGER,
			total         INTEGER,
			PRIMARY KEY (run_id, date)
		)`,

		`CREATE TABLE IF NOT EXISTS holdings (
			run_id TEXT NOT NULL,
			date   TEXT NOT NULL,
			symbol TEXT NOT NULL,
			shares INTEGER,
			mark   REAL,
			PRIMARY KEY (run_id, date, symbol)
		)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL,
			date       TEXT NOT NULL,
			symbol     TEXT NOT NULL,
			side       TEXT NOT NULL,
			qty        INTEGER,
			price      REAL,
			cash_after REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// SaveRun stores the run and all of its rows in one transaction. A run
// without an ID is assigned a fresh UUID.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var finalTotal int64
	if n := len(run.Rows); n > 0 {
		finalTotal = run.Rows[n-1].Total
	}
	ev := run.Evaluation
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, signal_mode, sizing, start_date, end_date,
			beginning_value, final_total, symbols, total_return, annual_return,
			annual_volatility, sharpe_ratio, sortino_ratio, max_drawdown)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixMilli(), run.SignalMode, run.Sizing,
		domain.DateKey(run.Start), domain.DateKey(run.End),
		run.BeginningValue, finalTotal, strings.Join(run.Symbols, ","),
		nullable(ev.TotalReturn), nullable(ev.AnnualReturn), nullable(ev.AnnualVolatility),
		nullable(ev.SharpeRatio), nullable(ev.SortinoRatio), nullable(ev.MaxDrawdown),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	timelineStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO timeline (run_id, date, cash, holding_value, total) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare timeline: %w", err)
	}
	defer timelineStmt.Close()

	holdingStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO holdings (run_id, date, symbol, shares, mark) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare holdings: %w", err)
	}
	defer holdingStmt.Close()

	for _, r := range run.Rows {
		date := domain.DateKey(r.Date)
		if _, err := timelineStmt.ExecContext(ctx, run.ID, date, r.Cash, r.HoldingValue, r.Total); err != nil {
			return fmt.Errorf("insert timeline %s: %w", date, err)
		}
		for _, sym := range run.Symbols {
			if _, err := holdingStmt.ExecContext(ctx, run.ID, date, sym, r.Holdings[sym], nullable(r.Marks[sym])); err != nil {
				return fmt.Errorf("insert holding %s/%s: %w", date, sym, err)
			}
		}
	}

	for _, t := range run.Trades {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trades (run_id, date, symbol, side, qty, price, cash_after) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, domain.DateKey(t.Date), t.Symbol, string(t.Side), t.Qty, t.Price, t.CashAfter,
		); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, created_at, signal_mode, sizing, start_date, end_date,
	beginning_value, final_total, symbols, total_return, annual_return,
	annual_volatility, sharpe_ratio, sortino_ratio, max_drawdown`

// ListRuns returns the most recent runs first, up to limit (all when
// limit <= 0).
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		rs, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// GetRun returns the summary of one run.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	rs, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &rs, nil
}

// Rows loads the finalized timeline of a run, holdings included.
func (s *SQLiteStore) Rows(ctx context.Context, id string) ([]domain.Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, cash, holding_value, total FROM timeline WHERE run_id = ? ORDER BY date`, id)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	var out []domain.Row
	pos := make(map[string]int)
	for rows.Next() {
		var (
			date string
			r    domain.Row
		)
		if err := rows.Scan(&date, &r.Cash, &r.HoldingValue, &r.Total); err != nil {
			return nil, err
		}
		t, err := time.Parse(domain.DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("parsing date %q: %w", date, err)
		}
		r.Date = t
		r.Holdings = make(map[string]int64)
		r.Marks = make(map[string]float64)
		pos[date] = len(out)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hrows, err := s.db.QueryContext(ctx,
		`SELECT date, symbol, shares, mark FROM holdings WHERE run_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query holdings: %w", err)
	}
	defer hrows.Close()
	for hrows.Next() {
		var (
			date, symbol string
			shares       int64
			mark         sql.NullFloat64
		)
		if err := hrows.Scan(&date, &symbol, &shares, &mark); err != nil {
			return nil, err
		}
		i, ok := pos[date]
		if !ok {
			continue
		}
		out[i].Holdings[symbol] = shares
		out[i].Marks[symbol] = nullFloat(mark)
	}
	return out, hrows.Err()
}

// Trades loads the trades of a run in execution order.
func (s *SQLiteStore) Trades(ctx context.Context, id string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, symbol, side, qty, price, cash_after FROM trades WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var (
			date, side string
			t          domain.Trade
		)
		if err := rows.Scan(&date, &t.Symbol, &side, &t.Qty, &t.Price, &t.CashAfter); err != nil {
			return nil, err
		}
		d, err := time.Parse(domain.DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("parsing date %q: %w", date, err)
		}
		t.Date = d
		t.Side = domain.Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunSummary, error) {
	var (
		rs                           RunSummary
		createdAt                    int64
		start, end, symbols          string
		mode, sizing                 sql.NullString
		tr, ar, vol, sharpe, sortino sql.NullFloat64
		mdd, beginning               sql.NullFloat64
		finalTotal                   sql.NullInt64
	)
	if err := sc.Scan(&rs.ID, &createdAt, &mode, &sizing, &start, &end,
		&beginning, &finalTotal, &symbols, &tr, &ar, &vol, &sharpe, &sortino, &mdd); err != nil {
		return RunSummary{}, err
	}

	var err error
	if rs.Start, err = time.Parse(domain.DateLayout, start); err != nil {
		return RunSummary{}, fmt.Errorf("parsing start %q: %w", start, err)
	}
	if rs.End, err = time.Parse(domain.DateLayout, end); err != nil {
		return RunSummary{}, fmt.Errorf("parsing end %q: %w", end, err)
	}
	rs.CreatedAt = time.UnixMilli(createdAt).UTC()
	rs.SignalMode = mode.String
	rs.Sizing = sizing.String
	rs.BeginningValue = nullFloat(beginning)
	rs.FinalTotal = finalTotal.Int64
	if symbols != "" {
		rs.Symbols = strings.Split(symbols, ",")
	}
	rs.Evaluation = domain.Evaluation{
		TotalReturn:      nullFloat(tr),
		AnnualReturn:     nullFloat(ar),
		AnnualVolatility: nullFloat(vol),
		SharpeRatio:      nullFloat(sharpe),
		SortinoRatio:     nullFloat(sortino),
		MaxDrawdown:      nullFloat(mdd),
	}
	return rs, nil
}

// nullable maps non-finite values to NULL.
func nullable(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func nullFloat(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
