package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"stratlab/internal/backtest"
	"stratlab/internal/domain"
)

// Compile-time interface checks.
var _ StrategyStore = (*SQLiteStore)(nil)
var _ PortfolioStore = (*SQLiteStore)(nil)
var _ backtest.JobStore = (*SQLiteStore)(nil)

// SQLiteStore implements StrategyStore, PortfolioStore, and the backtest
// job store backed by a SQLite database. Rows keep the full object as a
// JSON payload next to the columns queries filter on.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS strategies (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_strategies_user ON strategies(user_id);

CREATE TABLE IF NOT EXISTS backtests (
	id          TEXT PRIMARY KEY,
	strategy_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backtests_strategy ON backtests(strategy_id);

CREATE TABLE IF NOT EXISTS portfolios (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_portfolios_user ON portfolios(user_id);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// the schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// The driver serializes access per connection; a single connection
	// avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
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
// StrategyStore implementation
// ---------------------------------------------------------------------------

// SaveStrategy inserts or replaces a strategy by id.
func (s *SQLiteStore) SaveStrategy(ctx context.Context, strat *domain.Strategy) error {
	payload, err := json.Marshal(strat)
	if err != nil {
		return fmt.Errorf("encoding strategy: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO strategies (id, user_id, name, payload, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		strat.ID, strat.UserID, strat.Name, string(payload), time.Now().UnixMilli())
	return err
}

// GetStrategy retrieves a strategy by id, or ErrNotFound.
func (s *SQLiteStore) GetStrategy(ctx context.Context, id string) (*domain.Strategy, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM strategies WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var strat domain.Strategy
	if err := json.Unmarshal([]byte(payload), &strat); err != nil {
		return nil, fmt.Errorf("decoding strategy %s: %w", id, err)
	}
	return &strat, nil
}

// ListStrategies returns strategies for a user; empty userID means all.
func (s *SQLiteStore) ListStrategies(ctx context.Context, userID string) ([]domain.Strategy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM strategies WHERE (? = '' OR user_id = ?) ORDER BY updated_at DESC`,
		userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var strat domain.Strategy
		if err := json.Unmarshal([]byte(payload), &strat); err != nil {
			return nil, fmt.Errorf("decoding strategy: %w", err)
		}
		out = append(out, strat)
	}
	return out, rows.Err()
}

// DeleteStrategy removes a strategy by id. Unknown ids are not an error.
func (s *SQLiteStore) DeleteStrategy(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	return err
}

// ---------------------------------------------------------------------------
// Backtest job store implementation
// ---------------------------------------------------------------------------

// SaveBacktest inserts or replaces a backtest job snapshot.
func (s *SQLiteStore) SaveBacktest(ctx context.Context, job *backtest.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding backtest job: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO backtests (id, strategy_id, status, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.StrategyID, string(job.Status), string(payload), job.CreatedAt.UnixMilli())
	return err
}

// GetBacktest retrieves a backtest job snapshot by id, or ErrNotFound.
func (s *SQLiteStore) GetBacktest(ctx context.Context, id string) (*backtest.Job, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM backtests WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var job backtest.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("decoding backtest job %s: %w", id, err)
	}
	return &job, nil
}

// ---------------------------------------------------------------------------
// PortfolioStore implementation
// ---------------------------------------------------------------------------

// SavePortfolio inserts or replaces a portfolio snapshot by id.
func (s *SQLiteStore) SavePortfolio(ctx context.Context, p *domain.Portfolio) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding portfolio: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO portfolios (id, user_id, name, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, string(payload), p.CreatedAt.UnixMilli())
	return err
}

// GetPortfolio retrieves a portfolio snapshot by id, or ErrNotFound.
func (s *SQLiteStore) GetPortfolio(ctx context.Context, id string) (*domain.Portfolio, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM portfolios WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p domain.Portfolio
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decoding portfolio %s: %w", id, err)
	}
	return &p, nil
}

// ListPortfolios returns portfolios for a user; empty userID means all.
func (s *SQLiteStore) ListPortfolios(ctx context.Context, userID string) ([]domain.Portfolio, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM portfolios WHERE (? = '' OR user_id = ?) ORDER BY created_at DESC`,
		userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Portfolio
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p domain.Portfolio
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("decoding portfolio: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
