// Package store defines storage interfaces for persisting and retrieving
// domain objects such as bars, strategies, and portfolio snapshots, plus
// the Parquet and SQLite implementations behind them.
package store

import (
	"context"
	"errors"
	"time"

	"stratlab/internal/domain"
)

// ErrNotFound is returned by Get* methods when no row matches the id.
var ErrNotFound = errors.New("store: not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market.
	WriteBars(ctx context.Context, market string, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// StrategyStore persists strategy definitions.
type StrategyStore interface {
	// SaveStrategy inserts or replaces a strategy by id.
	SaveStrategy(ctx context.Context, s *domain.Strategy) error

	// GetStrategy retrieves a strategy by id, or ErrNotFound.
	GetStrategy(ctx context.Context, id string) (*domain.Strategy, error)

	// ListStrategies returns strategies for a user; empty userID means all.
	ListStrategies(ctx context.Context, userID string) ([]domain.Strategy, error)

	// DeleteStrategy removes a strategy by id. Unknown ids are not an error.
	DeleteStrategy(ctx context.Context, id string) error
}

// PortfolioStore persists portfolio snapshots so virtual portfolios
// survive a restart.
type PortfolioStore interface {
	// SavePortfolio inserts or replaces a portfolio snapshot by id.
	SavePortfolio(ctx context.Context, p *domain.Portfolio) error

	// GetPortfolio retrieves a portfolio snapshot by id, or ErrNotFound.
	GetPortfolio(ctx context.Context, id string) (*domain.Portfolio, error)

	// ListPortfolios returns portfolios for a user; empty userID means all.
	ListPortfolios(ctx context.Context, userID string) ([]domain.Portfolio, error)
}
