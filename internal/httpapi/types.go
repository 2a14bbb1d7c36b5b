// Package httpapi provides the HTTP REST API for strategies, backtests,
// virtual portfolios, and stored market data.
package httpapi

import (
	"time"

	"stratlab/internal/backtest"
	"stratlab/internal/domain"
)

// CreateBacktestRequest is the payload for POST /api/v1/backtests.
type CreateBacktestRequest struct {
	StrategyID     string  `json:"strategyId"`
	Symbol         string  `json:"symbol"`
	StartDate      string  `json:"startDate"` // YYYY-MM-DD
	EndDate        string  `json:"endDate"`   // YYYY-MM-DD
	InitialCapital float64 `json:"initialCapital"`
}

// CreateBacktestResponse acknowledges an accepted backtest job.
type CreateBacktestResponse struct {
	Success    bool             `json:"success"`
	BacktestID string           `json:"backtestId"`
	Status     domain.JobStatus `json:"status"`
}

// BacktestStatusResponse wraps the pollable job state.
type BacktestStatusResponse struct {
	Backtest *backtest.Job `json:"backtest"`
}

// CreatePortfolioRequest is the payload for POST /api/v1/portfolios.
type CreatePortfolioRequest struct {
	UserID         string  `json:"userId"`
	Name           string  `json:"name"`
	InitialCapital float64 `json:"initialCapital"`
}

// DeployRequest attaches a stored strategy to a portfolio.
type DeployRequest struct {
	StrategyID string `json:"strategyId"`
}

// TickRequest is one bar fed to a portfolio's deployed strategy.
type TickRequest struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// PortfolioResponse acknowledges a portfolio mutation and carries the
// updated snapshot.
type PortfolioResponse struct {
	Success   bool              `json:"success"`
	Portfolio *domain.Portfolio `json:"portfolio"`
}

// StrategiesResponse lists stored strategies.
type StrategiesResponse struct {
	Strategies []domain.Strategy `json:"strategies"`
}

// PortfoliosResponse lists portfolio snapshots.
type PortfoliosResponse struct {
	Portfolios []domain.Portfolio `json:"portfolios"`
}

// BarsResponse returns stored bars for a symbol.
type BarsResponse struct {
	Symbol string       `json:"symbol"`
	Bars   []domain.Bar `json:"bars"`
}

// SymbolsResponse lists symbols available in the bar store.
type SymbolsResponse struct {
	Symbols []string `json:"symbols"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status string `json:"status"`
}
