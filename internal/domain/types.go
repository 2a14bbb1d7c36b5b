// Package domain defines the core types shared across the stratlab
// platform: price bars, strategies and their blocks, positions, trades,
// portfolios, and backtest jobs.
package domain

import "time"

// Bar is a single OHLCV sample for a symbol at a fixed timeframe.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitSignal     ExitReason = "SIGNAL"
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
)

// TradeStatus is the lifecycle state of a trade record.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// Trade is a round trip (or still-open entry) produced by the execution
// engine. It is created on entry and immutable once closed.
type Trade struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	Qty        float64     `json:"qty"`
	EntryTime  time.Time   `json:"entryTime"`
	EntryPrice float64     `json:"entryPrice"`
	ExitTime   *time.Time  `json:"exitTime,omitempty"`
	ExitPrice  float64     `json:"exitPrice,omitempty"`
	StopLoss   float64     `json:"stopLoss,omitempty"`
	TakeProfit float64     `json:"takeProfit,omitempty"`
	PnL        float64     `json:"pnl"`
	PnLPct     float64     `json:"pnlPct"`
	ExitReason ExitReason  `json:"exitReason,omitempty"`
	Status     TradeStatus `json:"status"`
}

// Position is the single resting position for a symbol. StopLoss and
// TakeProfit are absolute prices; zero means not set.
type Position struct {
	Symbol       string    `json:"symbol"`
	Qty          float64   `json:"qty"`
	AvgPrice     float64   `json:"avgPrice"`
	CurrentPrice float64   `json:"currentPrice"`
	StopLoss     float64   `json:"stopLoss,omitempty"`
	TakeProfit   float64   `json:"takeProfit,omitempty"`
	EntryTime    time.Time `json:"entryTime"`
	TradeID      string    `json:"tradeId"`
}

// EquityPoint is one sample of total portfolio value over time.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// JobStatus is the lifecycle state of a backtest job. Transitions are
// monotonic: pending → running → completed | failed.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Portfolio is the wire-level snapshot of a virtual portfolio. The live
// state lives in the portfolio manager; this shape is what readers see.
type Portfolio struct {
	ID             string              `json:"portfolioId"`
	UserID         string              `json:"userId,omitempty"`
	Name           string              `json:"name"`
	InitialCapital float64             `json:"initialCapital"`
	Cash           float64             `json:"cash"`
	TotalValue     float64             `json:"totalValue"`
	PnL            float64             `json:"pnl"`
	PnLPct         float64             `json:"pnlPct"`
	Holdings       map[string]Position `json:"holdings"`
	Trades         []Trade             `json:"trades"`
	EquityCurve    []EquityPoint       `json:"equityCurve"`
	Deployment     *Deployment         `json:"deployment,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
}

// Deployment describes a strategy attached to a portfolio for forward
// simulation.
type Deployment struct {
	StrategyID string    `json:"strategyId"`
	Status     string    `json:"status"`
	Symbols    []string  `json:"symbols"`
	DeployedAt time.Time `json:"deployedAt"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// DeploymentActive is the only deployment status today; a deployment
// exists while the strategy runs and is removed on reset.
const DeploymentActive = "active"
