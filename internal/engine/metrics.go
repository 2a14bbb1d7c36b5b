package engine

import (
	"math"

	"stratlab/internal/domain"
)

// Metrics summarizes backtest performance. ProfitFactor is nil when there
// are no losing trades — the JSON null sentinel keeps it distinguishable
// from a real ratio.
type Metrics struct {
	TotalReturnPct float64  `json:"totalReturnPct"`
	CAGR           float64  `json:"cagr"`
	SharpeRatio    float64  `json:"sharpeRatio"`
	MaxDrawdown    float64  `json:"maxDrawdown"`
	WinRate        float64  `json:"winRate"`
	ProfitFactor   *float64 `json:"profitFactor"`
	TotalTrades    int      `json:"totalTrades"`
	WinningTrades  int      `json:"winningTrades"`
	LosingTrades   int      `json:"losingTrades"`
	AvgWin         float64  `json:"avgWin"`
	AvgLoss        float64  `json:"avgLoss"`
	FinalValue     float64  `json:"finalValue"`
}

// Result is the full output of a simulation run.
type Result struct {
	InitialCapital float64                    `json:"initialCapital"`
	FinalCash      float64                    `json:"finalCash"`
	Trades         []domain.Trade             `json:"trades"`
	EquityCurve    []domain.EquityPoint       `json:"equityCurve"`
	OpenPositions  map[string]domain.Position `json:"openPositions,omitempty"`
	Metrics        *Metrics                   `json:"metrics"`
}

// ComputeMetrics derives performance statistics from the equity curve and
// trade log. Degenerate inputs produce defined sentinels, never a failure:
// Sharpe is 0 with fewer than two return samples or zero volatility,
// winRate is 0 with no closed trades, profitFactor is nil with no losers.
func ComputeMetrics(initialCapital float64, equity []domain.EquityPoint, trades []domain.Trade) *Metrics {
	m := &Metrics{FinalValue: initialCapital}
	if len(equity) == 0 || initialCapital <= 0 {
		return m
	}

	final := equity[len(equity)-1].Value
	m.FinalValue = final
	m.TotalReturnPct = (final/initialCapital - 1) * 100

	// CAGR over the calendar span of the equity curve, annualized to 365
	// days; a span under one day is clamped to one day.
	days := equity[len(equity)-1].Timestamp.Sub(equity[0].Timestamp).Hours() / 24
	if days < 1 {
		days = 1
	}
	if final > 0 {
		m.CAGR = math.Pow(final/initialCapital, 365/days) - 1
	}

	m.SharpeRatio = sharpe(equity)
	m.MaxDrawdown = maxDrawdown(equity)

	var grossProfit, grossLoss float64
	var closed int
	for i := range trades {
		t := &trades[i]
		if t.Status != domain.TradeClosed {
			continue
		}
		closed++
		if t.PnL > 0 {
			m.WinningTrades++
			grossProfit += t.PnL
		} else if t.PnL < 0 {
			m.LosingTrades++
			grossLoss += -t.PnL
		}
	}
	m.TotalTrades = len(trades)

	if closed > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(closed)
	}
	if grossLoss > 0 {
		pf := grossProfit / grossLoss
		m.ProfitFactor = &pf
	}
	if m.WinningTrades > 0 {
		m.AvgWin = grossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = grossLoss / float64(m.LosingTrades)
	}
	return m
}

// sharpe is mean(per-bar returns)/stdev(per-bar returns) × √252 with a
// zero risk-free rate. Returns 0 when volatility is zero or there are
// fewer than two return samples.
func sharpe(equity []domain.EquityPoint) float64 {
	if len(equity) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Value
		if prev == 0 {
			return 0
		}
		returns = append(returns, equity[i].Value/prev-1)
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	sd := math.Sqrt(variance)
	if sd == 0 {
		return 0
	}
	return mean / sd * math.Sqrt(252)
}

// maxDrawdown is the largest peak-to-trough decline as a fraction of the
// peak.
func maxDrawdown(equity []domain.EquityPoint) float64 {
	var peak, maxDD float64
	for _, p := range equity {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			dd := (peak - p.Value) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
