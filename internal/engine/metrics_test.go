package engine

import (
	"math"
	"testing"
	"time"

	"stratlab/internal/domain"
)

func equityAt(dayOffsets []int, values []float64) []domain.EquityPoint {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	pts := make([]domain.EquityPoint, len(values))
	for i := range values {
		pts[i] = domain.EquityPoint{Timestamp: base.AddDate(0, 0, dayOffsets[i]), Value: values[i]}
	}
	return pts
}

func closedTrade(pnl float64) domain.Trade {
	exit := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	return domain.Trade{
		Symbol: "TEST", Side: domain.SideBuy, Qty: 1,
		EntryPrice: 100, ExitPrice: 100 + pnl, ExitTime: &exit,
		PnL: pnl, Status: domain.TradeClosed,
	}
}

func TestComputeMetricsEmpty(t *testing.T) {
	m := ComputeMetrics(100000, nil, nil)
	if m.FinalValue != 100000 || m.TotalReturnPct != 0 {
		t.Errorf("empty metrics = %+v, want zeroed at initial capital", m)
	}
	if m.ProfitFactor != nil {
		t.Error("profitFactor should be nil with no trades")
	}
}

func TestTotalReturnAndCAGR(t *testing.T) {
	// 100k → 200k over exactly 365 days: total return 100%, CAGR 1.0.
	eq := equityAt([]int{0, 365}, []float64{100000, 200000})
	m := ComputeMetrics(100000, eq, nil)

	if math.Abs(m.TotalReturnPct-100) > 1e-9 {
		t.Errorf("totalReturnPct = %v, want 100", m.TotalReturnPct)
	}
	if math.Abs(m.CAGR-1.0) > 1e-9 {
		t.Errorf("CAGR = %v, want 1.0", m.CAGR)
	}
}

func TestSharpeZeroCases(t *testing.T) {
	// Fewer than two return samples.
	eq := equityAt([]int{0, 1}, []float64{100, 101})
	if got := ComputeMetrics(100, eq, nil).SharpeRatio; got != 0 {
		t.Errorf("sharpe with one return = %v, want 0", got)
	}

	// Zero volatility: constant returns.
	eq = equityAt([]int{0, 1, 2, 3}, []float64{100, 110, 121, 133.1})
	if got := ComputeMetrics(100, eq, nil).SharpeRatio; got != 0 {
		t.Errorf("sharpe with zero stdev = %v, want 0", got)
	}

	// Flat curve also has zero volatility.
	eq = equityAt([]int{0, 1, 2}, []float64{100, 100, 100})
	if got := ComputeMetrics(100, eq, nil).SharpeRatio; got != 0 {
		t.Errorf("sharpe on flat curve = %v, want 0", got)
	}
}

func TestSharpePositive(t *testing.T) {
	eq := equityAt([]int{0, 1, 2, 3, 4}, []float64{100, 102, 101, 104, 106})
	m := ComputeMetrics(100, eq, nil)
	if m.SharpeRatio <= 0 {
		t.Errorf("sharpe = %v, want > 0 for a rising noisy curve", m.SharpeRatio)
	}
}

func TestMaxDrawdown(t *testing.T) {
	// Peak 120, trough 90: drawdown 25%.
	eq := equityAt([]int{0, 1, 2, 3}, []float64{100, 120, 90, 110})
	m := ComputeMetrics(100, eq, nil)
	if math.Abs(m.MaxDrawdown-0.25) > 1e-9 {
		t.Errorf("maxDrawdown = %v, want 0.25", m.MaxDrawdown)
	}
}

func TestWinRateNoClosedTrades(t *testing.T) {
	open := domain.Trade{Symbol: "TEST", Status: domain.TradeOpen, PnL: 0}
	eq := equityAt([]int{0, 1}, []float64{100, 100})
	m := ComputeMetrics(100, eq, []domain.Trade{open})
	if m.WinRate != 0 {
		t.Errorf("winRate with no closed trades = %v, want 0", m.WinRate)
	}
	if m.TotalTrades != 1 {
		t.Errorf("totalTrades = %d, want 1", m.TotalTrades)
	}
}

func TestProfitFactorSentinel(t *testing.T) {
	eq := equityAt([]int{0, 1}, []float64{100, 110})

	// Only winners: no division by zero, nil sentinel instead.
	m := ComputeMetrics(100, eq, []domain.Trade{closedTrade(5), closedTrade(5)})
	if m.ProfitFactor != nil {
		t.Errorf("profitFactor with zero losers = %v, want nil sentinel", *m.ProfitFactor)
	}
	if m.WinRate != 1 {
		t.Errorf("winRate = %v, want 1", m.WinRate)
	}

	// Mixed: 10 gross profit / 4 gross loss.
	m = ComputeMetrics(100, eq, []domain.Trade{closedTrade(10), closedTrade(-4)})
	if m.ProfitFactor == nil {
		t.Fatal("profitFactor should be set with losers present")
	}
	if math.Abs(*m.ProfitFactor-2.5) > 1e-9 {
		t.Errorf("profitFactor = %v, want 2.5", *m.ProfitFactor)
	}
	if m.AvgWin != 10 || m.AvgLoss != 4 {
		t.Errorf("avgWin/avgLoss = %v/%v, want 10/4", m.AvgWin, m.AvgLoss)
	}
	if m.WinRate != 0.5 {
		t.Errorf("winRate = %v, want 0.5", m.WinRate)
	}
}
