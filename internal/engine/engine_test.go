package engine

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"stratlab/internal/domain"
)

func testBars(closes []float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: base.AddDate(0, 0, i),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

func mustCompile(t *testing.T, s *domain.Strategy) *Compiled {
	t.Helper()
	c, err := Compile(s)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return c
}

// smaCrossStrategy is the canonical SMA(5)/SMA(20) crossover with a
// half-cash BUY, 5% stop loss, and 10% take profit.
func smaCrossStrategy() *domain.Strategy {
	return &domain.Strategy{
		Name:      "sma-cross",
		Symbols:   []string{"TEST"},
		Timeframe: "1d",
		Blocks: []domain.Block{
			{ID: "b1", Type: domain.BlockIndicator, Indicator: &domain.IndicatorSpec{
				Kind: domain.IndicatorSMA, Params: map[string]float64{"period": 5}}},
			{ID: "b2", Type: domain.BlockIndicator, Indicator: &domain.IndicatorSpec{
				Kind: domain.IndicatorSMA, Params: map[string]float64{"period": 20}}},
			{ID: "c1", Type: domain.BlockCondition, Condition: &domain.ConditionSpec{
				Expr: "cross_over(b1,b2)"}},
			{ID: "a1", Type: domain.BlockAction, Action: &domain.ActionSpec{
				Action: domain.ActionBuy,
				Params: domain.ActionParams{SizePct: 0.5, StopLossPct: 0.05, TakeProfitPct: 0.10}}},
		},
	}
}

func TestZeroBlockStrategyIsFlat(t *testing.T) {
	c := mustCompile(t, &domain.Strategy{Name: "empty", Symbols: []string{"TEST"}, Timeframe: "1d"})
	sim := NewSimulation(c, 100000)

	res, err := sim.Run(testBars([]float64{100, 101, 102, 103}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 0 {
		t.Errorf("got %d trades, want 0", len(res.Trades))
	}
	if len(res.EquityCurve) != 4 {
		t.Fatalf("got %d equity points, want 4", len(res.EquityCurve))
	}
	for i, p := range res.EquityCurve {
		if p.Value != 100000 {
			t.Errorf("equity[%d] = %v, want flat 100000", i, p.Value)
		}
	}
}

func TestRunEmptySeries(t *testing.T) {
	sim := NewSimulation(mustCompile(t, smaCrossStrategy()), 100000)
	if _, err := sim.Run(nil); !errors.Is(err, ErrNoBars) {
		t.Errorf("Run(nil) error = %v, want ErrNoBars", err)
	}
}

// TestSMACrossTakeProfitScenario drives 30 bars: 20 flat at 100, a bump to
// 101 that crosses SMA(5) above SMA(20) on bar 21 (index 20), then a rally
// past the 10% take-profit threshold.
func TestSMACrossTakeProfitScenario(t *testing.T) {
	closes := make([]float64, 0, 30)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 101)                                              // index 20: crossover fires, entry at close
	closes = append(closes, 105, 109, 113, 117, 121, 124, 127, 130, 130.5) // rally through 111.1

	sim := NewSimulation(mustCompile(t, smaCrossStrategy()), 100000)
	res, err := sim.Run(testBars(closes))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want exactly 1", len(res.Trades))
	}
	trade := res.Trades[0]

	entryBar := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 20)
	if !trade.EntryTime.Equal(entryBar) {
		t.Errorf("entry time = %v, want bar 21 at %v", trade.EntryTime, entryBar)
	}
	if trade.EntryPrice != 101 {
		t.Errorf("entry price = %v, want 101", trade.EntryPrice)
	}
	if trade.Status != domain.TradeClosed {
		t.Fatalf("trade status = %v, want closed", trade.Status)
	}
	if trade.ExitReason != domain.ExitTakeProfit {
		t.Errorf("exit reason = %v, want TAKE_PROFIT", trade.ExitReason)
	}

	wantExit := 101 * 1.10
	if math.Abs(trade.ExitPrice-wantExit) > 1e-9 {
		t.Errorf("exit price = %v, want take-profit threshold %v", trade.ExitPrice, wantExit)
	}
	if math.Abs(trade.PnLPct-10.0) > 1e-6 {
		t.Errorf("pnlPct = %v, want ≈ 10.0", trade.PnLPct)
	}

	// Take-profit exit always closes at or above the entry price.
	if trade.ExitPrice < trade.EntryPrice {
		t.Errorf("take-profit exit %v below entry %v", trade.ExitPrice, trade.EntryPrice)
	}
}

func TestStopLossClosesBelowEntry(t *testing.T) {
	// Fires "price > 0" on every bar; BUY on bar 1, then a slide through
	// the 5% stop.
	s := &domain.Strategy{
		Name: "always-buy", Symbols: []string{"TEST"}, Timeframe: "1d",
		Blocks: []domain.Block{
			{ID: "c1", Type: domain.BlockCondition, Condition: &domain.ConditionSpec{Expr: "price > 0"}},
			{ID: "a1", Type: domain.BlockAction, Action: &domain.ActionSpec{
				Action: domain.ActionBuy,
				Params: domain.ActionParams{SizePct: 1.0, StopLossPct: 0.05, TakeProfitPct: 0.20}}},
		},
	}
	sim := NewSimulation(mustCompile(t, s), 10000)
	res, err := sim.Run(testBars([]float64{100, 99, 97, 94, 90}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Trades) == 0 {
		t.Fatal("expected at least one trade")
	}
	trade := res.Trades[0]
	if trade.ExitReason != domain.ExitStopLoss {
		t.Fatalf("exit reason = %v, want STOP_LOSS", trade.ExitReason)
	}
	if math.Abs(trade.ExitPrice-95) > 1e-9 {
		t.Errorf("exit price = %v, want stop threshold 95", trade.ExitPrice)
	}
	if trade.ExitPrice > trade.EntryPrice {
		t.Errorf("stop-loss exit %v above entry %v", trade.ExitPrice, trade.EntryPrice)
	}
	if trade.PnL >= 0 {
		t.Errorf("stop-loss pnl = %v, want negative", trade.PnL)
	}
}

func TestBuyWhileOpenIsNoOp(t *testing.T) {
	// Condition true on every bar, no stop or take profit: the first BUY
	// opens, subsequent BUY signals are ignored.
	s := &domain.Strategy{
		Name: "re-entry", Symbols: []string{"TEST"}, Timeframe: "1d",
		Blocks: []domain.Block{
			{ID: "c1", Type: domain.BlockCondition, Condition: &domain.ConditionSpec{Expr: "price > 0"}},
			{ID: "a1", Type: domain.BlockAction, Action: &domain.ActionSpec{
				Action: domain.ActionBuy, Params: domain.ActionParams{SizePct: 0.5}}},
		},
	}
	sim := NewSimulation(mustCompile(t, s), 10000)
	res, err := sim.Run(testBars([]float64{100, 102, 104, 106}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Trades) != 1 {
		t.Errorf("got %d trades, want 1 (re-entry ignored)", len(res.Trades))
	}
	if len(res.OpenPositions) != 1 {
		t.Errorf("got %d open positions, want 1", len(res.OpenPositions))
	}
}

func TestOpenPositionRemainsOpenAtEnd(t *testing.T) {
	s := &domain.Strategy{
		Name: "hold", Symbols: []string{"TEST"}, Timeframe: "1d",
		Blocks: []domain.Block{
			{ID: "c1", Type: domain.BlockCondition, Condition: &domain.ConditionSpec{Expr: "price > 0"}},
			{ID: "a1", Type: domain.BlockAction, Action: &domain.ActionSpec{
				Action: domain.ActionBuy, Params: domain.ActionParams{SizePct: 1.0}}},
		},
	}
	sim := NewSimulation(mustCompile(t, s), 10000)
	res, err := sim.Run(testBars([]float64{100, 110}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(res.Trades))
	}
	trade := res.Trades[0]
	if trade.Status != domain.TradeOpen {
		t.Errorf("trade status = %v, want open (not force-closed)", trade.Status)
	}
	if trade.ExitTime != nil || trade.ExitReason != "" {
		t.Errorf("open trade has exit fields: %+v", trade)
	}

	// Equity marks the open position to market: 100 shares at 110.
	last := res.EquityCurve[len(res.EquityCurve)-1]
	if math.Abs(last.Value-11000) > 1e-9 {
		t.Errorf("final equity = %v, want 11000", last.Value)
	}
}

func TestSellSignalExit(t *testing.T) {
	// Price-band strategy: BUY is bound to the "under 100" condition,
	// EXIT_ALL to the "over 110" condition declared after it.
	s := &domain.Strategy{
		Name: "band", Symbols: []string{"TEST"}, Timeframe: "1d",
		Blocks: []domain.Block{
			{ID: "c1", Type: domain.BlockCondition, Condition: &domain.ConditionSpec{Expr: "price < 100"}},
			{ID: "a1", Type: domain.BlockAction, Action: &domain.ActionSpec{
				Action: domain.ActionBuy, Params: domain.ActionParams{SizePct: 1.0}}},
			{ID: "c2", Type: domain.BlockCondition, Condition: &domain.ConditionSpec{Expr: "price > 110"}},
			{ID: "a2", Type: domain.BlockAction, Action: &domain.ActionSpec{Action: domain.ActionExitAll}},
		},
	}

	sim := NewSimulation(mustCompile(t, s), 10000)
	res, err := sim.Run(testBars([]float64{99, 105, 112}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(res.Trades))
	}
	trade := res.Trades[0]
	if trade.Status != domain.TradeClosed || trade.ExitReason != domain.ExitSignal {
		t.Errorf("trade = %+v, want closed with SIGNAL exit", trade)
	}
	if trade.ExitPrice != 112 {
		t.Errorf("exit price = %v, want signal bar close 112", trade.ExitPrice)
	}
}

func TestDeterminism(t *testing.T) {
	closes := make([]float64, 0, 30)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 101, 105, 109, 113, 117, 121, 124, 127, 130, 130.5)
	bars := testBars(closes)

	c := mustCompile(t, smaCrossStrategy())
	res1, err := NewSimulation(c, 100000).Run(bars)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	res2, err := NewSimulation(c, 100000).Run(bars)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if !reflect.DeepEqual(res1.Trades, res2.Trades) {
		t.Error("trades differ between identical runs")
	}
	if !reflect.DeepEqual(res1.EquityCurve, res2.EquityCurve) {
		t.Error("equity curves differ between identical runs")
	}
}

// TestRunMatchesIncrementalStepping pins Run's single-pass indicator
// computation to the incremental Step path: both must produce identical
// trades and equity curves for the same series.
func TestRunMatchesIncrementalStepping(t *testing.T) {
	closes := make([]float64, 0, 40)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 101, 105, 109, 113, 117, 121, 124, 127, 130, 130.5)
	closes = append(closes, 128, 122, 116, 110, 104, 100, 98, 97, 101, 109)
	bars := testBars(closes)

	c := mustCompile(t, smaCrossStrategy())
	res, err := NewSimulation(c, 100000).Run(bars)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	stepped := NewSimulation(c, 100000)
	for i := range bars {
		if err := stepped.Step(bars[i]); err != nil {
			t.Fatalf("Step(%d): %v", i, err)
		}
	}

	if !reflect.DeepEqual(res.Trades, stepped.Trades()) {
		t.Errorf("trades differ:\nrun:  %+v\nstep: %+v", res.Trades, stepped.Trades())
	}
	if !reflect.DeepEqual(res.EquityCurve, stepped.EquityCurve()) {
		t.Error("equity curves differ between Run and incremental stepping")
	}
	if !reflect.DeepEqual(res.OpenPositions, stepped.Positions()) {
		t.Error("open positions differ between Run and incremental stepping")
	}
}

func TestStepRejectsStaleTick(t *testing.T) {
	sim := NewSimulation(mustCompile(t, smaCrossStrategy()), 10000)
	bars := testBars([]float64{100, 101})

	if err := sim.Step(bars[0]); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if err := sim.Step(bars[0]); !errors.Is(err, ErrStaleTick) {
		t.Errorf("duplicate tick error = %v, want ErrStaleTick", err)
	}
	if err := sim.Step(bars[1]); err != nil {
		t.Fatalf("Step after rejection: %v", err)
	}
	if got := len(sim.EquityCurve()); got != 2 {
		t.Errorf("equity curve has %d points, want 2 (stale tick left no trace)", got)
	}
}

func TestStopLossPreemptsSignalExit(t *testing.T) {
	// On the same bar the stop is breached and the exit condition is
	// true; the stop must win and signals must not run that bar.
	s := &domain.Strategy{
		Name: "race", Symbols: []string{"TEST"}, Timeframe: "1d",
		Blocks: []domain.Block{
			{ID: "c1", Type: domain.BlockCondition, Condition: &domain.ConditionSpec{Expr: "price > 0"}},
			{ID: "a1", Type: domain.BlockAction, Action: &domain.ActionSpec{
				Action: domain.ActionBuy, Params: domain.ActionParams{SizePct: 1.0, StopLossPct: 0.05}}},
		},
	}
	sim := NewSimulation(mustCompile(t, s), 10000)
	res, err := sim.Run(testBars([]float64{100, 90}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Bar 2 breaches the stop; since the stop pre-empts signals, no
	// re-entry happens on that bar.
	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(res.Trades))
	}
	if res.Trades[0].ExitReason != domain.ExitStopLoss {
		t.Errorf("exit reason = %v, want STOP_LOSS", res.Trades[0].ExitReason)
	}
	if len(res.OpenPositions) != 0 {
		t.Errorf("got %d open positions, want 0 on the stop bar", len(res.OpenPositions))
	}
}
