package engine

import (
	"errors"
	"fmt"
	"time"

	"stratlab/internal/domain"
	"stratlab/internal/indicator"
)

// ErrNoBars is returned by Run when the price series is empty.
var ErrNoBars = errors.New("no bars in range")

// ErrStaleTick is returned by Step when a bar's timestamp is not strictly
// after the last processed bar for its symbol. The rejected bar leaves the
// simulation state untouched.
var ErrStaleTick = errors.New("bar timestamp not after last processed bar")

// symbolState is the per-symbol side of the simulation: the bar window,
// the indicator series over that window, and the single resting position.
type symbolState struct {
	bars     []domain.Bar
	series   map[string]indicator.Series
	position *domain.Position
	lastTS   time.Time
}

// Simulation advances a compiled strategy over price bars. One instance
// serves both a one-shot backtest (Run) and incremental forward stepping
// (Step); the per-bar semantics are identical. A Simulation is not safe
// for concurrent use — callers serialize access.
type Simulation struct {
	compiled       *Compiled
	initialCapital float64
	cash           float64
	symbols        map[string]*symbolState
	trades         []domain.Trade
	equity         []domain.EquityPoint
	tradeSeq       int

	// window caps the retained bars per symbol for long-running forward
	// simulations. Zero keeps everything (backtests).
	window int

	// pre holds per-symbol indicator series computed once over a full Run
	// series, keyed by symbol. Valid only for the duration of that Run.
	pre map[string]map[string]indicator.Series
}

// NewSimulation creates a simulation with the given starting cash.
func NewSimulation(c *Compiled, initialCapital float64) *Simulation {
	return &Simulation{
		compiled:       c,
		initialCapital: initialCapital,
		cash:           initialCapital,
		symbols:        make(map[string]*symbolState),
	}
}

// SetWindow caps retained history per symbol. Must be large enough to
// cover the longest indicator warm-up in the strategy.
func (s *Simulation) SetWindow(n int) { s.window = n }

// Cash returns uninvested cash.
func (s *Simulation) Cash() float64 { return s.cash }

// Trades returns a copy of the trade log, entries in chronological order.
func (s *Simulation) Trades() []domain.Trade {
	out := make([]domain.Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

// EquityCurve returns a copy of the equity samples.
func (s *Simulation) EquityCurve() []domain.EquityPoint {
	out := make([]domain.EquityPoint, len(s.equity))
	copy(out, s.equity)
	return out
}

// Positions returns copies of all open positions keyed by symbol.
func (s *Simulation) Positions() map[string]domain.Position {
	out := make(map[string]domain.Position, len(s.symbols))
	for sym, st := range s.symbols {
		if st.position != nil {
			out[sym] = *st.position
		}
	}
	return out
}

// Equity returns the current total value: cash plus mark-to-market open
// positions at their last seen price.
func (s *Simulation) Equity() float64 {
	v := s.cash
	for _, st := range s.symbols {
		if st.position != nil {
			v += st.position.Qty * st.position.CurrentPrice
		}
	}
	return v
}

// Run executes the whole series through Step and returns the results.
// Deterministic: the same strategy and bars always produce identical
// trades and equity curves.
func (s *Simulation) Run(bars []domain.Bar) (*Result, error) {
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	// All indicators are causal (value at bar i depends only on bars 0..i),
	// so a fresh unwindowed run can compute every series once up front
	// instead of recomputing per Step.
	if s.window == 0 && len(s.equity) == 0 {
		s.pre = make(map[string]map[string]indicator.Series)
		for sym, sb := range groupBySymbol(bars) {
			s.pre[sym] = s.compiled.computeSeries(sb)
		}
		defer func() { s.pre = nil }()
	}
	for i := range bars {
		if err := s.Step(bars[i]); err != nil {
			return nil, fmt.Errorf("bar %d (%s): %w", i, bars[i].Timestamp.Format(time.RFC3339), err)
		}
	}
	return s.Result(), nil
}

// Result assembles the current trades, equity curve, open positions, and
// derived metrics.
func (s *Simulation) Result() *Result {
	return &Result{
		InitialCapital: s.initialCapital,
		FinalCash:      s.cash,
		Trades:         s.Trades(),
		EquityCurve:    s.EquityCurve(),
		OpenPositions:  s.Positions(),
		Metrics:        ComputeMetrics(s.initialCapital, s.equity, s.trades),
	}
}

// Step advances the simulation by one bar:
//
//  1. the bar joins the symbol's window and indicators are refreshed
//  2. a resting stop-loss/take-profit is checked against the bar's
//     low/high and closes at the threshold price, pre-empting signals
//  3. otherwise conditions are evaluated in declaration order and each
//     true condition triggers its bound action blocks
//  4. an equity point is appended at the bar close
//
// Bars must arrive in strictly increasing timestamp order per symbol;
// violations return ErrStaleTick without touching state.
func (s *Simulation) Step(bar domain.Bar) error {
	st, ok := s.symbols[bar.Symbol]
	if !ok {
		st = &symbolState{}
		s.symbols[bar.Symbol] = st
	}
	if !bar.Timestamp.After(st.lastTS) {
		return ErrStaleTick
	}

	st.bars = append(st.bars, bar)
	if s.window > 0 && len(st.bars) > s.window {
		st.bars = st.bars[len(st.bars)-s.window:]
	}
	if pre, ok := s.pre[bar.Symbol]; ok {
		st.series = pre
	} else {
		st.series = s.compiled.computeSeries(st.bars)
	}
	st.lastTS = bar.Timestamp

	idx := len(st.bars) - 1
	exited := s.checkResting(st, bar)
	if !exited {
		s.evalSignals(st, bar, idx)
	}
	if st.position != nil {
		st.position.CurrentPrice = bar.Close
	}

	s.equity = append(s.equity, domain.EquityPoint{
		Timestamp: bar.Timestamp,
		Value:     s.Equity(),
	})
	return nil
}

// groupBySymbol splits bars per symbol, preserving arrival order.
func groupBySymbol(bars []domain.Bar) map[string][]domain.Bar {
	out := make(map[string][]domain.Bar)
	for _, b := range bars {
		out[b.Symbol] = append(out[b.Symbol], b)
	}
	return out
}

// checkResting enforces stop-loss/take-profit on the open position before
// any signal evaluation. Exits fill at the threshold price. A stop-loss
// breach wins when both thresholds fall inside the same bar's range.
func (s *Simulation) checkResting(st *symbolState, bar domain.Bar) bool {
	pos := st.position
	if pos == nil {
		return false
	}
	if pos.StopLoss > 0 && bar.Low <= pos.StopLoss {
		s.closePosition(st, pos.StopLoss, bar.Timestamp, domain.ExitStopLoss)
		return true
	}
	if pos.TakeProfit > 0 && bar.High >= pos.TakeProfit {
		s.closePosition(st, pos.TakeProfit, bar.Timestamp, domain.ExitTakeProfit)
		return true
	}
	return false
}

// evalSignals evaluates conditions in declaration order; each condition
// that fires this bar executes its bound action blocks.
func (s *Simulation) evalSignals(st *symbolState, bar domain.Bar, idx int) {
	lookup := func(ref string, i int) (float64, bool) {
		series, ok := st.series[ref]
		if !ok {
			return 0, false
		}
		if i < 0 || i >= len(series) {
			return 0, false
		}
		return series[i], true
	}

	for ci := range s.compiled.conditions {
		cb := &s.compiled.conditions[ci]
		if !cb.expr.Eval(lookup, idx) {
			continue
		}
		s.applyActions(st, bar, cb.actions)
	}
}

// applyActions executes the action blocks bound to a fired condition.
// Actions whose precondition state does not apply (BUY while open, SELL
// while flat) are no-ops.
func (s *Simulation) applyActions(st *symbolState, bar domain.Bar, actions []actionBlock) {
	for _, ab := range actions {
		switch ab.spec.Action {
		case domain.ActionBuy:
			if st.position == nil {
				s.openPosition(st, bar, ab.spec.Params)
			}
		case domain.ActionSell, domain.ActionExitAll:
			if st.position != nil {
				s.closePosition(st, bar.Close, bar.Timestamp, domain.ExitSignal)
			}
		}
	}
}

// openPosition sizes the entry at sizePct of current cash and fills at
// the signal bar's close, attaching absolute stop-loss/take-profit prices
// derived from the entry.
func (s *Simulation) openPosition(st *symbolState, bar domain.Bar, p domain.ActionParams) {
	price := bar.Close
	if price <= 0 {
		return
	}
	value := s.cash * p.SizePct
	qty := value / price
	if qty <= 0 {
		return
	}

	s.tradeSeq++
	trade := domain.Trade{
		ID:         fmt.Sprintf("%s-%d", bar.Symbol, s.tradeSeq),
		Symbol:     bar.Symbol,
		Side:       domain.SideBuy,
		Qty:        qty,
		EntryTime:  bar.Timestamp,
		EntryPrice: price,
		Status:     domain.TradeOpen,
	}
	pos := &domain.Position{
		Symbol:       bar.Symbol,
		Qty:          qty,
		AvgPrice:     price,
		CurrentPrice: price,
		EntryTime:    bar.Timestamp,
		TradeID:      trade.ID,
	}
	if p.StopLossPct > 0 {
		pos.StopLoss = price * (1 - p.StopLossPct)
		trade.StopLoss = pos.StopLoss
	}
	if p.TakeProfitPct > 0 {
		pos.TakeProfit = price * (1 + p.TakeProfitPct)
		trade.TakeProfit = pos.TakeProfit
	}

	s.cash -= value
	s.trades = append(s.trades, trade)
	st.position = pos
}

// closePosition exits the symbol's position at the given price and
// finalizes its trade record. Closed trades are immutable afterwards.
func (s *Simulation) closePosition(st *symbolState, price float64, ts time.Time, reason domain.ExitReason) {
	pos := st.position
	if pos == nil {
		return
	}

	value := pos.Qty * price
	pnl := (price - pos.AvgPrice) * pos.Qty
	s.cash += value

	for i := len(s.trades) - 1; i >= 0; i-- {
		t := &s.trades[i]
		if t.ID != pos.TradeID {
			continue
		}
		exitTime := ts
		t.ExitTime = &exitTime
		t.ExitPrice = price
		t.PnL = pnl
		t.PnLPct = pnl / (pos.AvgPrice * pos.Qty) * 100
		t.ExitReason = reason
		t.Status = domain.TradeClosed
		break
	}

	st.position = nil
}
