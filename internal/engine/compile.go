// Package engine executes compiled strategies over price series, bar by
// bar, producing trades and an equity curve. It serves both one-shot
// backtests and incremental forward simulation.
package engine

import (
	"stratlab/internal/domain"
	"stratlab/internal/expr"
	"stratlab/internal/indicator"
)

// indicatorBlock pairs a validated indicator spec with its block id.
type indicatorBlock struct {
	id   string
	spec *domain.IndicatorSpec
}

// actionBlock pairs a validated action spec with its block id.
type actionBlock struct {
	id   string
	spec *domain.ActionSpec
}

// conditionBlock pairs a parsed expression with its block id and the
// action blocks it triggers. An action block binds to the nearest
// condition block declared before it.
type conditionBlock struct {
	id      string
	expr    *expr.Expr
	actions []actionBlock
}

// Compiled is a strategy validated once and ready for execution. It is
// immutable and safe to share across concurrent simulations.
type Compiled struct {
	strategy   *domain.Strategy
	indicators []indicatorBlock
	conditions []conditionBlock

	// outputs are the series names the indicator blocks will publish,
	// used to resolve condition references at compile time.
	outputs map[string]struct{}
}

// Strategy returns the source strategy.
func (c *Compiled) Strategy() *domain.Strategy { return c.strategy }

// Compile validates a strategy and splits its blocks by type. All
// validation errors surface here, before any execution: duplicate or
// forward-referenced ids, unknown indicator kinds, out-of-range
// parameters, and unresolvable or malformed condition expressions.
func Compile(s *domain.Strategy) (*Compiled, error) {
	c := &Compiled{
		strategy: s,
		outputs:  map[string]struct{}{expr.PriceRef: {}},
	}

	seen := make(map[string]struct{}, len(s.Blocks))
	for i := range s.Blocks {
		b := &s.Blocks[i]
		if b.ID == "" {
			return nil, &domain.ValidationError{Reason: "block with empty id"}
		}
		if _, dup := seen[b.ID]; dup {
			return nil, &domain.ValidationError{Reason: "duplicate block id " + b.ID}
		}

		switch b.Type {
		case domain.BlockIndicator:
			if b.Indicator == nil {
				return nil, &domain.ValidationError{BlockID: b.ID, Reason: "indicator payload missing"}
			}
			if err := indicator.ValidateSpec(b.ID, b.Indicator); err != nil {
				return nil, err
			}
			c.indicators = append(c.indicators, indicatorBlock{id: b.ID, spec: b.Indicator})
			for name := range indicator.Compute(b.ID, b.Indicator, nil) {
				c.outputs[name] = struct{}{}
			}

		case domain.BlockCondition:
			if b.Condition == nil {
				return nil, &domain.ValidationError{BlockID: b.ID, Reason: "condition payload missing"}
			}
			e, err := expr.Parse(b.ID, b.Condition.Expr)
			if err != nil {
				return nil, err
			}
			// References must resolve to already-declared outputs: no
			// forward references, no cycles.
			for _, ref := range e.Refs() {
				if _, ok := c.outputs[ref]; !ok {
					return nil, &domain.ValidationError{BlockID: b.ID, Reason: "unresolved reference " + ref}
				}
			}
			c.conditions = append(c.conditions, conditionBlock{id: b.ID, expr: e})

		case domain.BlockAction:
			if b.Action == nil {
				return nil, &domain.ValidationError{BlockID: b.ID, Reason: "action payload missing"}
			}
			if err := validateAction(b.ID, b.Action); err != nil {
				return nil, err
			}
			if len(c.conditions) == 0 {
				return nil, &domain.ValidationError{BlockID: b.ID, Reason: "action block has no preceding condition"}
			}
			last := &c.conditions[len(c.conditions)-1]
			last.actions = append(last.actions, actionBlock{id: b.ID, spec: b.Action})

		default:
			return nil, &domain.ValidationError{BlockID: b.ID, Reason: "unknown block type " + string(b.Type)}
		}

		seen[b.ID] = struct{}{}
	}

	return c, nil
}

func validateAction(blockID string, spec *domain.ActionSpec) error {
	switch spec.Action {
	case domain.ActionBuy, domain.ActionSell, domain.ActionExitAll:
	default:
		return &domain.ValidationError{BlockID: blockID, Reason: "unknown action " + string(spec.Action)}
	}

	p := spec.Params
	if spec.Action == domain.ActionBuy {
		if p.SizePct <= 0 || p.SizePct > 1 {
			return &domain.ValidationError{BlockID: blockID, Reason: "sizePct must be in (0,1]"}
		}
	}
	if p.StopLossPct < 0 || p.StopLossPct >= 1 {
		return &domain.ValidationError{BlockID: blockID, Reason: "stopLossPct must be in [0,1)"}
	}
	if p.TakeProfitPct < 0 || p.TakeProfitPct >= 1 {
		return &domain.ValidationError{BlockID: blockID, Reason: "takeProfitPct must be in [0,1)"}
	}
	return nil
}

// computeSeries evaluates all indicator blocks over the bars and returns
// the full output map, including the synthetic "price" series.
func (c *Compiled) computeSeries(bars []domain.Bar) map[string]indicator.Series {
	series := make(map[string]indicator.Series, len(c.outputs))

	price := make(indicator.Series, len(bars))
	for i := range bars {
		price[i] = bars[i].Close
	}
	series[expr.PriceRef] = price

	for _, ib := range c.indicators {
		for name, s := range indicator.Compute(ib.id, ib.spec, bars) {
			series[name] = s
		}
	}
	return series
}
