package engine

import (
	"errors"
	"testing"

	"stratlab/internal/domain"
)

func indicatorBlockDef(id string, kind domain.IndicatorKind, params map[string]float64) domain.Block {
	return domain.Block{ID: id, Type: domain.BlockIndicator,
		Indicator: &domain.IndicatorSpec{Kind: kind, Params: params}}
}

func conditionBlockDef(id, exprText string) domain.Block {
	return domain.Block{ID: id, Type: domain.BlockCondition,
		Condition: &domain.ConditionSpec{Expr: exprText}}
}

func actionBlockDef(id string, action domain.ActionType, params domain.ActionParams) domain.Block {
	return domain.Block{ID: id, Type: domain.BlockAction,
		Action: &domain.ActionSpec{Action: action, Params: params}}
}

func TestCompileValid(t *testing.T) {
	s := smaCrossStrategy()
	c, err := Compile(s)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(c.indicators) != 2 || len(c.conditions) != 1 {
		t.Errorf("compiled shape: %d indicators, %d conditions; want 2, 1",
			len(c.indicators), len(c.conditions))
	}
	if len(c.conditions[0].actions) != 1 {
		t.Errorf("condition c1 bound %d actions, want 1", len(c.conditions[0].actions))
	}
}

func TestCompileRejections(t *testing.T) {
	buy := domain.ActionParams{SizePct: 0.5}

	cases := []struct {
		name   string
		blocks []domain.Block
	}{
		{
			"duplicate id",
			[]domain.Block{
				indicatorBlockDef("b1", domain.IndicatorSMA, map[string]float64{"period": 5}),
				indicatorBlockDef("b1", domain.IndicatorSMA, map[string]float64{"period": 20}),
			},
		},
		{
			"forward reference",
			[]domain.Block{
				conditionBlockDef("c1", "b1 > 70"),
				indicatorBlockDef("b1", domain.IndicatorRSI, map[string]float64{"period": 14}),
			},
		},
		{
			"unresolved reference",
			[]domain.Block{conditionBlockDef("c1", "cross_over(b1,b2)")},
		},
		{
			"unknown indicator",
			[]domain.Block{indicatorBlockDef("b1", "SUPERTREND", map[string]float64{"period": 10})},
		},
		{
			"missing indicator param",
			[]domain.Block{indicatorBlockDef("b1", domain.IndicatorMACD, map[string]float64{"fast": 12})},
		},
		{
			"malformed expression",
			[]domain.Block{
				indicatorBlockDef("b1", domain.IndicatorSMA, map[string]float64{"period": 5}),
				conditionBlockDef("c1", "b1 >"),
			},
		},
		{
			"sizePct above one",
			[]domain.Block{
				conditionBlockDef("c1", "price > 0"),
				actionBlockDef("a1", domain.ActionBuy, domain.ActionParams{SizePct: 1.5}),
			},
		},
		{
			"sizePct zero",
			[]domain.Block{
				conditionBlockDef("c1", "price > 0"),
				actionBlockDef("a1", domain.ActionBuy, domain.ActionParams{}),
			},
		},
		{
			"stopLossPct at one",
			[]domain.Block{
				conditionBlockDef("c1", "price > 0"),
				actionBlockDef("a1", domain.ActionBuy, domain.ActionParams{SizePct: 0.5, StopLossPct: 1.0}),
			},
		},
		{
			"unknown action",
			[]domain.Block{
				conditionBlockDef("c1", "price > 0"),
				{ID: "a1", Type: domain.BlockAction, Action: &domain.ActionSpec{Action: "HEDGE"}},
			},
		},
		{
			"action without condition",
			[]domain.Block{actionBlockDef("a1", domain.ActionBuy, buy)},
		},
		{
			"empty block id",
			[]domain.Block{indicatorBlockDef("", domain.IndicatorSMA, map[string]float64{"period": 5})},
		},
	}

	for _, tc := range cases {
		_, err := Compile(&domain.Strategy{Name: tc.name, Symbols: []string{"TEST"}, Blocks: tc.blocks})
		if err == nil {
			t.Errorf("%s: Compile succeeded, want validation error", tc.name)
			continue
		}
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: error type %T, want *domain.ValidationError", tc.name, err)
		}
	}
}

func TestCompileResolvesMultiOutputRefs(t *testing.T) {
	s := &domain.Strategy{
		Name: "macd", Symbols: []string{"TEST"},
		Blocks: []domain.Block{
			indicatorBlockDef("b1", domain.IndicatorMACD, map[string]float64{"fast": 12, "slow": 26, "signal": 9}),
			conditionBlockDef("c1", "cross_over(b1,b1_signal)"),
			actionBlockDef("a1", domain.ActionBuy, domain.ActionParams{SizePct: 0.25}),
		},
	}
	if _, err := Compile(s); err != nil {
		t.Errorf("Compile with MACD secondary output ref: %v", err)
	}
}

func TestCompilePriceRef(t *testing.T) {
	s := &domain.Strategy{
		Name: "price-ref", Symbols: []string{"TEST"},
		Blocks: []domain.Block{
			indicatorBlockDef("b1", domain.IndicatorEMA, map[string]float64{"period": 10}),
			conditionBlockDef("c1", "cross_under(price,b1)"),
			actionBlockDef("a1", domain.ActionExitAll, domain.ActionParams{}),
		},
	}
	if _, err := Compile(s); err != nil {
		t.Errorf("Compile with price ref: %v", err)
	}
}
