package domain

import (
	"encoding/json"
	"fmt"
)

// BlockType discriminates the Block union.
type BlockType string

const (
	BlockIndicator BlockType = "indicator"
	BlockCondition BlockType = "condition"
	BlockAction    BlockType = "action"
)

// IndicatorKind enumerates the supported technical indicators.
type IndicatorKind string

const (
	IndicatorSMA       IndicatorKind = "SMA"
	IndicatorEMA       IndicatorKind = "EMA"
	IndicatorRSI       IndicatorKind = "RSI"
	IndicatorMACD      IndicatorKind = "MACD"
	IndicatorBollinger IndicatorKind = "BOLLINGER"
	IndicatorVWAP      IndicatorKind = "VWAP"
	IndicatorATR       IndicatorKind = "ATR"
)

// ActionType enumerates trade actions.
type ActionType string

const (
	ActionBuy     ActionType = "BUY"
	ActionSell    ActionType = "SELL"
	ActionExitAll ActionType = "EXIT_ALL"
)

// IndicatorSpec is the payload of an indicator block.
type IndicatorSpec struct {
	Kind   IndicatorKind      `json:"indicator"`
	Params map[string]float64 `json:"params,omitempty"`
}

// ConditionSpec is the payload of a condition block: a textual boolean
// expression referencing earlier block ids or the literal "price".
type ConditionSpec struct {
	Expr string `json:"expr"`
}

// ActionParams holds the risk parameters of a trade action. SizePct is a
// fraction of current cash in (0,1]; StopLossPct and TakeProfitPct are
// fractions in [0,1), zero meaning disabled.
type ActionParams struct {
	SizePct       float64 `json:"sizePct,omitempty"`
	StopLossPct   float64 `json:"stopLossPct,omitempty"`
	TakeProfitPct float64 `json:"takeProfitPct,omitempty"`
}

// ActionSpec is the payload of an action block.
type ActionSpec struct {
	Action ActionType   `json:"action"`
	Params ActionParams `json:"params"`
}

// Block is a closed tagged variant: exactly one of Indicator, Condition,
// or Action is non-nil, matching Type. The union is validated at parse
// time so the execution engine never needs runtime type checks.
type Block struct {
	ID        string
	Type      BlockType
	Indicator *IndicatorSpec
	Condition *ConditionSpec
	Action    *ActionSpec
}

// blockJSON is the flat wire shape of a block.
type blockJSON struct {
	ID        string             `json:"id"`
	Type      BlockType          `json:"type"`
	Indicator IndicatorKind      `json:"indicator,omitempty"`
	Params    map[string]float64 `json:"params,omitempty"`
	Expr      string             `json:"expr,omitempty"`
}

// MarshalJSON flattens the tagged variant into the wire format.
func (b Block) MarshalJSON() ([]byte, error) {
	out := blockJSON{ID: b.ID, Type: b.Type}
	switch b.Type {
	case BlockIndicator:
		if b.Indicator == nil {
			return nil, fmt.Errorf("block %s: indicator payload missing", b.ID)
		}
		out.Indicator = b.Indicator.Kind
		out.Params = b.Indicator.Params
	case BlockCondition:
		if b.Condition == nil {
			return nil, fmt.Errorf("block %s: condition payload missing", b.ID)
		}
		out.Expr = b.Condition.Expr
	case BlockAction:
		if b.Action == nil {
			return nil, fmt.Errorf("block %s: action payload missing", b.ID)
		}
		// Action params travel under "params" like the indicator params;
		// the type discriminator disambiguates them.
		return json.Marshal(struct {
			ID     string       `json:"id"`
			Type   BlockType    `json:"type"`
			Action ActionType   `json:"action"`
			Params ActionParams `json:"params"`
		}{b.ID, b.Type, b.Action.Action, b.Action.Params})
	default:
		return nil, fmt.Errorf("block %s: unknown type %q", b.ID, b.Type)
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the flat wire shape back into the tagged variant.
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		Type      BlockType       `json:"type"`
		Indicator IndicatorKind   `json:"indicator"`
		Params    json.RawMessage `json:"params"`
		Expr      string          `json:"expr"`
		Action    ActionType      `json:"action"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	b.ID = raw.ID
	b.Type = raw.Type
	b.Indicator = nil
	b.Condition = nil
	b.Action = nil

	switch raw.Type {
	case BlockIndicator:
		spec := &IndicatorSpec{Kind: raw.Indicator}
		if len(raw.Params) > 0 {
			if err := json.Unmarshal(raw.Params, &spec.Params); err != nil {
				return fmt.Errorf("block %s: indicator params: %w", raw.ID, err)
			}
		}
		b.Indicator = spec
	case BlockCondition:
		b.Condition = &ConditionSpec{Expr: raw.Expr}
	case BlockAction:
		spec := &ActionSpec{Action: raw.Action}
		if len(raw.Params) > 0 {
			if err := json.Unmarshal(raw.Params, &spec.Params); err != nil {
				return fmt.Errorf("block %s: action params: %w", raw.ID, err)
			}
		}
		b.Action = spec
	default:
		return fmt.Errorf("block %s: unknown type %q", raw.ID, raw.Type)
	}
	return nil
}

// Strategy is a user-authored trading strategy: an ordered list of typed
// blocks over one or more symbols. Immutable after validation; edits
// produce new strategies, not in-place mutation of historical results.
type Strategy struct {
	ID        string   `json:"strategyId,omitempty"`
	Name      string   `json:"name"`
	UserID    string   `json:"userId,omitempty"`
	Symbols   []string `json:"symbols"`
	Timeframe string   `json:"timeframe"`
	Blocks    []Block  `json:"blocks"`
}

// ValidationError reports a malformed strategy. It is returned
// synchronously at compile time and never enters job or portfolio state.
type ValidationError struct {
	BlockID string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.BlockID == "" {
		return "invalid strategy: " + e.Reason
	}
	return fmt.Sprintf("invalid strategy: block %s: %s", e.BlockID, e.Reason)
}
