// Package expr parses and evaluates the boolean condition expressions of
// the strategy DSL. An expression is either a comparison between two
// references (or a reference and a numeric literal) or a crossing
// function:
//
//	b1 > 70
//	price <= b2
//	cross_over(b1,b2)
//	cross_under(b1,price)
//
// A reference is a block id resolving to an indicator series, or the
// literal "price" (the bar close series). Parsing happens once at
// strategy compile time; evaluation is per bar and never errors —
// undefined values evaluate to false.
package expr

import (
	"math"
	"strconv"
	"strings"

	"stratlab/internal/domain"
)

// Op is a comparison operator.
type Op string

const (
	OpGT Op = ">"
	OpLT Op = "<"
	OpGE Op = ">="
	OpLE Op = "<="
	OpEQ Op = "=="
)

// PriceRef is the reserved reference resolving to the bar close series.
const PriceRef = "price"

// Kind discriminates the expression forms.
type Kind int

const (
	KindCompare Kind = iota
	KindCrossOver
	KindCrossUnder
)

// Expr is a parsed, immutable condition expression.
type Expr struct {
	kind Kind

	// Comparison: left ref, op, and either a right ref or a literal.
	left     string
	op       Op
	right    string // empty when rightLit is set
	rightLit float64
	isLit    bool

	// Crossing: the two series references.
	a, b string
}

// Refs returns the series references the expression reads, for
// compile-time resolution checks. The literal "price" is included.
func (e *Expr) Refs() []string {
	switch e.kind {
	case KindCompare:
		if e.isLit {
			return []string{e.left}
		}
		return []string{e.left, e.right}
	default:
		return []string{e.a, e.b}
	}
}

// Parse compiles the expression text. Malformed syntax returns a
// *domain.ValidationError naming the offending block.
func Parse(blockID, text string) (*Expr, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, &domain.ValidationError{BlockID: blockID, Reason: "empty condition expression"}
	}

	if fn, rest, ok := splitCall(s); ok {
		kind := KindCrossOver
		switch fn {
		case "cross_over":
		case "cross_under":
			kind = KindCrossUnder
		default:
			return nil, &domain.ValidationError{BlockID: blockID, Reason: "unknown function " + fn}
		}
		args := strings.Split(rest, ",")
		if len(args) != 2 {
			return nil, &domain.ValidationError{BlockID: blockID, Reason: fn + " takes exactly two references"}
		}
		a, b := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
		if !validRef(a) || !validRef(b) {
			return nil, &domain.ValidationError{BlockID: blockID, Reason: "malformed reference in " + fn}
		}
		return &Expr{kind: kind, a: a, b: b}, nil
	}

	return parseComparison(blockID, s)
}

// splitCall recognises "name(args)" and returns the name and the raw
// argument text.
func splitCall(s string) (fn, args string, ok bool) {
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return "", "", false
	}
	return strings.TrimSpace(s[:open]), s[open+1 : len(s)-1], true
}

func parseComparison(blockID, s string) (*Expr, error) {
	// Two-character operators first so ">=" is not read as ">".
	ops := []Op{OpGE, OpLE, OpEQ, OpGT, OpLT}
	for _, op := range ops {
		idx := strings.Index(s, string(op))
		if idx < 0 {
			continue
		}
		left := strings.TrimSpace(s[:idx])
		right := strings.TrimSpace(s[idx+len(op):])
		if left == "" || right == "" {
			return nil, &domain.ValidationError{BlockID: blockID, Reason: "incomplete comparison"}
		}
		if !validRef(left) {
			return nil, &domain.ValidationError{BlockID: blockID, Reason: "malformed reference " + left}
		}

		e := &Expr{kind: KindCompare, left: left, op: op}
		if lit, err := strconv.ParseFloat(right, 64); err == nil {
			e.isLit = true
			e.rightLit = lit
			return e, nil
		}
		if !validRef(right) {
			return nil, &domain.ValidationError{BlockID: blockID, Reason: "malformed reference " + right}
		}
		e.right = right
		return e, nil
	}
	return nil, &domain.ValidationError{BlockID: blockID, Reason: "no comparison operator or crossing function"}
}

// validRef accepts identifiers of letters, digits, and underscores,
// starting with a letter.
func validRef(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r == '_' && i > 0:
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Lookup resolves a reference to its value at a bar index. The second
// return reports whether the value is defined.
type Lookup func(ref string, idx int) (float64, bool)

// Eval evaluates the expression at bar idx. Missing or NaN operands make
// the expression false; insufficient history for a crossing makes it
// false. Eval never returns an error.
func (e *Expr) Eval(lookup Lookup, idx int) bool {
	switch e.kind {
	case KindCompare:
		lv, ok := lookup(e.left, idx)
		if !ok || math.IsNaN(lv) {
			return false
		}
		rv := e.rightLit
		if !e.isLit {
			v, ok := lookup(e.right, idx)
			if !ok || math.IsNaN(v) {
				return false
			}
			rv = v
		}
		switch e.op {
		case OpGT:
			return lv > rv
		case OpLT:
			return lv < rv
		case OpGE:
			return lv >= rv
		case OpLE:
			return lv <= rv
		case OpEQ:
			return lv == rv
		}
		return false

	case KindCrossOver, KindCrossUnder:
		if idx < 1 {
			return false
		}
		aPrev, ok1 := lookup(e.a, idx-1)
		bPrev, ok2 := lookup(e.b, idx-1)
		aCur, ok3 := lookup(e.a, idx)
		bCur, ok4 := lookup(e.b, idx)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return false
		}
		if math.IsNaN(aPrev) || math.IsNaN(bPrev) || math.IsNaN(aCur) || math.IsNaN(bCur) {
			return false
		}
		if e.kind == KindCrossOver {
			return aPrev <= bPrev && aCur > bCur
		}
		return aPrev >= bPrev && aCur < bCur
	}
	return false
}
