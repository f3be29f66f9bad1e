// Package evaluator decides a canonical expression tree against an execution
// context. Evaluation is synchronous and pure: the context is only read, and no
// state survives between calls, so every function here is safe for concurrent
// use.
package evaluator

import (
	"math"
	"strconv"
	"strings"

	"github.com/rendis/credlogic/internal/rules"
	"github.com/rendis/credlogic/pkg/schema"
)

// TraceEntry records one comparison that was actually evaluated.
type TraceEntry struct {
	Op     schema.CompareOp `json:"op"`
	Left   any              `json:"left"`
	Right  any              `json:"right"`
	Result bool             `json:"result"`
}

// Evaluate decides n against data.
//
// Missing context fields are not errors: they resolve to undefined, which
// equals nothing and orders against nothing, so the comparison is false. The
// only failures are UNKNOWN_OPERATOR and MALFORMED_EXPRESSION, both reachable
// only through expert mode; on failure the outcome is not matched.
func Evaluate(n schema.Node, data map[string]any) (schema.Outcome, error) {
	return run(n, data, nil)
}

// EvaluateTrace is Evaluate plus the list of comparisons visited, in order.
// Short-circuited comparisons do not appear.
func EvaluateTrace(n schema.Node, data map[string]any) (schema.Outcome, []TraceEntry, error) {
	var trace []TraceEntry
	out, err := run(n, data, &trace)
	return out, trace, err
}

// EvaluateJSON decodes a stored canonical document and evaluates it.
func EvaluateJSON(raw []byte, data map[string]any) (schema.Outcome, error) {
	n, err := schema.ParseExpression(raw)
	if err != nil {
		return schema.Outcome{}, err
	}
	return Evaluate(n, data)
}

func run(n schema.Node, data map[string]any, trace *[]TraceEntry) (schema.Outcome, error) {
	e := &evaluation{data: data, trace: trace}
	matched, err := e.eval(Normalize(n))
	if err != nil {
		return schema.Outcome{}, err
	}
	return schema.Outcome{Matched: matched}, nil
}

type evaluation struct {
	data  map[string]any
	trace *[]TraceEntry
}

func (e *evaluation) eval(n schema.Node) (bool, error) {
	switch v := n.(type) {
	case *schema.Compare:
		return e.compare(v)
	case *schema.Not:
		b, err := e.eval(v.Child)
		if err != nil {
			return false, err
		}
		return !b, nil
	case *schema.Group:
		return e.group(v)
	case *schema.Const:
		return v.Value, nil
	case *schema.Invalid:
		return false, v.Err()
	case nil:
		return false, schema.NewError(schema.ErrCodeMalformedExpression, "missing expression")
	default:
		return false, schema.NewErrorf(schema.ErrCodeMalformedExpression, "unsupported node %T", n)
	}
}

// group evaluates children left to right and stops at the first child that
// decides the result; later children are never evaluated.
func (e *evaluation) group(g *schema.Group) (bool, error) {
	if len(g.Children) == 0 {
		return false, schema.NewErrorf(schema.ErrCodeMalformedExpression, "%q group has no expressions", g.Kind)
	}

	var stopOn bool
	switch g.Kind {
	case schema.GroupAnd:
		stopOn = false
	case schema.GroupOr:
		stopOn = true
	default:
		return false, schema.NewErrorf(schema.ErrCodeUnknownOperator, "unknown operator %q", g.Kind).
			WithDetails(map[string]any{"operator": string(g.Kind)})
	}

	for _, child := range g.Children {
		b, err := e.eval(child)
		if err != nil {
			return false, err
		}
		if b == stopOn {
			return stopOn, nil
		}
	}
	return !stopOn, nil
}

func (e *evaluation) compare(c *schema.Compare) (bool, error) {
	left, err := e.operand(c.Left)
	if err != nil {
		return false, err
	}
	right, err := e.operand(c.Right)
	if err != nil {
		return false, err
	}

	var result bool
	switch c.Op {
	case schema.CmpEqual:
		result = strictEqual(left, right)
	case schema.CmpNotEqual:
		result = !strictEqual(left, right)
	case schema.CmpGreater, schema.CmpLess, schema.CmpGreaterEq, schema.CmpLessEq:
		result = order(c.Op, left, right)
	case schema.CmpIn:
		result = contains(right, left)
	default:
		return false, schema.NewErrorf(schema.ErrCodeUnknownOperator, "unknown operator %q", c.Op).
			WithDetails(map[string]any{"operator": string(c.Op)})
	}

	if e.trace != nil {
		*e.trace = append(*e.trace, TraceEntry{
			Op: c.Op, Left: traceValue(left), Right: traceValue(right), Result: result,
		})
	}
	return result, nil
}

func (e *evaluation) operand(o schema.Operand) (any, error) {
	switch {
	case o.Invalid != nil:
		return nil, o.Invalid.Err()
	case o.Var != nil:
		if v, ok := Resolve(e.data, o.Var.Path); ok {
			return v, nil
		}
		if o.Var.HasDefault {
			return normalize(o.Var.Default), nil
		}
		return undefined, nil
	default:
		return normalize(o.Value), nil
	}
}

func traceValue(v any) any {
	if isUndefined(v) {
		return nil
	}
	return v
}

// strictEqual is type-aware equality: the string "5" never equals the number
// 5. Arrays and objects compare structurally.
func strictEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)

	if isUndefined(a) || isUndefined(b) {
		return isUndefined(a) && isUndefined(b)
	}

	switch av := a.(type) {
	case nil:
		return b == nil
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !strictEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !strictEqual(x, y) {
				return false
			}
		}
		return true
	}
	return false
}

// order compares numerically. A side that is not a number, or a string that
// does not parse as one, makes the comparison false rather than an error.
func order(op schema.CompareOp, a, b any) bool {
	x, ok := toNumber(a)
	if !ok {
		return false
	}
	y, ok := toNumber(b)
	if !ok {
		return false
	}
	switch op {
	case schema.CmpGreater:
		return x > y
	case schema.CmpLess:
		return x < y
	case schema.CmpGreaterEq:
		return x >= y
	case schema.CmpLessEq:
		return x <= y
	}
	return false
}

// toNumber accepts numbers and numeric strings. Only ordering operators use
// it; equality never coerces.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	case string:
		return rules.ParseNumber(n)
	}
	return 0, false
}

// contains reports whether needle is in container: substring search for a
// string container, element search with strictEqual for an array. Any other
// container yields false.
func contains(container, needle any) bool {
	switch c := container.(type) {
	case string:
		s, ok := needleString(needle)
		return ok && strings.Contains(c, s)
	case []any:
		for _, item := range c {
			if strictEqual(item, needle) {
				return true
			}
		}
	}
	return false
}

func needleString(v any) (string, bool) {
	switch n := v.(type) {
	case string:
		return n, true
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(n), true
	}
	return "", false
}

// Normalize collapses single-child groups so that a one-rule group evaluates
// as the bare comparison. It returns a new tree and leaves n untouched.
func Normalize(n schema.Node) schema.Node {
	switch v := n.(type) {
	case *schema.Group:
		if len(v.Children) == 1 {
			return Normalize(v.Children[0])
		}
		out := &schema.Group{Kind: v.Kind, Children: make([]schema.Node, len(v.Children))}
		for i, c := range v.Children {
			out.Children[i] = Normalize(c)
		}
		return out
	case *schema.Not:
		return &schema.Not{Child: Normalize(v.Child)}
	default:
		return n
	}
}
