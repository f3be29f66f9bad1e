// Package compiler turns a condition node configuration into a canonical
// expression tree. Compilation is pure: the same input always yields the same
// tree or the same error.
package compiler

import (
	"encoding/json"
	"strings"

	"github.com/rendis/credlogic/internal/rules"
	"github.com/rendis/credlogic/pkg/schema"
)

// Compile dispatches on the configuration mode.
func Compile(cfg schema.ConditionConfig) (schema.Node, error) {
	switch cfg.Mode() {
	case schema.ModeVisual:
		return CompileVisual(cfg.Rules())
	case schema.ModeExpert:
		return CompileExpert(cfg.Expression())
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown condition mode %q", cfg.Mode())
	}
}

// CompileVisual compiles a visual rule list.
//
// A single rule compiles to a bare leaf. Several rules are wrapped in one group
// keyed by the FIRST rule's connector; the connectors of later rules are
// ignored. Saved workflows depend on this, so mixed and/or chains are not
// interpreted.
func CompileVisual(list []schema.VisualRule) (schema.Node, error) {
	if len(list) == 0 {
		return nil, schema.NewError(schema.ErrCodeEmptyRuleSet, "add at least one rule")
	}

	leaves := make([]schema.Node, len(list))
	for i, r := range list {
		leaf, err := compileRule(r)
		if err != nil {
			if ce, ok := err.(*schema.CondError); ok {
				ce.WithDetails(map[string]any{"rule_id": r.ID, "rule_index": i})
			}
			return nil, err
		}
		leaves[i] = leaf
	}

	if len(leaves) == 1 {
		return leaves[0], nil
	}

	kind := schema.GroupAnd
	if list[0].Connector == schema.ConnectorOr {
		kind = schema.GroupOr
	}
	return &schema.Group{Kind: kind, Children: leaves}, nil
}

func compileRule(r schema.VisualRule) (schema.Node, error) {
	field := schema.VarOperand(r.Field)

	switch r.Operator {
	case schema.OpEquals:
		return compare(schema.CmpEqual, field, literal(r.Value)), nil
	case schema.OpNotEquals:
		return &schema.Not{Child: compare(schema.CmpEqual, field, literal(r.Value))}, nil
	case schema.OpGreaterThan:
		return compare(schema.CmpGreater, field, literal(r.Value)), nil
	case schema.OpLessThan:
		return compare(schema.CmpLess, field, literal(r.Value)), nil
	case schema.OpGreaterOrEqual:
		return compare(schema.CmpGreaterEq, field, literal(r.Value)), nil
	case schema.OpLessOrEqual:
		return compare(schema.CmpLessEq, field, literal(r.Value)), nil
	case schema.OpContains:
		// The field is the container and the literal the sought element, so
		// this is the one operator whose literal comes first.
		return compare(schema.CmpIn, literal(r.Value), field), nil
	case schema.OpIn:
		arr, err := rules.ParseArrayLiteral(r.Value)
		if err != nil {
			return nil, err
		}
		return compare(schema.CmpIn, field, schema.LiteralOperand(arr)), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInvalidOperator, "unsupported rule operator %q", r.Operator)
	}
}

func compare(op schema.CompareOp, left, right schema.Operand) *schema.Compare {
	return &schema.Compare{Op: op, Left: left, Right: right}
}

func literal(raw string) schema.Operand {
	return schema.LiteralOperand(rules.CoerceLiteral(raw))
}

// CompileExpert accepts a hand-written canonical tree. Only well-formedness of
// the JSON is checked here; unknown operators and malformed shapes are left in
// the tree and fail at evaluation.
func CompileExpert(text string) (schema.Node, error) {
	if strings.TrimSpace(text) == "" {
		return nil, schema.NewError(schema.ErrCodeMalformedExpert, "expert expression is empty")
	}
	n, err := schema.ParseExpression([]byte(text))
	if err != nil {
		return nil, err
	}
	return n, nil
}

// CompileJSON compiles cfg and returns the canonical JSON document that is
// persisted with the node.
func CompileJSON(cfg schema.ConditionConfig) (json.RawMessage, error) {
	n, err := Compile(cfg)
	if err != nil {
		return nil, err
	}
	return schema.MarshalExpression(n)
}
