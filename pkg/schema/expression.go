package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Node is one element of a canonical expression tree. The set of node types is
// closed: Compare, Not, Group, Const and Invalid.
//
// The JSON form is the JsonLogic family: objects keyed by operator name whose
// value is the operand array, with {"var": path} marking context references.
type Node interface {
	json.Marshaler
	node()
}

// CompareOp is a leaf comparison operator in the canonical format.
type CompareOp string

const (
	CmpEqual     CompareOp = "==="
	CmpNotEqual  CompareOp = "!=="
	CmpGreater   CompareOp = ">"
	CmpLess      CompareOp = "<"
	CmpGreaterEq CompareOp = ">="
	CmpLessEq    CompareOp = "<="
	// CmpIn tests membership: Left is the sought element, Right the container.
	CmpIn CompareOp = "in"
)

// Ordering reports whether op is one of the numeric ordering operators.
func (op CompareOp) Ordering() bool {
	switch op {
	case CmpGreater, CmpLess, CmpGreaterEq, CmpLessEq:
		return true
	}
	return false
}

// GroupKind is the logical connective of a group node.
type GroupKind string

const (
	GroupAnd GroupKind = "and"
	GroupOr  GroupKind = "or"
)

const (
	keyNot = "!"
	keyVar = "var"
)

// VarRef references a value in the execution context by path.
type VarRef struct {
	Path       string
	Default    any
	HasDefault bool
}

// Operand is either a context reference or a literal value.
type Operand struct {
	Var     *VarRef
	Value   any
	Invalid *Invalid // set when the operand is an unsupported nested operation
}

// VarOperand returns an operand referencing path.
func VarOperand(path string) Operand {
	return Operand{Var: &VarRef{Path: path}}
}

// LiteralOperand returns a literal operand.
func LiteralOperand(v any) Operand {
	return Operand{Value: v}
}

// IsVar reports whether the operand is a context reference.
func (o Operand) IsVar() bool { return o.Var != nil }

// Compare is a leaf comparison node.
type Compare struct {
	Op    CompareOp
	Left  Operand
	Right Operand
}

// Not inverts its child.
type Not struct {
	Child Node
}

// Group combines children with a single connective.
type Group struct {
	Kind     GroupKind
	Children []Node
}

// Const is a bare boolean; only reachable through expert mode.
type Const struct {
	Value bool
}

// Invalid stands in for a subtree the decoder could not interpret. Evaluating
// it fails with Code; decoding itself never fails on it, so an Invalid child
// that is short-circuited away never surfaces.
type Invalid struct {
	Code   string
	Key    string
	Reason string
	Raw    json.RawMessage
}

func (*Compare) node() {}
func (*Not) node()     {}
func (*Group) node()   {}
func (*Const) node()   {}
func (*Invalid) node() {}

// Err converts the invalid node into the evaluation error it represents.
func (n *Invalid) Err() *CondError {
	if n.Code == ErrCodeUnknownOperator {
		return NewErrorf(ErrCodeUnknownOperator, "unknown operator %q", n.Key).
			WithDetails(map[string]any{"operator": n.Key})
	}
	return NewError(ErrCodeMalformedExpression, n.Reason).
		WithDetails(map[string]any{"node": string(n.Raw)})
}

// --- Encoding ---
//
// Operator keys such as ">" must be written verbatim, so every encoder here
// disables HTML escaping.

func (n *Compare) MarshalJSON() ([]byte, error) { return encodeCanonical(n) }
func (n *Not) MarshalJSON() ([]byte, error)     { return encodeCanonical(n) }
func (n *Group) MarshalJSON() ([]byte, error)   { return encodeCanonical(n) }
func (n *Const) MarshalJSON() ([]byte, error)   { return encodeCanonical(n) }

func (n *Invalid) MarshalJSON() ([]byte, error) {
	if len(n.Raw) == 0 {
		return []byte("null"), nil
	}
	return n.Raw, nil
}

// toValue converts a node into plain maps and slices.
func toValue(n Node) any {
	switch v := n.(type) {
	case *Compare:
		return map[string]any{string(v.Op): []any{v.Left.toValue(), v.Right.toValue()}}
	case *Not:
		return map[string]any{keyNot: []any{toValue(v.Child)}}
	case *Group:
		children := make([]any, len(v.Children))
		for i, c := range v.Children {
			children[i] = toValue(c)
		}
		return map[string]any{string(v.Kind): children}
	case *Const:
		return v.Value
	case *Invalid:
		if len(v.Raw) == 0 {
			return nil
		}
		return v.Raw
	default:
		return nil
	}
}

func (o Operand) toValue() any {
	switch {
	case o.Invalid != nil:
		return o.Invalid.Raw
	case o.Var != nil && o.Var.HasDefault:
		return map[string]any{keyVar: []any{o.Var.Path, o.Var.Default}}
	case o.Var != nil:
		return map[string]any{keyVar: o.Var.Path}
	default:
		return o.Value
	}
}

func encodeCanonical(n Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(toValue(n)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MarshalExpression encodes a node to canonical JSON.
func MarshalExpression(n Node) (json.RawMessage, error) {
	if n == nil {
		return nil, NewError(ErrCodeValidation, "nil expression")
	}
	b, err := encodeCanonical(n)
	if err != nil {
		return nil, fmt.Errorf("marshal expression: %w", err)
	}
	return b, nil
}

// --- Decoding ---

// ParseExpression decodes canonical JSON into a node tree. It fails only when
// raw is not JSON; unknown operators and malformed shapes become Invalid nodes.
func ParseExpression(raw []byte) (Node, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, NewErrorf(ErrCodeMalformedExpert, "expression is not valid JSON: %s", err.Error()).
			WithCause(err)
	}
	return DecodeExpression(v), nil
}

// DecodeExpression converts a generic JSON value (as produced by
// encoding/json) into a node tree.
func DecodeExpression(v any) Node {
	switch val := v.(type) {
	case bool:
		return &Const{Value: val}
	case map[string]any:
		if len(val) != 1 {
			return malformed(v, "expression object must have exactly one operator key, got %d", len(val))
		}
		for key, args := range val {
			return decodeOperation(v, key, args)
		}
	}
	return malformed(v, "expected an operator object, got %s", jsonKind(v))
}

func decodeOperation(whole any, key string, args any) Node {
	switch key {
	case string(GroupAnd), string(GroupOr):
		list, ok := args.([]any)
		if !ok || len(list) == 0 {
			return malformed(whole, "%q requires a non-empty array of expressions", key)
		}
		g := &Group{Kind: GroupKind(key), Children: make([]Node, len(list))}
		for i, item := range list {
			g.Children[i] = DecodeExpression(item)
		}
		return g

	case keyNot:
		if list, ok := args.([]any); ok {
			if len(list) != 1 {
				return malformed(whole, "%q requires exactly one expression, got %d", key, len(list))
			}
			return &Not{Child: DecodeExpression(list[0])}
		}
		return &Not{Child: DecodeExpression(args)}

	case string(CmpEqual), string(CmpNotEqual), string(CmpGreater), string(CmpLess),
		string(CmpGreaterEq), string(CmpLessEq), string(CmpIn):
		list, ok := args.([]any)
		if !ok || len(list) != 2 {
			return malformed(whole, "%q requires exactly two operands", key)
		}
		return &Compare{
			Op:    CompareOp(key),
			Left:  decodeOperand(list[0]),
			Right: decodeOperand(list[1]),
		}

	case keyVar:
		return malformed(whole, "a bare variable reference is not a condition")
	}

	return &Invalid{Code: ErrCodeUnknownOperator, Key: key, Raw: rawOf(whole)}
}

func decodeOperand(v any) Operand {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return Operand{Value: v}
	}
	for key, arg := range m {
		if key != keyVar {
			inv := &Invalid{Code: ErrCodeUnknownOperator, Key: key, Raw: rawOf(v)}
			return Operand{Invalid: inv}
		}
		switch a := arg.(type) {
		case string:
			return VarOperand(a)
		case float64:
			return VarOperand(strconv.FormatFloat(a, 'f', -1, 64))
		case []any:
			if len(a) >= 1 && len(a) <= 2 {
				path, ok := a[0].(string)
				if ok {
					ref := &VarRef{Path: path}
					if len(a) == 2 {
						ref.Default = a[1]
						ref.HasDefault = true
					}
					return Operand{Var: ref}
				}
			}
		}
		inv := &Invalid{
			Code:   ErrCodeMalformedExpression,
			Reason: "var requires a path string or [path, default]",
			Raw:    rawOf(v),
		}
		return Operand{Invalid: inv}
	}
	return Operand{Value: v}
}

func malformed(v any, format string, args ...any) *Invalid {
	return &Invalid{
		Code:   ErrCodeMalformedExpression,
		Reason: fmt.Sprintf(format, args...),
		Raw:    rawOf(v),
	}
}

func rawOf(v any) json.RawMessage {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Walk visits n and its descendants depth-first. Returning false from fn
// stops descent into that node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch v := n.(type) {
	case *Not:
		Walk(v.Child, fn)
	case *Group:
		for _, c := range v.Children {
			Walk(c, fn)
		}
	}
}

// Outcome is the result of a successful evaluation.
type Outcome struct {
	Matched bool `json:"matched"`
}
