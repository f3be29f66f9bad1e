package expressions

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rendis/credlogic/internal/evaluator"
	"github.com/rendis/credlogic/pkg/schema"
)

// Format names a target language for Render.
type Format string

const (
	FormatText Format = "text"
	FormatCEL  Format = "cel"
	FormatExpr Format = "expr"
)

// Formats lists every render target.
var Formats = []Format{FormatText, FormatCEL, FormatExpr}

// Valid reports whether f is a known render target.
func (f Format) Valid() bool {
	return f == FormatText || f == FormatCEL || f == FormatExpr
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Render translates a canonical tree into source for format. Text output is
// for people reading a condition; CEL and Expr output references context
// fields under ctx and can be run by the matching engine.
//
// The rendering is a preview. A "contains" against a string field renders as
// membership, which CEL and Expr only define for lists and maps, and a missing
// field is an engine error rather than a false comparison.
func Render(n schema.Node, format Format) (string, error) {
	if !format.Valid() {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown render format %q", format)
	}
	r := renderer{format: format}
	var b strings.Builder
	if err := r.node(&b, n, true); err != nil {
		return "", err
	}
	return b.String(), nil
}

type renderer struct {
	format Format
}

func (r renderer) node(b *strings.Builder, n schema.Node, top bool) error {
	switch v := n.(type) {
	case *schema.Compare:
		return r.compare(b, v)
	case *schema.Not:
		b.WriteString(r.not())
		b.WriteByte('(')
		if err := r.node(b, v.Child, true); err != nil {
			return err
		}
		b.WriteByte(')')
		return nil
	case *schema.Group:
		if len(v.Children) == 1 {
			return r.node(b, v.Children[0], top)
		}
		if len(v.Children) == 0 {
			return schema.NewErrorf(schema.ErrCodeMalformedExpression, "%q group has no expressions", v.Kind)
		}
		sep, err := r.connective(v.Kind)
		if err != nil {
			return err
		}
		if !top {
			b.WriteByte('(')
		}
		for i, c := range v.Children {
			if i > 0 {
				b.WriteString(sep)
			}
			if err := r.node(b, c, false); err != nil {
				return err
			}
		}
		if !top {
			b.WriteByte(')')
		}
		return nil
	case *schema.Const:
		b.WriteString(strconv.FormatBool(v.Value))
		return nil
	case *schema.Invalid:
		return v.Err()
	}
	return schema.NewErrorf(schema.ErrCodeMalformedExpression, "unsupported node %T", n)
}

func (r renderer) not() string {
	if r.format == FormatText {
		return "NOT "
	}
	return "!"
}

func (r renderer) connective(kind schema.GroupKind) (string, error) {
	switch {
	case kind == schema.GroupAnd && r.format == FormatText:
		return " AND ", nil
	case kind == schema.GroupOr && r.format == FormatText:
		return " OR ", nil
	case kind == schema.GroupAnd:
		return " && ", nil
	case kind == schema.GroupOr:
		return " || ", nil
	}
	return "", schema.NewErrorf(schema.ErrCodeUnknownOperator, "unknown operator %q", kind).
		WithDetails(map[string]any{"operator": string(kind)})
}

func (r renderer) compare(b *strings.Builder, c *schema.Compare) error {
	left, err := r.operand(c.Left)
	if err != nil {
		return err
	}
	right, err := r.operand(c.Right)
	if err != nil {
		return err
	}

	var op string
	switch c.Op {
	case schema.CmpEqual:
		op = "=="
	case schema.CmpNotEqual:
		op = "!="
	case schema.CmpGreater, schema.CmpLess, schema.CmpGreaterEq, schema.CmpLessEq:
		op = string(c.Op)
	case schema.CmpIn:
		op = "in"
		// A literal sought inside a field reads better as "field contains x".
		if r.format == FormatText && !c.Left.IsVar() && c.Right.IsVar() {
			left, right, op = right, left, "contains"
		}
	default:
		return schema.NewErrorf(schema.ErrCodeUnknownOperator, "unknown operator %q", c.Op).
			WithDetails(map[string]any{"operator": string(c.Op)})
	}

	b.WriteString(left)
	b.WriteByte(' ')
	b.WriteString(op)
	b.WriteByte(' ')
	b.WriteString(right)
	return nil
}

func (r renderer) operand(o schema.Operand) (string, error) {
	switch {
	case o.Invalid != nil:
		return "", o.Invalid.Err()
	case o.Var != nil:
		ref := r.path(o.Var.Path)
		if !o.Var.HasDefault {
			return ref, nil
		}
		def := r.literal(o.Var.Default)
		switch r.format {
		case FormatCEL:
			if !strings.HasSuffix(ref, "]") {
				return "(has(" + ref + ") ? " + ref + " : " + def + ")", nil
			}
			return ref, nil
		case FormatExpr:
			return "(" + ref + " ?? " + def + ")", nil
		default:
			return ref + " (default " + def + ")", nil
		}
	default:
		return r.literal(o.Value), nil
	}
}

// path renders a context path split the way the evaluator resolves it. In
// CEL and Expr, numeric segments become list indexes and segments that are
// not identifiers become quoted map keys.
func (r renderer) path(p string) string {
	if r.format == FormatText {
		return p
	}
	var b strings.Builder
	b.WriteString(RootVar)
	if p == "" {
		return b.String()
	}
	for _, seg := range evaluator.SplitPath(p) {
		switch {
		case identPattern.MatchString(seg):
			b.WriteByte('.')
			b.WriteString(seg)
		case isIndex(seg):
			b.WriteByte('[')
			b.WriteString(seg)
			b.WriteByte(']')
		default:
			b.WriteByte('[')
			b.WriteString(strconv.Quote(seg))
			b.WriteByte(']')
		}
	}
	return b.String()
}

func isIndex(seg string) bool {
	if seg == "" {
		return false
	}
	for _, c := range seg {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (r renderer) literal(v any) string {
	switch val := v.(type) {
	case nil:
		if r.format == FormatExpr {
			return "nil"
		}
		return "null"
	case string:
		return strconv.Quote(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		s := strconv.FormatFloat(val, 'f', -1, 64)
		// CEL has no implicit int/double ordering; keep context numbers and
		// literals on the double side.
		if r.format == FormatCEL && !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = r.literal(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = strconv.Quote(k) + ": " + r.literal(val[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return strconv.Quote(fmt.Sprint(v))
}

// Preview is a rendered condition, optionally run by the matching engine.
type Preview struct {
	Format Format `json:"format"`
	Source string `json:"source"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Preview renders n in format and, when data is non-nil and format has an
// engine, evaluates the rendered source against data. Engine failures are
// reported in Preview.Error rather than returned.
func (r *Registry) Preview(ctx context.Context, n schema.Node, format Format, data map[string]any) (*Preview, error) {
	src, err := Render(n, format)
	if err != nil {
		return nil, err
	}
	p := &Preview{Format: format, Source: src}
	if data == nil || format == FormatText {
		return p, nil
	}

	engine, err := r.Get(string(format))
	if err != nil {
		return nil, err
	}
	out, err := engine.Evaluate(ctx, src, data)
	if err != nil {
		p.Error = err.Error()
		return p, nil
	}
	p.Result = out
	return p, nil
}
