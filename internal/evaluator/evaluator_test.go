package evaluator

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/credlogic/internal/compiler"
	"github.com/rendis/credlogic/pkg/schema"
)

func rule(field string, op schema.Operator, value string, conn schema.Connector) schema.VisualRule {
	return schema.VisualRule{ID: field, Field: field, Operator: op, Value: value, Connector: conn}
}

func compileRules(t *testing.T, list ...schema.VisualRule) schema.Node {
	t.Helper()
	n, err := compiler.CompileVisual(list)
	require.NoError(t, err)
	return n
}

func mustMatch(t *testing.T, n schema.Node, data map[string]any) bool {
	t.Helper()
	out, err := Evaluate(n, data)
	require.NoError(t, err)
	return out.Matched
}

func jsonContext(t *testing.T, doc string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &m))
	return m
}

// --- Scenario and round-trip ---

func TestEvaluate_StatusScenario(t *testing.T) {
	n := compileRules(t, rule("status", schema.OpEquals, "active", schema.ConnectorAnd))

	raw, err := schema.MarshalExpression(n)
	require.NoError(t, err)
	assert.Equal(t, `{"===":[{"var":"status"},"active"]}`, string(raw))

	assert.True(t, mustMatch(t, n, map[string]any{"status": "active"}))
	assert.False(t, mustMatch(t, n, map[string]any{"status": "inactive"}))
}

func TestEvaluate_SingleRuleRoundTrip(t *testing.T) {
	ops := []struct {
		op    schema.Operator
		value string
		ctx   any
	}{
		{schema.OpEquals, "42", 42},
		{schema.OpEquals, "abc", "abc"},
		{schema.OpGreaterOrEqual, "7", 7.0},
		{schema.OpLessOrEqual, "7", 7.0},
		{schema.OpContains, "b", "abc"},
		{schema.OpIn, `["x"]`, "x"},
	}
	for _, tt := range ops {
		t.Run(string(tt.op), func(t *testing.T) {
			for _, conn := range []schema.Connector{schema.ConnectorAnd, schema.ConnectorOr} {
				n := compileRules(t, rule("f", tt.op, tt.value, conn))
				assert.True(t, mustMatch(t, n, map[string]any{"f": tt.ctx}))
			}
		})
	}
}

func TestEvaluate_EvaluatesStoredJSON(t *testing.T) {
	out, err := EvaluateJSON([]byte(`{"===":[{"var":"status"},"active"]}`), map[string]any{"status": "active"})
	require.NoError(t, err)
	assert.True(t, out.Matched)

	_, err = EvaluateJSON([]byte(`{`), nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeMalformedExpert))
}

// --- Groups ---

func TestEvaluate_AndGroup(t *testing.T) {
	n := compileRules(t,
		rule("a", schema.OpEquals, "1", schema.ConnectorAnd),
		rule("b", schema.OpEquals, "2", schema.ConnectorAnd),
	)
	assert.False(t, mustMatch(t, n, map[string]any{"a": 1, "b": 3}))
	assert.True(t, mustMatch(t, n, map[string]any{"a": 1, "b": 2}))
}

func TestEvaluate_OrGroup(t *testing.T) {
	n := compileRules(t,
		rule("a", schema.OpEquals, "1", schema.ConnectorOr),
		rule("b", schema.OpEquals, "2", schema.ConnectorOr),
	)
	assert.True(t, mustMatch(t, n, map[string]any{"a": 1, "b": 0}))
	assert.True(t, mustMatch(t, n, map[string]any{"a": 0, "b": 2}))
	assert.False(t, mustMatch(t, n, map[string]any{"a": 0, "b": 0}))
}

func TestEvaluate_FirstConnectorDominates(t *testing.T) {
	n := compileRules(t,
		rule("a", schema.OpEquals, "1", schema.ConnectorAnd),
		rule("b", schema.OpEquals, "2", schema.ConnectorOr),
		rule("c", schema.OpEquals, "3", schema.ConnectorOr),
	)

	// Later "or" connectors are ignored: every rule must hold.
	assert.False(t, mustMatch(t, n, map[string]any{"a": 1, "b": 0, "c": 3}))
	assert.False(t, mustMatch(t, n, map[string]any{"a": 0, "b": 0, "c": 3}))
	assert.False(t, mustMatch(t, n, map[string]any{"a": 1, "b": 2, "c": 0}))
	assert.True(t, mustMatch(t, n, map[string]any{"a": 1, "b": 2, "c": 3}))
}

func TestEvaluate_AndShortCircuitHidesLaterErrors(t *testing.T) {
	n, err := schema.ParseExpression([]byte(`{"and":[{"===":[{"var":"a"},1]},{"bogus":[1]}]}`))
	require.NoError(t, err)

	out, err := Evaluate(n, map[string]any{"a": 2})
	require.NoError(t, err)
	assert.False(t, out.Matched)

	_, err = Evaluate(n, map[string]any{"a": 1})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeUnknownOperator))
}

func TestEvaluate_OrShortCircuitHidesLaterErrors(t *testing.T) {
	n, err := schema.ParseExpression([]byte(`{"or":[{"===":[{"var":"a"},1]},{"bogus":[1]}]}`))
	require.NoError(t, err)

	out, err := Evaluate(n, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.True(t, out.Matched)

	out, err = Evaluate(n, map[string]any{"a": 2})
	require.Error(t, err)
	assert.False(t, out.Matched)
}

func TestEvaluate_SingleChildGroupMatchesBareNode(t *testing.T) {
	grouped, err := schema.ParseExpression([]byte(`{"or":[{">":[{"var":"n"},1]}]}`))
	require.NoError(t, err)
	bare, err := schema.ParseExpression([]byte(`{">":[{"var":"n"},1]}`))
	require.NoError(t, err)

	for _, v := range []any{0, 1, 2, "5", nil} {
		ctx := map[string]any{"n": v}
		assert.Equal(t, mustMatch(t, bare, ctx), mustMatch(t, grouped, ctx), "n=%v", v)
	}
}

// --- contains / in ---

func TestEvaluate_ContainsInversion(t *testing.T) {
	n := compileRules(t, rule("field", schema.OpContains, "x", schema.ConnectorAnd))

	c := n.(*schema.Compare)
	assert.Equal(t, "x", c.Left.Value, "literal must be the first operand")

	assert.True(t, mustMatch(t, n, map[string]any{"field": "prefix-x-suffix"}))
	assert.True(t, mustMatch(t, n, map[string]any{"field": []any{"x", "y"}}))
	assert.True(t, mustMatch(t, n, map[string]any{"field": []string{"y", "x"}}))
	assert.False(t, mustMatch(t, n, map[string]any{"field": "abc"}))
	assert.False(t, mustMatch(t, n, map[string]any{"field": []any{"y"}}))
	assert.False(t, mustMatch(t, n, map[string]any{"field": 10}))
	assert.False(t, mustMatch(t, n, map[string]any{"field": map[string]any{"x": 1}}))
	assert.False(t, mustMatch(t, n, map[string]any{}))
}

func TestEvaluate_ContainsNumericLiteral(t *testing.T) {
	// "5" is coerced to the number 5 at compile time.
	n := compileRules(t, rule("code", schema.OpContains, "5", schema.ConnectorAnd))

	assert.True(t, mustMatch(t, n, map[string]any{"code": "A5B"}), "number searched as text in a string")
	assert.True(t, mustMatch(t, n, map[string]any{"code": []any{5.0, 6.0}}))
	assert.False(t, mustMatch(t, n, map[string]any{"code": []any{"5"}}), "array search is type-aware")
}

func TestEvaluate_In(t *testing.T) {
	n := compileRules(t, rule("uf", schema.OpIn, `["SP","RJ",3]`, schema.ConnectorAnd))

	assert.True(t, mustMatch(t, n, map[string]any{"uf": "SP"}))
	assert.True(t, mustMatch(t, n, map[string]any{"uf": 3}))
	assert.False(t, mustMatch(t, n, map[string]any{"uf": "MG"}))
	assert.False(t, mustMatch(t, n, map[string]any{"uf": "3"}))
	assert.False(t, mustMatch(t, n, map[string]any{}))
}

// --- Equality and ordering ---

func TestEvaluate_EqualityIsTypeAware(t *testing.T) {
	n, err := schema.ParseExpression([]byte(`{"===":[{"var":"v"},5]}`))
	require.NoError(t, err)

	assert.True(t, mustMatch(t, n, map[string]any{"v": 5}))
	assert.True(t, mustMatch(t, n, map[string]any{"v": int64(5)}))
	assert.True(t, mustMatch(t, n, map[string]any{"v": 5.0}))
	assert.False(t, mustMatch(t, n, map[string]any{"v": "5"}))
	assert.False(t, mustMatch(t, n, map[string]any{"v": true}))
}

func TestEvaluate_NotEquals(t *testing.T) {
	n := compileRules(t, rule("status", schema.OpNotEquals, "blocked", schema.ConnectorAnd))

	assert.True(t, mustMatch(t, n, map[string]any{"status": "active"}))
	assert.False(t, mustMatch(t, n, map[string]any{"status": "blocked"}))
	assert.True(t, mustMatch(t, n, map[string]any{}), "undefined is not equal to the literal")

	native, err := schema.ParseExpression([]byte(`{"!==":[{"var":"status"},"blocked"]}`))
	require.NoError(t, err)
	for _, ctx := range []map[string]any{{"status": "active"}, {"status": "blocked"}, {}} {
		assert.Equal(t, mustMatch(t, n, ctx), mustMatch(t, native, ctx))
	}
}

func TestEvaluate_NullVersusMissing(t *testing.T) {
	n, err := schema.ParseExpression([]byte(`{"===":[{"var":"v"},null]}`))
	require.NoError(t, err)

	assert.True(t, mustMatch(t, n, map[string]any{"v": nil}))
	assert.False(t, mustMatch(t, n, map[string]any{}))
}

func TestEvaluate_StructuralEquality(t *testing.T) {
	n, err := schema.ParseExpression([]byte(`{"===":[{"var":"tags"},["a","b"]]}`))
	require.NoError(t, err)

	assert.True(t, mustMatch(t, n, map[string]any{"tags": []string{"a", "b"}}))
	assert.False(t, mustMatch(t, n, map[string]any{"tags": []string{"b", "a"}}))
}

func TestEvaluate_NumericCoercion(t *testing.T) {
	n := compileRules(t, rule("age", schema.OpGreaterThan, "18", schema.ConnectorAnd))
	c := n.(*schema.Compare)
	assert.Equal(t, 18.0, c.Right.Value)

	assert.True(t, mustMatch(t, n, map[string]any{"age": 20}))
	assert.False(t, mustMatch(t, n, map[string]any{"age": 18}))
	// Ordering coerces a numeric string on the context side.
	assert.True(t, mustMatch(t, n, map[string]any{"age": "20"}))
	assert.True(t, mustMatch(t, n, map[string]any{"age": " 20 "}))
	assert.False(t, mustMatch(t, n, map[string]any{"age": "twenty"}))
	assert.False(t, mustMatch(t, n, map[string]any{"age": true}))
	assert.False(t, mustMatch(t, n, map[string]any{"age": nil}))
	assert.False(t, mustMatch(t, n, map[string]any{}))
}

func TestEvaluate_OrderingOperators(t *testing.T) {
	tests := []struct {
		doc  string
		v    any
		want bool
	}{
		{`{">":[{"var":"v"},1]}`, 2, true},
		{`{">":[{"var":"v"},1]}`, 1, false},
		{`{">=":[{"var":"v"},1]}`, 1, true},
		{`{"<":[{"var":"v"},1]}`, 0.5, true},
		{`{"<=":[{"var":"v"},1]}`, 1, true},
		{`{"<=":[{"var":"v"},1]}`, 1.01, false},
		{`{">":[{"var":"v"},"abc"]}`, 5, false},
	}
	for _, tt := range tests {
		n, err := schema.ParseExpression([]byte(tt.doc))
		require.NoError(t, err)
		assert.Equal(t, tt.want, mustMatch(t, n, map[string]any{"v": tt.v}), "%s with v=%v", tt.doc, tt.v)
	}
}

// --- Missing fields and paths ---

func TestEvaluate_MissingFieldIsNonFatal(t *testing.T) {
	n := compileRules(t, rule("profile.missingKey", schema.OpEquals, "x", schema.ConnectorAnd))

	for _, ctx := range []map[string]any{nil, {}, {"profile": map[string]any{}}, {"profile": "str"}} {
		out, err := Evaluate(n, ctx)
		require.NoError(t, err)
		assert.False(t, out.Matched)
	}
}

func TestEvaluate_VarDefault(t *testing.T) {
	n, err := schema.ParseExpression([]byte(`{"===":[{"var":["profile.kind","pf"]},"pf"]}`))
	require.NoError(t, err)

	assert.True(t, mustMatch(t, n, map[string]any{}))
	assert.False(t, mustMatch(t, n, map[string]any{"profile": map[string]any{"kind": "pj"}}))
}

func TestEvaluate_NestedPaths(t *testing.T) {
	ctx := jsonContext(t, `{
		"candidate": {"age": 30, "docs": [{"type": "rg", "ok": true}, {"type": "cpf", "ok": false}]},
		"submission": {"status": "pending"}
	}`)

	tests := []struct {
		doc  string
		want bool
	}{
		{`{"===":[{"var":"candidate.docs.0.type"},"rg"]}`, true},
		{`{"===":[{"var":"candidate.docs[1].type"},"cpf"]}`, true},
		{`{"===":[{"var":"candidate.docs.1.ok"},false]}`, true},
		{`{"===":[{"var":"candidate.docs.5.type"},"rg"]}`, false},
		{`{">=":[{"var":"candidate.age"},18]}`, true},
		{`{"in":["pend",{"var":"submission.status"}]}`, true},
		{`{"===":[{"var":"submission.status.length"},7]}`, false},
	}
	for _, tt := range tests {
		n, err := schema.ParseExpression([]byte(tt.doc))
		require.NoError(t, err)
		assert.Equal(t, tt.want, mustMatch(t, n, ctx), tt.doc)
	}
}

func TestResolve(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{"b": []any{map[string]any{"c": 1}}},
		"m": map[string]int{"x": 2},
		"n": nil,
	}

	v, ok := Resolve(data, "a.b.0.c")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	v, ok = Resolve(data, "a.b[0].c")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	v, ok = Resolve(data, "m.x")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	v, ok = Resolve(data, "n")
	require.True(t, ok)
	assert.Nil(t, v)

	_, ok = Resolve(data, "n.deeper")
	assert.False(t, ok)
	_, ok = Resolve(data, "a.b.-1")
	assert.False(t, ok)
	_, ok = Resolve(data, "a.b.x")
	assert.False(t, ok)

	whole, ok := Resolve(data, "")
	require.True(t, ok)
	assert.Equal(t, data, whole)
}

// --- Errors ---

func TestEvaluate_UnknownOperator(t *testing.T) {
	n, err := schema.ParseExpression([]byte(`{"xor":[true,false]}`))
	require.NoError(t, err)

	out, err := Evaluate(n, nil)
	require.Error(t, err)
	assert.False(t, out.Matched)

	ce, ok := err.(*schema.CondError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeUnknownOperator, ce.Code)
	assert.Equal(t, "xor", ce.Details["operator"])
}

func TestEvaluate_NegationPropagatesErrors(t *testing.T) {
	n, err := schema.ParseExpression([]byte(`{"!":[{"between":[1,2]}]}`))
	require.NoError(t, err)

	_, err = Evaluate(n, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeUnknownOperator))
}

func TestEvaluate_UnknownOperandOperation(t *testing.T) {
	n, err := schema.ParseExpression([]byte(`{">":[{"+":[{"var":"a"},1]},2]}`))
	require.NoError(t, err)

	_, err = Evaluate(n, map[string]any{"a": 5})
	assert.True(t, schema.IsCode(err, schema.ErrCodeUnknownOperator))
}

func TestEvaluate_Malformed(t *testing.T) {
	for _, doc := range []string{`{"and":[]}`, `"yes"`, `{"===":[1]}`} {
		n, err := schema.ParseExpression([]byte(doc))
		require.NoError(t, err)
		_, err = Evaluate(n, nil)
		assert.True(t, schema.IsCode(err, schema.ErrCodeMalformedExpression), doc)
	}

	_, err := Evaluate(nil, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeMalformedExpression))

	_, err = Evaluate(&schema.Group{Kind: schema.GroupAnd}, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeMalformedExpression))
}

func TestEvaluate_Const(t *testing.T) {
	assert.True(t, mustMatch(t, &schema.Const{Value: true}, nil))
	assert.False(t, mustMatch(t, &schema.Const{Value: false}, nil))
}

// --- Trace, purity, concurrency ---

func TestEvaluateTrace_SkipsShortCircuited(t *testing.T) {
	n := compileRules(t,
		rule("a", schema.OpEquals, "1", schema.ConnectorAnd),
		rule("b", schema.OpEquals, "2", schema.ConnectorAnd),
	)

	out, trace, err := EvaluateTrace(n, map[string]any{"a": 0})
	require.NoError(t, err)
	assert.False(t, out.Matched)
	require.Len(t, trace, 1)
	assert.Equal(t, schema.CmpEqual, trace[0].Op)
	assert.Equal(t, 0.0, trace[0].Left)
	assert.Equal(t, 1.0, trace[0].Right)
	assert.False(t, trace[0].Result)

	_, trace, err = EvaluateTrace(n, map[string]any{"a": 1})
	require.NoError(t, err)
	require.Len(t, trace, 2)
	assert.Nil(t, trace[1].Left, "missing field traced as null")
}

func TestEvaluate_DoesNotMutateContext(t *testing.T) {
	ctx := map[string]any{
		"tags":  []any{"x", 1},
		"typed": []int{1, 2},
		"inner": map[string]any{"n": 3},
	}
	before, err := json.Marshal(ctx)
	require.NoError(t, err)

	n, err := schema.ParseExpression([]byte(`{"and":[{"in":[1,{"var":"typed"}]},{"in":["x",{"var":"tags"}]},{">":[{"var":"inner.n"},2]}]}`))
	require.NoError(t, err)
	assert.True(t, mustMatch(t, n, ctx))

	after, err := json.Marshal(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
	assert.IsType(t, []int{}, ctx["typed"])
}

func TestNormalize_DoesNotMutate(t *testing.T) {
	inner := &schema.Compare{Op: schema.CmpEqual, Left: schema.VarOperand("a"), Right: schema.LiteralOperand(1.0)}
	g := &schema.Group{Kind: schema.GroupAnd, Children: []schema.Node{
		&schema.Group{Kind: schema.GroupOr, Children: []schema.Node{inner}},
		inner,
	}}

	out := Normalize(g).(*schema.Group)
	assert.Same(t, inner, out.Children[0])
	_, stillGroup := g.Children[0].(*schema.Group)
	assert.True(t, stillGroup)
}

func TestEvaluate_ConcurrentUse(t *testing.T) {
	n := compileRules(t,
		rule("a", schema.OpGreaterThan, "10", schema.ConnectorOr),
		rule("b", schema.OpContains, "ok", schema.ConnectorOr),
	)
	ctx := map[string]any{"a": 5, "b": "all ok"}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := Evaluate(n, ctx)
			assert.NoError(t, err)
			assert.True(t, out.Matched)
		}()
	}
	wg.Wait()
}
