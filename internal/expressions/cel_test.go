package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/credlogic/pkg/schema"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.NotNil(t, e)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_Literals(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "true", nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), "1 + 2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)
}

func TestCEL_ContextAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"status": "active",
		"score":  8.0,
		"tags":   []any{"pcd", "cotista"},
		"profile": map[string]any{
			"kind": "pf",
		},
	}

	tests := []struct {
		expression string
		want       bool
	}{
		{`ctx.status == "active"`, true},
		{`ctx.status == "inactive"`, false},
		{`ctx.score >= 7.0`, true},
		{`ctx.score < 7.5`, false},
		{`"pcd" in ctx.tags`, true},
		{`ctx.profile.kind == "pf" && !(ctx.status == "blocked")`, true},
		{`has(ctx.missing) ? ctx.missing == 1.0 : false`, false},
	}
	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.expression, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestCEL_Errors(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), "ctx.a ==", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), "undeclared == 1", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), `ctx.missing == "x"`, map[string]any{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeExpression))
}

func TestCEL_CachesPrograms(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := e.Evaluate(context.Background(), `ctx.n > 1.0`, map[string]any{"n": 2.0})
		require.NoError(t, err)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}

func TestCEL_ConcurrentEvaluate(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n float64) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), `ctx.n >= 10.0`, map[string]any{"n": n})
			assert.NoError(t, err)
			assert.Equal(t, n >= 10, out)
		}(float64(i))
	}
	wg.Wait()
}
