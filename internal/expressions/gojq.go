package expressions

import (
	"context"
	"sort"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/credlogic/pkg/schema"
)

// GoJQEngine implements the Engine interface using GoJQ. Condition nodes use it
// to reshape raw run data into the execution context they are evaluated
// against.
// Thread-safe: compiled *Code objects are cached and reused across goroutines.
type GoJQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewGoJQEngine creates a new GoJQ expression engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{
		cache: make(map[string]*gojq.Code),
	}
}

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string {
	return "jq"
}

// Evaluate runs a jq expression over data. A single output is returned as is,
// several outputs as []any, and no output as nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	results, err := e.EvaluateAll(ctx, expression, data)
	if err != nil {
		return nil, err
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// EvaluateAll is like Evaluate but always returns every output.
func (e *GoJQEngine) EvaluateAll(ctx context.Context, expression string, data map[string]any) ([]any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	var input any = map[string]any{}
	if data != nil {
		input = normalizeForJQ(data)
	}

	iter := code.RunWithContext(ctx, input)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}

	return results, nil
}

// Compile checks that expression parses and compiles, caching the result.
func (e *GoJQEngine) Compile(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

// MapContext builds an execution context from raw run data: each key of
// mappings becomes a context field holding the result of its jq expression.
// Keys are evaluated in sorted order so the first failure is deterministic.
//
// A mapping that produces no output leaves its key out of the context, so the
// field is undefined and {"var": [path, default]} falls back to its default.
// A null output is kept as a present null; end the mapping with "// empty" to
// treat null as missing.
func (e *GoJQEngine) MapContext(ctx context.Context, mappings map[string]string, data map[string]any) (map[string]any, error) {
	keys := make([]string, 0, len(mappings))
	for k := range mappings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(mappings))
	for _, key := range keys {
		results, err := e.EvaluateAll(ctx, mappings[key], data)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeContext, "context mapping %q: %s", key, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"field": key, "expression": mappings[key]})
		}
		switch len(results) {
		case 0:
		case 1:
			out[key] = results[0]
		default:
			out[key] = results
		}
	}
	return out, nil
}

// getOrCompile returns a cached compiled code or compiles and caches a new one.
func (e *GoJQEngine) getOrCompile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = code
	return code, nil
}

// normalizeForJQ converts Go native types to the value model gojq accepts:
// float64 numbers, []any and map[string]any.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeForJQ(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeForJQ(v)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = v
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = v
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ Engine = (*GoJQEngine)(nil)
