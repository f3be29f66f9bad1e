package expressions

import (
	"context"
	"sort"

	"github.com/rendis/credlogic/pkg/schema"
)

// Engine evaluates expressions written in a secondary language.
// Three implementations: CEL and Expr (rendered condition previews), GoJQ
// (context mappings).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Registry holds one instance of every engine, keyed by name.
// Safe for concurrent use; engines cache their compiled programs.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry creates a registry with the CEL, Expr and jq engines.
func NewRegistry() (*Registry, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	r := &Registry{engines: make(map[string]Engine, 3)}
	for _, e := range []Engine{celEngine, NewExprEngine(), NewGoJQEngine()} {
		r.engines[e.Name()] = e
	}
	return r, nil
}

// Get returns the engine registered under name.
func (r *Registry) Get(name string) (Engine, error) {
	e, ok := r.engines[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression engine %q", name).
			WithDetails(map[string]any{"available": r.Names()})
	}
	return e, nil
}

// Names lists the registered engines in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JQ returns the jq engine.
func (r *Registry) JQ() *GoJQEngine {
	return r.engines["jq"].(*GoJQEngine)
}
