// Package decision evaluates a stored condition node at a workflow's decision
// point and records the outcome.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/credlogic/internal/evaluator"
	"github.com/rendis/credlogic/internal/expressions"
	"github.com/rendis/credlogic/internal/logging"
	"github.com/rendis/credlogic/internal/store"
	"github.com/rendis/credlogic/internal/validation"
	"github.com/rendis/credlogic/pkg/schema"
)

// Deps holds the collaborators of a Decider.
type Deps struct {
	Store     store.Store
	Validator *validation.ConditionValidator
	Engines   *expressions.Registry
	Logger    *slog.Logger
}

// Decider saves condition nodes behind the validation gate and takes decisions
// with them.
type Decider struct {
	store     store.Store
	validator *validation.ConditionValidator
	jq        *expressions.GoJQEngine
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Decider. Store, Validator and Engines are required.
func New(deps Deps) (*Decider, error) {
	if deps.Store == nil || deps.Validator == nil || deps.Engines == nil {
		return nil, errors.New("decision: store, validator and engines are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Decider{
		store:     deps.Store,
		validator: deps.Validator,
		jq:        deps.Engines.JQ(),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Request asks for a decision at one node.
type Request struct {
	NodeID string         `json:"node_id"`
	RunID  string         `json:"run_id,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	// DryRun evaluates without appending to the evaluation log.
	DryRun bool `json:"dry_run,omitempty"`
}

// Decision is the outcome of Decide.
type Decision struct {
	NodeID       string            `json:"node_id"`
	RunID        string            `json:"run_id,omitempty"`
	Matched      bool              `json:"matched"`
	Branch       schema.Branch     `json:"branch"`
	Error        *schema.CondError `json:"error,omitempty"`
	EvaluationID string            `json:"evaluation_id,omitempty"`
	Sequence     int64             `json:"sequence,omitempty"`
	DurationUs   int64             `json:"duration_us"`
}

// Save validates, compiles and persists a node. Warnings are returned with a
// nil error; any validation error rejects the node. A missing ID is generated.
func (d *Decider) Save(ctx context.Context, node *store.ConditionNode) (*schema.ValidationResult, error) {
	if node == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "condition node is required")
	}
	result, checked := d.validator.CheckConfig(node.Config)
	if !result.Valid() {
		return result, result.ToError()
	}

	if !node.ErrorPolicy.Valid() {
		result.AddError("/error_policy", schema.ErrCodeValidation, "unknown error policy "+string(node.ErrorPolicy))
	}
	for field, expr := range node.ContextMap {
		if err := d.jq.Compile(expr); err != nil {
			result.AddError("/context_map/"+field, schema.ErrCodeContext, err.Error())
		}
	}
	if len(node.ContextSchema) > 0 {
		if err := d.validator.CompileSchema(node.ContextSchema); err != nil {
			result.AddError("/context_schema", schema.ErrCodeValidation, err.Error())
		}
	}
	if !result.Valid() {
		return result, result.ToError()
	}

	compiled, err := schema.MarshalExpression(checked.Expression)
	if err != nil {
		return result, err
	}
	if node.ID == "" {
		node.ID = uuid.New().String()
	}
	node.Config = checked.Config
	node.Compiled = compiled
	node.SchemaVersion = schema.ConditionSchemaVersion

	if err := d.store.SaveNode(ctx, node); err != nil {
		return result, err
	}

	log := logging.LogWith(logging.WithIDs(ctx, node.WorkflowID, node.ID, ""), d.logger)
	log.Info("condition saved",
		slog.String("event", schema.EventConditionSaved),
		slog.String("mode", string(node.Config.Mode())),
		slog.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

// Decide loads the node, assembles the execution context, evaluates the
// compiled tree and picks the outgoing edge.
//
// When any step after loading fails, the node's error policy applies: with
// PolicyFail the error is returned; otherwise the failure is logged and the
// "no" edge is taken, with the error attached to the Decision. Either way the
// attempt is recorded unless the request is a dry run.
func (d *Decider) Decide(ctx context.Context, req Request) (*Decision, error) {
	node, err := d.store.GetNode(ctx, req.NodeID)
	if err != nil {
		return nil, err
	}
	log := logging.LogWith(logging.WithIDs(ctx, node.WorkflowID, node.ID, req.RunID), d.logger)

	start := d.now()
	evalCtx, matched, evalErr := d.evaluate(ctx, node, req.Data)
	elapsed := d.now().Sub(start).Microseconds()

	dec := &Decision{
		NodeID:     node.ID,
		RunID:      req.RunID,
		Matched:    matched,
		Branch:     schema.BranchFor(matched),
		DurationUs: elapsed,
	}

	var condErr *schema.CondError
	if evalErr != nil {
		condErr = asCondError(evalErr).WithNode(node.ID)
		dec.Matched = false
		dec.Branch = schema.BranchNo
	}

	if !req.DryRun {
		rec := &store.Evaluation{
			NodeID:     node.ID,
			RunID:      req.RunID,
			Matched:    dec.Matched,
			Branch:     dec.Branch,
			Context:    contextJSON(evalCtx),
			DurationUs: elapsed,
		}
		if condErr != nil {
			rec.ErrorCode = condErr.Code
			rec.Error = condErr.Message
		}
		if err := d.store.AppendEvaluation(ctx, rec); err != nil {
			return nil, err
		}
		dec.EvaluationID = rec.ID
		dec.Sequence = rec.Sequence
	}

	if condErr != nil {
		log.Warn("condition evaluation failed",
			slog.String("event", schema.EventConditionFailed),
			slog.String("code", condErr.Code),
			slog.String("error", condErr.Message),
			slog.String("policy", string(policyOf(node))),
		)
		if policyOf(node) == schema.PolicyFail {
			return nil, condErr
		}
		dec.Error = condErr
		return dec, nil
	}

	log.Info("condition evaluated",
		slog.String("event", schema.EventConditionEvaluated),
		slog.String("branch", string(dec.Branch)),
		slog.Int64("duration_us", elapsed),
	)
	return dec, nil
}

// evaluate builds the context and runs the compiled tree. The context is
// returned even on failure so it can be recorded.
func (d *Decider) evaluate(ctx context.Context, node *store.ConditionNode, data map[string]any) (map[string]any, bool, error) {
	evalCtx := data
	if len(node.ContextMap) > 0 {
		mapped, err := d.jq.MapContext(ctx, node.ContextMap, data)
		if err != nil {
			return data, false, err
		}
		evalCtx = mapped
	}
	if evalCtx == nil {
		evalCtx = map[string]any{}
	}

	if len(node.ContextSchema) > 0 {
		if err := d.validator.ValidateContext(evalCtx, node.ContextSchema); err != nil {
			return evalCtx, false, err
		}
	}

	tree, err := schema.ParseExpression(node.Compiled)
	if err != nil {
		return evalCtx, false, err
	}
	out, err := evaluator.Evaluate(tree, evalCtx)
	if err != nil {
		return evalCtx, false, err
	}
	return evalCtx, out.Matched, nil
}

func policyOf(node *store.ConditionNode) schema.ErrorPolicy {
	if node.ErrorPolicy == "" {
		return schema.PolicyNegative
	}
	return node.ErrorPolicy
}

func asCondError(err error) *schema.CondError {
	var ce *schema.CondError
	if errors.As(err, &ce) {
		return ce
	}
	return schema.NewError(schema.ErrCodeExpression, err.Error()).WithCause(err)
}

func contextJSON(data map[string]any) json.RawMessage {
	if data == nil {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return b
}
