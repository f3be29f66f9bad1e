package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/credlogic/internal/compiler"
	"github.com/rendis/credlogic/internal/decision"
	"github.com/rendis/credlogic/internal/diagram"
	"github.com/rendis/credlogic/internal/evaluator"
	"github.com/rendis/credlogic/internal/expressions"
	"github.com/rendis/credlogic/internal/store"
	"github.com/rendis/credlogic/pkg/schema"
)

// handleCompile compiles a condition document to canonical form.
func (s *Server) handleCompile(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg, err := configArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	compiled, err := compiler.CompileJSON(cfg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("compile failed: %v", err)), nil
	}
	return marshalResult(map[string]any{
		"mode":       cfg.Mode(),
		"expression": compiled,
	})
}

// handleValidate runs the validation pipeline. An invalid document is a
// successful call whose result lists the errors.
func (s *Server) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := objectArg(req, "config")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if raw == nil {
		return mcp.NewToolResultError("config is required"), nil
	}
	result := s.validator.Validate(raw)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleEvaluate decides an expression against a context.
func (s *Server) handleEvaluate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	node, err := expressionArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data := mcp.ParseStringMap(req, "context", nil)

	if req.GetBool("trace", false) {
		out, trace, evalErr := evaluator.EvaluateTrace(node, data)
		if evalErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("evaluation failed: %v", evalErr)), nil
		}
		return marshalResult(map[string]any{
			"matched": out.Matched,
			"branch":  schema.BranchFor(out.Matched),
			"trace":   trace,
		})
	}

	out, err := evaluator.Evaluate(node, data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("evaluation failed: %v", err)), nil
	}
	return marshalResult(map[string]any{
		"matched": out.Matched,
		"branch":  schema.BranchFor(out.Matched),
	})
}

// handleRender previews an expression in another notation.
func (s *Server) handleRender(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if !expressions.Format(format).Valid() && !diagram.Format(format).Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("format must be one of %v or %v", expressions.Formats, diagram.Formats)), nil
	}
	node, err := expressionArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data := mcp.ParseStringMap(req, "context", nil)

	if diagram.Format(format).Valid() {
		model, err := diagram.Build(req.GetString("title", ""), node, data)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
		}
		text, err := diagram.Render(ctx, model, diagram.Format(format))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("diagram render failed: %v", err)), nil
		}
		return mcp.NewToolResultText(text), nil
	}

	preview, err := s.engines.Preview(ctx, node, expressions.Format(format), data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("render failed: %v", err)), nil
	}
	return marshalResult(preview)
}

// handleSave persists a condition node behind the validation gate.
func (s *Server) handleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.decider == nil {
		return mcp.NewToolResultError("no store configured"), nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	cfg, err := configArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	contextMap, err := stringMapArg(req, "context_map")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	contextSchema, err := objectArg(req, "context_schema")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	node := &store.ConditionNode{
		ID:            req.GetString("node_id", ""),
		WorkflowID:    workflowID,
		Name:          req.GetString("name", ""),
		Config:        cfg,
		ContextMap:    contextMap,
		ContextSchema: contextSchema,
		ErrorPolicy:   schema.ErrorPolicy(req.GetString("error_policy", "")),
	}

	result, saveErr := s.decider.Save(ctx, node)
	if saveErr != nil {
		return mcp.NewToolResultError(rejection(saveErr, result)), nil
	}
	return marshalResult(map[string]any{
		"node_id":        node.ID,
		"workflow_id":    node.WorkflowID,
		"schema_version": node.SchemaVersion,
		"compiled":       node.Compiled,
		"warnings":       result.Warnings,
	})
}

// handleDecide takes a decision at a saved node.
func (s *Server) handleDecide(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.decider == nil {
		return mcp.NewToolResultError("no store configured"), nil
	}
	nodeID, err := req.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError("node_id is required"), nil
	}

	dec, decErr := s.decider.Decide(ctx, decision.Request{
		NodeID: nodeID,
		RunID:  req.GetString("run_id", ""),
		Data:   mcp.ParseStringMap(req, "data", nil),
		DryRun: req.GetBool("dry_run", false),
	})
	if decErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("decision failed: %v", decErr)), nil
	}
	return marshalResult(dec)
}

// handleQuery lists nodes, evaluations or statistics based on filters.
func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("no store configured"), nil
	}
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "node":
		return s.queryNode(ctx, filter)
	case "nodes":
		return s.queryNodes(ctx, filter)
	case "evaluations":
		return s.queryEvaluations(ctx, filter)
	case "stats":
		return s.queryStats(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *Server) queryNode(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	nodeID, _ := filter["node_id"].(string)
	if nodeID == "" {
		return mcp.NewToolResultError("node query requires 'node_id' in filter"), nil
	}
	node, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(node)
}

func (s *Server) queryNodes(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	nf := store.NodeFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	if wfID, ok := filter["workflow_id"].(string); ok {
		nf.WorkflowID = wfID
	}
	if mode, ok := filter["mode"].(string); ok {
		nf.Mode = schema.ConditionMode(mode)
	}

	nodes, err := s.store.ListNodes(ctx, nf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"nodes": nodes})
}

func (s *Server) queryEvaluations(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.EvaluationFilter{
		Limit:      extractInt(filter, "limit", 100),
		OnlyErrors: extractBool(filter, "only_errors"),
	}
	if nodeID, ok := filter["node_id"].(string); ok {
		ef.NodeID = nodeID
	}
	if runID, ok := filter["run_id"].(string); ok {
		ef.RunID = runID
	}
	if branch, ok := filter["branch"].(string); ok {
		ef.Branch = schema.Branch(branch)
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			ef.Since = &t
		}
	}

	evals, err := s.store.ListEvaluations(ctx, ef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"evaluations": evals})
}

func (s *Server) queryStats(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	nodeID, _ := filter["node_id"].(string)
	if nodeID == "" {
		return mcp.NewToolResultError("stats query requires 'node_id' in filter"), nil
	}
	stats, err := s.store.NodeStats(ctx, nodeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(stats)
}

// --- Argument helpers ---

// objectArg returns the JSON encoding of an object argument, or nil when absent.
func objectArg(req mcp.CallToolRequest, key string) (json.RawMessage, error) {
	m := mcp.ParseStringMap(req, key, nil)
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %v", key, err)
	}
	return raw, nil
}

func configArg(req mcp.CallToolRequest) (schema.ConditionConfig, error) {
	raw, err := objectArg(req, "config")
	if err != nil {
		return schema.ConditionConfig{}, err
	}
	if raw == nil {
		return schema.ConditionConfig{}, errors.New("config is required")
	}
	var cfg schema.ConditionConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return schema.ConditionConfig{}, fmt.Errorf("invalid config: %v", err)
	}
	return cfg, nil
}

// expressionArg reads a canonical tree from "expression", or compiles one
// from "config" when no expression is given.
func expressionArg(req mcp.CallToolRequest) (schema.Node, error) {
	raw, err := objectArg(req, "expression")
	if err != nil {
		return nil, err
	}
	if raw != nil {
		return schema.ParseExpression(raw)
	}
	if mcp.ParseStringMap(req, "config", nil) == nil {
		return nil, errors.New("one of expression or config is required")
	}
	cfg, err := configArg(req)
	if err != nil {
		return nil, err
	}
	node, err := compiler.Compile(cfg)
	if err != nil {
		return nil, fmt.Errorf("compile failed: %v", err)
	}
	return node, nil
}

func stringMapArg(req mcp.CallToolRequest, key string) (map[string]string, error) {
	m := mcp.ParseStringMap(req, key, nil)
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s.%s must be a string", key, k)
		}
		out[k] = str
	}
	return out, nil
}

// rejection formats a failed save with every validation issue on its own line.
func rejection(err error, result *schema.ValidationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "condition rejected: %v", err)
	if result == nil {
		return b.String()
	}
	for _, issue := range result.Errors {
		fmt.Fprintf(&b, "\n  %s [%s] %s", issue.Path, issue.Code, issue.Message)
	}
	return b.String()
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func extractBool(filter map[string]any, key string) bool {
	switch v := filter[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
