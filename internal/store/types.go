package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/credlogic/pkg/schema"
)

// ConditionNode is the persisted configuration of one conditional-expression
// node in a workflow. Compiled holds the canonical tree produced at save time;
// it is what the decision step evaluates.
type ConditionNode struct {
	ID            string                 `json:"id"`
	WorkflowID    string                 `json:"workflow_id"`
	Name          string                 `json:"name,omitempty"`
	Config        schema.ConditionConfig `json:"config"`
	Compiled      json.RawMessage        `json:"compiled"`
	SchemaVersion int                    `json:"schema_version"`
	ContextMap    map[string]string      `json:"context_map,omitempty"`
	ContextSchema json.RawMessage        `json:"context_schema,omitempty"`
	ErrorPolicy   schema.ErrorPolicy     `json:"error_policy,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Evaluation is an immutable record of one decision taken by a node.
// Sequence increases by one per node, starting at 1.
type Evaluation struct {
	ID         string          `json:"id"`
	NodeID     string          `json:"node_id"`
	RunID      string          `json:"run_id,omitempty"`
	Sequence   int64           `json:"sequence"`
	Matched    bool            `json:"matched"`
	Branch     schema.Branch   `json:"branch"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Error      string          `json:"error,omitempty"`
	Context    json.RawMessage `json:"context,omitempty"`
	DurationUs int64           `json:"duration_us"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NodeStats aggregates the evaluation log of one node.
type NodeStats struct {
	NodeID      string     `json:"node_id"`
	Total       int64      `json:"total"`
	Yes         int64      `json:"yes"`
	No          int64      `json:"no"`
	Errors      int64      `json:"errors"`
	LastAt      *time.Time `json:"last_at,omitempty"`
	AvgDuration float64    `json:"avg_duration_us"`
}

// NodeFilter controls which nodes are returned by ListNodes.
type NodeFilter struct {
	WorkflowID string
	Mode       schema.ConditionMode
	Limit      int
	Offset     int
}

// EvaluationFilter controls which evaluations are returned by ListEvaluations.
type EvaluationFilter struct {
	NodeID     string
	RunID      string
	Branch     schema.Branch
	OnlyErrors bool
	Since      *time.Time
	Limit      int
}
