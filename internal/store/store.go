package store

import (
	"context"
	"time"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Condition nodes
	SaveNode(ctx context.Context, node *ConditionNode) error
	GetNode(ctx context.Context, id string) (*ConditionNode, error)
	ListNodes(ctx context.Context, filter NodeFilter) ([]*ConditionNode, error)
	DeleteNode(ctx context.Context, id string) error

	// Evaluation audit log (append-only)
	AppendEvaluation(ctx context.Context, eval *Evaluation) error
	ListEvaluations(ctx context.Context, filter EvaluationFilter) ([]*Evaluation, error)
	NodeStats(ctx context.Context, nodeID string) (*NodeStats, error)
	PruneEvaluations(ctx context.Context, before time.Time) (int64, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
