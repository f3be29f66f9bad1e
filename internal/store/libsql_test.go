package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/credlogic/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func visualNode(workflowID string) *ConditionNode {
	return &ConditionNode{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Name:       "approved?",
		Config: schema.NewVisualConfig([]schema.VisualRule{
			{ID: "r1", Field: "status", Operator: schema.OpEquals, Value: "active", Connector: schema.ConnectorAnd},
		}),
		Compiled: json.RawMessage(`{"===":[{"var":"status"},"active"]}`),
	}
}

func seedNode(t *testing.T, s *LibSQLStore, workflowID string) *ConditionNode {
	t.Helper()
	n := visualNode(workflowID)
	require.NoError(t, s.SaveNode(context.Background(), n))
	return n
}

// --- Condition node tests ---

func TestSaveAndGetNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := visualNode("wf-1")
	n.ContextMap = map[string]string{"status": ".submission.status"}
	n.ContextSchema = json.RawMessage(`{"type":"object"}`)
	n.ErrorPolicy = schema.PolicyFail
	require.NoError(t, s.SaveNode(ctx, n))

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, "approved?", got.Name)
	assert.Equal(t, schema.ModeVisual, got.Config.Mode())
	assert.Equal(t, n.Config.Rules(), got.Config.Rules())
	assert.JSONEq(t, `{"===":[{"var":"status"},"active"]}`, string(got.Compiled))
	assert.Equal(t, schema.ConditionSchemaVersion, got.SchemaVersion)
	assert.Equal(t, map[string]string{"status": ".submission.status"}, got.ContextMap)
	assert.JSONEq(t, `{"type":"object"}`, string(got.ContextSchema))
	assert.Equal(t, schema.PolicyFail, got.ErrorPolicy)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSaveNode_ExpertMode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &ConditionNode{
		ID:         uuid.New().String(),
		WorkflowID: "wf-1",
		Config:     schema.NewExpertConfig(`{">=": [{"var": "score"}, 7]}`),
		Compiled:   json.RawMessage(`{">=":[{"var":"score"},7]}`),
	}
	require.NoError(t, s.SaveNode(ctx, n))

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ModeExpert, got.Config.Mode())
	assert.Equal(t, `{">=": [{"var": "score"}, 7]}`, got.Config.Expression())
	assert.Equal(t, schema.PolicyNegative, got.ErrorPolicy, "empty policy stored as default")
	assert.Nil(t, got.ContextMap)
	assert.Nil(t, got.ContextSchema)
}

func TestSaveNode_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := seedNode(t, s, "wf-1")
	first, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)

	n.Config = schema.NewExpertConfig("true")
	n.Compiled = json.RawMessage(`true`)
	n.CreatedAt = time.Time{}
	require.NoError(t, s.SaveNode(ctx, n))

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ModeExpert, got.Config.Mode())
	assert.Equal(t, `true`, string(got.Compiled))
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt), "created_at preserved on update")

	list, err := s.ListNodes(ctx, NodeFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSaveNode_Invalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SaveNode(ctx, &ConditionNode{ID: "x"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	n := visualNode("wf-1")
	n.Compiled = nil
	err = s.SaveNode(ctx, n)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestGetNode_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetNode(context.Background(), "nonexistent")
	require.Error(t, err)
	ce, ok := err.(*schema.CondError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, ce.Code)
}

func TestListNodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedNode(t, s, "wf-1")
	seedNode(t, s, "wf-1")
	seedNode(t, s, "wf-2")
	require.NoError(t, s.SaveNode(ctx, &ConditionNode{
		ID: uuid.New().String(), WorkflowID: "wf-2",
		Config: schema.NewExpertConfig("true"), Compiled: json.RawMessage("true"),
	}))

	all, err := s.ListNodes(ctx, NodeFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	wf1, err := s.ListNodes(ctx, NodeFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	assert.Len(t, wf1, 2)

	expert, err := s.ListNodes(ctx, NodeFilter{Mode: schema.ModeExpert})
	require.NoError(t, err)
	require.Len(t, expert, 1)
	assert.Equal(t, "wf-2", expert[0].WorkflowID)

	page, err := s.ListNodes(ctx, NodeFilter{Limit: 3, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestDeleteNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := seedNode(t, s, "wf-1")
	require.NoError(t, s.AppendEvaluation(ctx, &Evaluation{NodeID: n.ID, Matched: true}))

	require.NoError(t, s.DeleteNode(ctx, n.ID))
	_, err := s.GetNode(ctx, n.ID)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	evals, err := s.ListEvaluations(ctx, EvaluationFilter{NodeID: n.ID})
	require.NoError(t, err)
	assert.Empty(t, evals, "evaluations cascade with the node")

	err = s.DeleteNode(ctx, n.ID)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

// --- Migration tests ---

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestLoadMigrations(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, 1, ms[0].Version)
	assert.Equal(t, "initial_schema", ms[0].Name)
	for i := 1; i < len(ms); i++ {
		assert.Greater(t, ms[i].Version, ms[i-1].Version)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(`
-- leading comment; with a semicolon
CREATE TABLE a (id TEXT); -- trailing
-- only a comment
CREATE INDEX i ON a (id);
`)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (id TEXT)", stmts[0])
	assert.Equal(t, "CREATE INDEX i ON a (id)", stmts[1])
}

func TestVacuum(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Vacuum(context.Background()))
}

func TestConcurrentSaveNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.SaveNode(ctx, visualNode("wf-c")))
		}()
	}
	wg.Wait()

	list, err := s.ListNodes(ctx, NodeFilter{WorkflowID: "wf-c"})
	require.NoError(t, err)
	assert.Len(t, list, 10)
}
