package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/credlogic/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/credlogic.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// SchemaVersion returns the highest applied migration version.
func (s *LibSQLStore) SchemaVersion(ctx context.Context) (int, error) {
	return currentVersion(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Condition nodes ---

const nodeColumns = `id, workflow_id, name, config, compiled, schema_version, context_map, context_schema, error_policy, created_at, updated_at`

// SaveNode inserts a node or replaces the configuration of an existing one.
// CreatedAt of an existing node is preserved.
func (s *LibSQLStore) SaveNode(ctx context.Context, node *ConditionNode) error {
	if node.ID == "" || node.WorkflowID == "" {
		return schema.NewError(schema.ErrCodeValidation, "condition node requires id and workflow_id")
	}
	if len(node.Compiled) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "condition node has no compiled expression").WithNode(node.ID)
	}

	cfg, err := json.Marshal(node.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	contextMap, err := nullMap(node.ContextMap)
	if err != nil {
		return fmt.Errorf("marshal context_map: %w", err)
	}

	node.CreatedAt = timeOrNow(node.CreatedAt)
	node.UpdatedAt = time.Now().UTC()
	if node.SchemaVersion == 0 {
		node.SchemaVersion = schema.ConditionSchemaVersion
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO condition_nodes (id, workflow_id, name, mode, config, compiled, schema_version, context_map, context_schema, error_policy, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			workflow_id=excluded.workflow_id, name=excluded.name, mode=excluded.mode,
			config=excluded.config, compiled=excluded.compiled, schema_version=excluded.schema_version,
			context_map=excluded.context_map, context_schema=excluded.context_schema,
			error_policy=excluded.error_policy, updated_at=excluded.updated_at`,
		node.ID, node.WorkflowID, nullStr(node.Name), string(node.Config.Mode()),
		string(cfg), string(node.Compiled), node.SchemaVersion,
		contextMap, nullRaw(node.ContextSchema), policyOrDefault(node.ErrorPolicy),
		node.CreatedAt, node.UpdatedAt,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "save condition node %q: %s", node.ID, err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetNode(ctx context.Context, id string) (*ConditionNode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM condition_nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("condition node", id)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (s *LibSQLStore) ListNodes(ctx context.Context, filter NodeFilter) ([]*ConditionNode, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, string(filter.Mode))
	}

	query := "SELECT " + nodeColumns + " FROM condition_nodes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY workflow_id, created_at, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*ConditionNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// DeleteNode removes a node and, through the foreign key, its evaluations.
func (s *LibSQLStore) DeleteNode(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM condition_nodes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "condition node", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*ConditionNode, error) {
	n := &ConditionNode{}
	var (
		name, contextMap, contextSchema sql.NullString
		cfgJSON, compiled, policy       string
	)
	if err := row.Scan(&n.ID, &n.WorkflowID, &name, &cfgJSON, &compiled, &n.SchemaVersion,
		&contextMap, &contextSchema, &policy, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.Name = name.String
	n.Compiled = json.RawMessage(compiled)
	n.ContextSchema = rawOrNil(contextSchema)
	n.ErrorPolicy = schema.ErrorPolicy(policy)
	if err := json.Unmarshal([]byte(cfgJSON), &n.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config of node %s: %w", n.ID, err)
	}
	if contextMap.Valid && contextMap.String != "" {
		if err := json.Unmarshal([]byte(contextMap.String), &n.ContextMap); err != nil {
			return nil, fmt.Errorf("unmarshal context_map of node %s: %w", n.ID, err)
		}
	}
	return n, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.CondError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func nullMap(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func policyOrDefault(p schema.ErrorPolicy) string {
	if p == "" {
		return string(schema.PolicyNegative)
	}
	return string(p)
}
