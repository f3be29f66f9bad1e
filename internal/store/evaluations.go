package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/credlogic/pkg/schema"
)

// AppendEvaluation appends an evaluation with a monotonically increasing
// per-node sequence. The connection pool holds a single connection, so the
// sequence read and the insert cannot interleave with another writer.
func (s *LibSQLStore) AppendEvaluation(ctx context.Context, eval *Evaluation) error {
	if eval.NodeID == "" {
		return schema.NewError(schema.ErrCodeValidation, "evaluation requires node_id")
	}
	if eval.Branch == "" {
		eval.Branch = schema.BranchFor(eval.Matched)
	}
	if eval.ID == "" {
		eval.ID = uuid.New().String()
	}
	eval.CreatedAt = timeOrNow(eval.CreatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM evaluations WHERE node_id = ?`, eval.NodeID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO evaluations (id, node_id, run_id, sequence, matched, branch, error_code, error, context, duration_us, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		eval.ID, eval.NodeID, nullStr(eval.RunID), seq, boolInt(eval.Matched), string(eval.Branch),
		nullStr(eval.ErrorCode), nullStr(eval.Error), nullRaw(eval.Context), eval.DurationUs, eval.CreatedAt,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "insert evaluation: %s", err.Error()).
			WithNode(eval.NodeID).
			WithCause(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit evaluation: %w", err)
	}
	eval.Sequence = seq
	return nil
}

// ListEvaluations returns matching evaluations, most recently appended first.
func (s *LibSQLStore) ListEvaluations(ctx context.Context, filter EvaluationFilter) ([]*Evaluation, error) {
	var where []string
	var args []any

	if filter.NodeID != "" {
		where = append(where, "node_id = ?")
		args = append(args, filter.NodeID)
	}
	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Branch != "" {
		where = append(where, "branch = ?")
		args = append(args, string(filter.Branch))
	}
	if filter.OnlyErrors {
		where = append(where, "error_code IS NOT NULL")
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT id, node_id, run_id, sequence, matched, branch, error_code, error, context, duration_us, created_at FROM evaluations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []*Evaluation
	for rows.Next() {
		e := &Evaluation{}
		var (
			runID, errCode, errMsg, evalCtx sql.NullString
			branch                          string
		)
		if err := rows.Scan(&e.ID, &e.NodeID, &runID, &e.Sequence, &e.Matched, &branch,
			&errCode, &errMsg, &evalCtx, &e.DurationUs, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.RunID = runID.String
		e.Branch = schema.Branch(branch)
		e.ErrorCode = errCode.String
		e.Error = errMsg.String
		e.Context = rawOrNil(evalCtx)
		evals = append(evals, e)
	}
	return evals, rows.Err()
}

// NodeStats summarizes the evaluation log of a node. A node that exists but
// was never evaluated has zero counts.
func (s *LibSQLStore) NodeStats(ctx context.Context, nodeID string) (*NodeStats, error) {
	if _, err := s.GetNode(ctx, nodeID); err != nil {
		return nil, err
	}

	st := &NodeStats{NodeID: nodeID}
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN branch = 'yes' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN branch = 'no' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN error_code IS NOT NULL THEN 1 ELSE 0 END), 0),
			AVG(duration_us)
		 FROM evaluations WHERE node_id = ?`, nodeID,
	).Scan(&st.Total, &st.Yes, &st.No, &st.Errors, &avg)
	if err != nil {
		return nil, fmt.Errorf("node stats: %w", err)
	}
	st.AvgDuration = avg.Float64

	if st.Total > 0 {
		var last time.Time
		if err := s.db.QueryRowContext(ctx,
			`SELECT created_at FROM evaluations WHERE node_id = ? ORDER BY sequence DESC LIMIT 1`, nodeID,
		).Scan(&last); err != nil {
			return nil, fmt.Errorf("node stats last evaluation: %w", err)
		}
		st.LastAt = &last
	}
	return st, nil
}

// PruneEvaluations deletes evaluations created before the cutoff and returns
// how many were removed.
func (s *LibSQLStore) PruneEvaluations(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM evaluations WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeStore, "prune evaluations: %s", err.Error()).WithCause(err)
	}
	return res.RowsAffected()
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*LibSQLStore)(nil)
