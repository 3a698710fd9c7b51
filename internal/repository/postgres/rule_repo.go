package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kinetra/agentplane/internal/domain"
)

// ListRules returns the stored rule set ordered by priority.
func (s *Store) ListRules(ctx context.Context) ([]domain.ApprovalRule, error) {
	query := `SELECT id, name, description, priority, conditions, decision,
		max_auto_approve_per_hour, requires_review_by, enabled
		FROM approval_rules ORDER BY priority ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rules: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ApprovalRule, 0)
	for rows.Next() {
		var r domain.ApprovalRule
		var conditions []byte
		var reviewBy sql.NullString
		err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Priority, &conditions,
			&r.Decision, &r.MaxAutoApprovePerHour, &reviewBy, &r.Enabled)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan rule: %w", err)
		}
		if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
			return nil, fmt.Errorf("postgres: decode conditions for rule %s: %w", r.ID, err)
		}
		if reviewBy.Valid {
			r.RequiresReviewBy = reviewBy.String
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration: %w", err)
	}
	return out, nil
}

// ReplaceRules swaps the whole rule set in one transaction. Rules are
// versioned by replacement, so partial updates are never visible.
func (s *Store) ReplaceRules(ctx context.Context, rules []domain.ApprovalRule) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin rule replacement: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM approval_rules`); err != nil {
		return fmt.Errorf("postgres: clear rules: %w", err)
	}

	query := `INSERT INTO approval_rules
		(id, name, description, priority, conditions, decision,
		 max_auto_approve_per_hour, requires_review_by, enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9)`
	for _, r := range rules {
		conditions, err := json.Marshal(r.Conditions)
		if err != nil {
			return fmt.Errorf("postgres: encode conditions for rule %s: %w", r.ID, err)
		}
		_, err = tx.Exec(ctx, query, r.ID, r.Name, r.Description, r.Priority, conditions,
			r.Decision, r.MaxAutoApprovePerHour, r.RequiresReviewBy, r.Enabled)
		if err != nil {
			return fmt.Errorf("postgres: insert rule %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit rule replacement: %w", err)
	}
	return nil
}
