package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kinetra/agentplane/internal/domain"
	"github.com/kinetra/agentplane/internal/storage"
)

const actionColumns = `id, run_id, agent_type, action_type, name, reasoning, payload,
	confidence, risk_level, scope, affected_entities, status,
	escalated, requires_review_by, matched_rule_id,
	decided_by, executed_by, executed_at, output, created_at, updated_at`

func (s *Store) CreateAction(ctx context.Context, a *domain.ProposedAction) error {
	payload, _ := json.Marshal(a.Payload)

	query := `INSERT INTO agent_actions
		(id, run_id, agent_type, action_type, name, reasoning, payload,
		 confidence, risk_level, scope, affected_entities, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.RunID, a.AgentType, a.Type, a.Name, a.Reasoning, payload,
		a.Confidence, a.RiskLevel, a.Scope, a.AffectedEntities, a.Status,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create action: %w", err)
	}
	return nil
}

func (s *Store) GetAction(ctx context.Context, id string) (*domain.ProposedAction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+actionColumns+` FROM agent_actions WHERE id = $1`, id)
	a, err := scanAction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get action: %w", err)
	}
	return a, nil
}

// ListPendingActions pages the pending backlog oldest-first, which
// keeps repeated evaluation cycles deterministic.
func (s *Store) ListPendingActions(ctx context.Context, limit, offset int) ([]*domain.ProposedAction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + actionColumns + ` FROM agent_actions
		WHERE status = $1 ORDER BY created_at ASC, id ASC LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, domain.StatusPending, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending actions: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.ProposedAction, 0)
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan action: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration: %w", err)
	}
	return out, nil
}

// ListAutoApprovedActions returns the approved-but-unexecuted backlog
// the orchestrator drains, oldest first.
func (s *Store) ListAutoApprovedActions(ctx context.Context, limit int) ([]*domain.ProposedAction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + actionColumns + ` FROM agent_actions
		WHERE status = $1 ORDER BY created_at ASC, id ASC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, domain.StatusAutoApproved, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list auto-approved actions: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.ProposedAction, 0)
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan action: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration: %w", err)
	}
	return out, nil
}

func (s *Store) ApproveAction(ctx context.Context, id, decidedBy string, auto bool, ruleID string) error {
	next := domain.StatusApproved
	if auto {
		next = domain.StatusAutoApproved
	}
	query := `UPDATE agent_actions
		SET status = $1, decided_by = $2, matched_rule_id = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $4 AND status = 'pending'`
	return s.guarded(ctx, query, next, decidedBy, ruleID, id)
}

func (s *Store) RejectAction(ctx context.Context, id, decidedBy, reason, ruleID string) error {
	query := `UPDATE agent_actions
		SET status = 'rejected', decided_by = $1, matched_rule_id = NULLIF($2, ''),
		    reasoning = CASE WHEN $3 <> '' THEN $3 ELSE reasoning END,
		    updated_at = NOW()
		WHERE id = $4 AND status = 'pending'`
	return s.guarded(ctx, query, decidedBy, ruleID, reason, id)
}

func (s *Store) MarkPendingReview(ctx context.Context, id, reviewRole string, escalate bool, ruleID string) error {
	query := `UPDATE agent_actions
		SET requires_review_by = NULLIF($1, ''), escalated = escalated OR $2,
		    matched_rule_id = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $4 AND status = 'pending'`
	return s.guarded(ctx, query, reviewRole, escalate, ruleID, id)
}

func (s *Store) MarkExecuted(ctx context.Context, id, executedBy string, output map[string]any) error {
	outJSON, _ := json.Marshal(output)
	query := `UPDATE agent_actions
		SET status = 'executed', executed_by = $1, executed_at = NOW(),
		    output = $2, updated_at = NOW()
		WHERE id = $3 AND status IN ('approved', 'auto_approved')`
	return s.guarded(ctx, query, executedBy, outJSON, id)
}

// guarded runs a status-conditioned update. Zero rows affected means
// the action either does not exist or is no longer in the expected
// status; both surface as a conflict for the caller to inspect.
func (s *Store) guarded(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: guarded update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrStatusConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*domain.ProposedAction, error) {
	var a domain.ProposedAction
	var payload, output []byte
	var reviewBy, ruleID, decidedBy, executedBy sql.NullString
	var executedAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.RunID, &a.AgentType, &a.Type, &a.Name, &a.Reasoning, &payload,
		&a.Confidence, &a.RiskLevel, &a.Scope, &a.AffectedEntities, &a.Status,
		&a.Escalated, &reviewBy, &ruleID,
		&decidedBy, &executedBy, &executedAt, &output, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	_ = json.Unmarshal(payload, &a.Payload)
	if len(output) > 0 {
		_ = json.Unmarshal(output, &a.Output)
	}
	if reviewBy.Valid {
		a.RequiresReviewBy = reviewBy.String
	}
	if ruleID.Valid {
		a.MatchedRuleID = ruleID.String
	}
	if decidedBy.Valid {
		v := decidedBy.String
		a.DecidedBy = &v
	}
	if executedBy.Valid {
		v := executedBy.String
		a.ExecutedBy = &v
	}
	if executedAt.Valid {
		v := executedAt.Time.UTC()
		a.ExecutedAt = &v
	}
	return &a, nil
}
