package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kinetra/agentplane/internal/domain"
)

// CreateRun appends one run record. Runs are append-only history:
// there is no update path.
func (s *Store) CreateRun(ctx context.Context, run *domain.AgentRun) error {
	input, _ := json.Marshal(run.Input)
	insights, _ := json.Marshal(run.Insights)
	alerts, _ := json.Marshal(run.Alerts)
	metrics, _ := json.Marshal(run.Metrics)

	query := `INSERT INTO agent_runs
		(id, agent_type, agent_version, trigger_type, triggered_by, input,
		 status, summary, error, insights, alerts, metrics,
		 actions_proposed, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.AgentType, run.AgentVersion, run.Trigger, run.TriggeredBy, input,
		run.Status, run.Summary, run.Error, insights, alerts, metrics,
		run.ActionsProposed, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create run: %w", err)
	}
	return nil
}

// ListRuns returns recent runs, newest first, optionally filtered by
// agent type.
func (s *Store) ListRuns(ctx context.Context, agentType string, limit int) ([]*domain.AgentRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, agent_type, agent_version, trigger_type, triggered_by, input,
		status, summary, error, insights, alerts, metrics,
		actions_proposed, started_at, finished_at
		FROM agent_runs`
	args := []any{}
	if agentType != "" {
		query += ` WHERE agent_type = $1`
		args = append(args, agentType)
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.AgentRun, 0)
	for rows.Next() {
		var run domain.AgentRun
		var input, insights, alerts, metrics []byte
		err := rows.Scan(
			&run.ID, &run.AgentType, &run.AgentVersion, &run.Trigger, &run.TriggeredBy, &input,
			&run.Status, &run.Summary, &run.Error, &insights, &alerts, &metrics,
			&run.ActionsProposed, &run.StartedAt, &run.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		_ = json.Unmarshal(input, &run.Input)
		_ = json.Unmarshal(insights, &run.Insights)
		_ = json.Unmarshal(alerts, &run.Alerts)
		_ = json.Unmarshal(metrics, &run.Metrics)
		out = append(out, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration: %w", err)
	}
	return out, nil
}
