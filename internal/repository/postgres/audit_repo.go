package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kinetra/agentplane/internal/domain"
)

// WriteAuditBatch bulk-inserts one batch of audit entries. Called by
// the audit writer's worker, never from the executor's hot path.
func (s *Store) WriteAuditBatch(ctx context.Context, entries []domain.AuditLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	const numFields = 13
	var sb strings.Builder
	vals := make([]any, 0, len(entries)*numFields)

	for i, e := range entries {
		p := i * numFields
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12, p+13)

		output, _ := json.Marshal(e.Output)
		vals = append(vals,
			e.ID, e.TraceID, e.Actor, e.ActionID, e.ActionType, e.Category,
			e.RiskLevel, e.Mode, e.Status, output, e.Error, e.DurationMs, e.Timestamp,
		)
	}

	query := `INSERT INTO audit_log
		(id, trace_id, actor, action_id, action_type, category,
		 risk_level, mode, status, output, error, duration_ms, created_at)
		VALUES ` + sb.String()

	if _, err := s.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write audit batch: %w", err)
	}
	return nil
}
