package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kinetra/agentplane/internal/domain"
	"github.com/kinetra/agentplane/internal/storage"
)

// GetAgentTrigger looks up a persisted trigger override for one agent
// type. storage.ErrNotFound means the compiled-in definition applies.
func (s *Store) GetAgentTrigger(ctx context.Context, agentType string) (*domain.TriggerConfig, error) {
	query := `SELECT cron, timezone, on_demand FROM agent_triggers WHERE agent_type = $1`

	var t domain.TriggerConfig
	err := s.pool.QueryRow(ctx, query, agentType).Scan(&t.Cron, &t.Timezone, &t.OnDemand)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get agent trigger: %w", err)
	}
	return &t, nil
}
