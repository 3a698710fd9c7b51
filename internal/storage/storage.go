package storage

import (
	"context"
	"errors"

	"github.com/kinetra/agentplane/internal/domain"
)

var (
	ErrNotFound = errors.New("storage: not found")

	// ErrStatusConflict is returned when a guarded status update finds
	// the action no longer in the expected state. Every read-modify-write
	// revalidates against the persisted status, so a decision taken
	// elsewhere surfaces here instead of being overwritten.
	ErrStatusConflict = errors.New("storage: action not in expected status")
)

// Store is the narrow persistence interface the control plane consumes.
// Implementations: postgres (pgx) and memory (tests, standalone runs).
type Store interface {
	// Agent runs (append-only)
	CreateRun(ctx context.Context, run *domain.AgentRun) error
	ListRuns(ctx context.Context, agentType string, limit int) ([]*domain.AgentRun, error)

	// Proposed actions
	CreateAction(ctx context.Context, a *domain.ProposedAction) error
	GetAction(ctx context.Context, id string) (*domain.ProposedAction, error)
	// ListPendingActions pages the backlog oldest-first so repeated
	// cycles over the same backlog evaluate in a stable order.
	ListPendingActions(ctx context.Context, limit, offset int) ([]*domain.ProposedAction, error)
	// ListAutoApprovedActions returns actions the policy engine approved
	// that have not been executed yet, oldest first. The orchestrator
	// drains this backlog every cycle, so an execution refused under a
	// compliance hold is retried once the hold lifts.
	ListAutoApprovedActions(ctx context.Context, limit int) ([]*domain.ProposedAction, error)

	// Guarded transitions. All of them fail with ErrStatusConflict
	// when the persisted status does not admit the transition.
	ApproveAction(ctx context.Context, id, decidedBy string, auto bool, ruleID string) error
	RejectAction(ctx context.Context, id, decidedBy, reason, ruleID string) error
	// MarkPendingReview records a stays-pending outcome: the reviewer
	// role required and, for escalations, the priority flag.
	MarkPendingReview(ctx context.Context, id, reviewRole string, escalate bool, ruleID string) error
	MarkExecuted(ctx context.Context, id, executedBy string, output map[string]any) error

	// Audit trail (write-once, batched)
	WriteAuditBatch(ctx context.Context, entries []domain.AuditLogEntry) error

	// Approval rules (configuration, versioned by replacement)
	ListRules(ctx context.Context) ([]domain.ApprovalRule, error)
	ReplaceRules(ctx context.Context, rules []domain.ApprovalRule) error

	// Trigger configuration overrides persisted per agent type.
	// ErrNotFound means the compiled-in definition applies.
	GetAgentTrigger(ctx context.Context, agentType string) (*domain.TriggerConfig, error)

	Close()
}
