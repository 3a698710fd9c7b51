// Package service implements the admin API business layer: the thin
// seam between HTTP handlers and the control-plane internals.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kinetra/agentplane/internal/agent"
	"github.com/kinetra/agentplane/internal/control"
	"github.com/kinetra/agentplane/internal/domain"
	"github.com/kinetra/agentplane/internal/executor"
	"github.com/kinetra/agentplane/internal/infra"
	"github.com/kinetra/agentplane/internal/orchestrator"
	"github.com/kinetra/agentplane/internal/policy"
	"github.com/kinetra/agentplane/internal/scheduler"
	"github.com/kinetra/agentplane/internal/storage"
)

var (
	ErrNotFound = errors.New("console: not found")
	ErrConflict = errors.New("console: action already decided")
)

// ConsoleService drives every admin operation against the engine.
type ConsoleService struct {
	store    storage.Store
	registry *agent.Registry
	orch     *orchestrator.Orchestrator
	sched    *scheduler.Scheduler
	engine   *policy.Engine
	exec     *executor.Executor
	hold     *control.HoldSwitch
	rdb      *redis.Client // nil in single-instance deployments
	logger   *zap.Logger

	maxActionsPerCycle int
}

func NewConsoleService(
	store storage.Store,
	registry *agent.Registry,
	orch *orchestrator.Orchestrator,
	sched *scheduler.Scheduler,
	engine *policy.Engine,
	exec *executor.Executor,
	hold *control.HoldSwitch,
	rdb *redis.Client,
	maxActionsPerCycle int,
	logger *zap.Logger,
) *ConsoleService {
	return &ConsoleService{
		store:              store,
		registry:           registry,
		orch:               orch,
		sched:              sched,
		engine:             engine,
		exec:               exec,
		hold:               hold,
		rdb:                rdb,
		logger:             logger.Named("console"),
		maxActionsPerCycle: maxActionsPerCycle,
	}
}

// --- Actions & approvals ---

func (s *ConsoleService) PendingActions(ctx context.Context, limit, offset int) ([]*domain.ProposedAction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListPendingActions(ctx, limit, offset)
}

func (s *ConsoleService) GetAction(ctx context.Context, id string) (*domain.ProposedAction, error) {
	a, err := s.store.GetAction(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return a, err
}

// DecisionResult reports one reviewed action back to the caller. When
// an approval ran the action immediately, Execution carries the result.
type DecisionResult struct {
	ActionID  string           `json:"action_id"`
	Approved  bool             `json:"approved"`
	Execution *executor.Result `json:"execution,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Decide applies a human decision to one pending action. Approval
// immediately hands the action to the executor under the reviewer's
// identity; rejection only records the decision.
func (s *ConsoleService) Decide(ctx context.Context, id string, approve bool, reviewer, comment string) (*DecisionResult, error) {
	res := &DecisionResult{ActionID: id, Approved: approve}

	if !approve {
		err := s.store.RejectAction(ctx, id, reviewer, comment, "")
		if err != nil {
			return nil, mapStorageErr(err)
		}
		s.logger.Info("action rejected",
			zap.String("action_id", id), zap.String("reviewer", reviewer))
		return res, nil
	}

	if err := s.store.ApproveAction(ctx, id, reviewer, false, ""); err != nil {
		return nil, mapStorageErr(err)
	}
	s.logger.Info("action approved",
		zap.String("action_id", id), zap.String("reviewer", reviewer))

	a, err := s.store.GetAction(ctx, id)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	exec := s.exec.Execute(ctx, a, reviewer)
	res.Execution = &exec
	return res, nil
}

// DecideBatch applies one decision to many actions. Individual
// failures are reported per action, never aborting the batch.
func (s *ConsoleService) DecideBatch(ctx context.Context, ids []string, approve bool, reviewer, comment string) []DecisionResult {
	results := make([]DecisionResult, 0, len(ids))
	for _, id := range ids {
		r, err := s.Decide(ctx, id, approve, reviewer, comment)
		if err != nil {
			results = append(results, DecisionResult{ActionID: id, Approved: approve, Error: err.Error()})
			continue
		}
		results = append(results, *r)
	}
	return results
}

// --- Agents & runs ---

func (s *ConsoleService) Agents() []domain.AgentDefinition {
	all := s.registry.All()
	defs := make([]domain.AgentDefinition, 0, len(all))
	for _, a := range all {
		defs = append(defs, a.Definition())
	}
	return defs
}

func (s *ConsoleService) Runs(ctx context.Context, agentType string, limit int) ([]*domain.AgentRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListRuns(ctx, agentType, limit)
}

// TriggerAgent runs one agent on demand under the operator's identity.
func (s *ConsoleService) TriggerAgent(ctx context.Context, agentType string, input map[string]any, triggeredBy string) (*domain.AgentRun, error) {
	run, err := s.orch.RunAgentByType(ctx, agentType, domain.TriggerOnDemand, triggeredBy, input)
	if err != nil && run == nil {
		return nil, ErrNotFound
	}
	return run, err
}

// TriggerCycle runs a full orchestration cycle on demand. An empty
// agent list means every registered agent.
func (s *ConsoleService) TriggerCycle(ctx context.Context, agentTypes []string, processPending bool) (*orchestrator.CycleSummary, error) {
	if len(agentTypes) == 0 {
		for _, a := range s.registry.All() {
			agentTypes = append(agentTypes, a.Definition().Type)
		}
	}
	return s.orch.RunCycle(ctx, agentTypes, processPending, s.maxActionsPerCycle)
}

func (s *ConsoleService) SchedulerStatus() scheduler.Status {
	return s.sched.Status()
}

// --- Approval rules ---

func (s *ConsoleService) Rules(ctx context.Context) []domain.ApprovalRule {
	return s.engine.Rules()
}

// ReplaceRules installs a new rule set: persisted first, then applied
// to the local engine, then broadcast so other instances reload.
func (s *ConsoleService) ReplaceRules(ctx context.Context, rules []domain.ApprovalRule, updatedBy string) error {
	if err := validateRules(rules); err != nil {
		return err
	}
	if err := s.store.ReplaceRules(ctx, rules); err != nil {
		return fmt.Errorf("console: persist rules: %w", err)
	}
	s.engine.ReplaceRules(rules)

	if s.rdb != nil {
		if err := s.rdb.Publish(ctx, infra.RedisChanRuleUpdate, "on:"+updatedBy).Err(); err != nil {
			// Peers catch up on their next resubscribe resync.
			s.logger.Warn("rule update broadcast failed", zap.Error(err))
		}
	}
	s.logger.Info("approval rules replaced",
		zap.Int("rules", len(rules)), zap.String("updated_by", updatedBy))
	return nil
}

func validateRules(rules []domain.ApprovalRule) error {
	if len(rules) == 0 {
		return errors.New("console: rule set must not be empty")
	}
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			return fmt.Errorf("console: rule %d has no id", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("console: duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		switch r.Decision {
		case domain.DecisionAutoApprove, domain.DecisionRequireReview,
			domain.DecisionEscalate, domain.DecisionReject:
		default:
			return fmt.Errorf("console: rule %q has unknown decision %q", r.ID, r.Decision)
		}
		for _, c := range r.Conditions {
			switch c.Op {
			case domain.OpEquals, domain.OpNotEquals, domain.OpGreater, domain.OpGreaterEq,
				domain.OpLess, domain.OpLessEq, domain.OpIn, domain.OpNotIn:
			default:
				return fmt.Errorf("console: rule %q has unknown operator %q", r.ID, c.Op)
			}
		}
	}
	return nil
}

// --- Compliance hold ---

type HoldStatus struct {
	Held   bool   `json:"held"`
	Reason string `json:"reason,omitempty"`
}

func (s *ConsoleService) HoldStatus() HoldStatus {
	held, reason := s.hold.Held()
	return HoldStatus{Held: held, Reason: reason}
}

func (s *ConsoleService) EngageHold(ctx context.Context, reason, engagedBy string) error {
	if reason == "" {
		reason = "engaged by " + engagedBy
	}
	s.logger.Warn("compliance hold engaged",
		zap.String("reason", reason), zap.String("by", engagedBy))
	return s.hold.Engage(ctx, reason)
}

func (s *ConsoleService) ReleaseHold(ctx context.Context, releasedBy string) error {
	s.logger.Info("compliance hold released", zap.String("by", releasedBy))
	return s.hold.Release(ctx)
}

func mapStorageErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrStatusConflict):
		return ErrConflict
	default:
		return err
	}
}
