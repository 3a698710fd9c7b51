// Package memory is the in-memory storage.Store used by tests and by
// standalone runs without a database. All guarded transitions follow
// the same status revalidation discipline as the Postgres store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kinetra/agentplane/internal/domain"
	"github.com/kinetra/agentplane/internal/storage"
)

type Store struct {
	mu       sync.RWMutex
	runs     []*domain.AgentRun
	actions  map[string]*domain.ProposedAction
	order    []string // action ids in creation order
	audit    []domain.AuditLogEntry
	rules    []domain.ApprovalRule
	triggers map[string]domain.TriggerConfig
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		actions:  make(map[string]*domain.ProposedAction),
		triggers: make(map[string]domain.TriggerConfig),
	}
}

func (s *Store) CreateRun(ctx context.Context, run *domain.AgentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs = append(s.runs, &cp)
	return nil
}

func (s *Store) ListRuns(ctx context.Context, agentType string, limit int) ([]*domain.AgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.AgentRun, 0)
	// newest first
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if agentType != "" && r.AgentType != agentType {
			continue
		}
		cp := *r
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateAction(ctx context.Context, a *domain.ProposedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.actions[a.ID] = &cp
	s.order = append(s.order, a.ID)
	return nil
}

func (s *Store) GetAction(ctx context.Context, id string) (*domain.ProposedAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListPendingActions(ctx context.Context, limit, offset int) ([]*domain.ProposedAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.ProposedAction, 0)
	skipped := 0
	for _, id := range s.order { // creation order = oldest first
		a := s.actions[id]
		if a.Status != domain.StatusPending {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		cp := *a
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListAutoApprovedActions(ctx context.Context, limit int) ([]*domain.ProposedAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.ProposedAction, 0)
	for _, id := range s.order {
		a := s.actions[id]
		if a.Status != domain.StatusAutoApproved {
			continue
		}
		cp := *a
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ApproveAction(ctx context.Context, id, decidedBy string, auto bool, ruleID string) error {
	next := domain.StatusApproved
	if auto {
		next = domain.StatusAutoApproved
	}
	return s.transition(id, domain.StatusPending, func(a *domain.ProposedAction) {
		a.Status = next
		a.DecidedBy = &decidedBy
		a.MatchedRuleID = ruleID
	})
}

func (s *Store) RejectAction(ctx context.Context, id, decidedBy, reason, ruleID string) error {
	return s.transition(id, domain.StatusPending, func(a *domain.ProposedAction) {
		a.Status = domain.StatusRejected
		a.DecidedBy = &decidedBy
		a.MatchedRuleID = ruleID
		if reason != "" {
			a.Reasoning = reason
		}
	})
}

func (s *Store) MarkPendingReview(ctx context.Context, id, reviewRole string, escalate bool, ruleID string) error {
	return s.transition(id, domain.StatusPending, func(a *domain.ProposedAction) {
		a.RequiresReviewBy = reviewRole
		a.MatchedRuleID = ruleID
		if escalate {
			a.Escalated = true
		}
	})
}

func (s *Store) MarkExecuted(ctx context.Context, id, executedBy string, output map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if !a.Approvable() {
		return storage.ErrStatusConflict
	}
	now := time.Now().UTC()
	a.Status = domain.StatusExecuted
	a.ExecutedBy = &executedBy
	a.ExecutedAt = &now
	a.Output = output
	a.UpdatedAt = now
	return nil
}

func (s *Store) WriteAuditBatch(ctx context.Context, entries []domain.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entries...)
	return nil
}

// AllActions returns every stored action in creation order. Test
// helper, not part of storage.Store.
func (s *Store) AllActions() []*domain.ProposedAction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.ProposedAction, 0, len(s.order))
	for _, id := range s.order {
		cp := *s.actions[id]
		out = append(out, &cp)
	}
	return out
}

// AuditEntries returns a copy of the recorded trail, oldest first.
// Test helper, not part of storage.Store.
func (s *Store) AuditEntries() []domain.AuditLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditLogEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *Store) ListRules(ctx context.Context) ([]domain.ApprovalRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ApprovalRule, len(s.rules))
	copy(out, s.rules)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (s *Store) ReplaceRules(ctx context.Context, rules []domain.ApprovalRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = make([]domain.ApprovalRule, len(rules))
	copy(s.rules, rules)
	return nil
}

func (s *Store) GetAgentTrigger(ctx context.Context, agentType string) (*domain.TriggerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.triggers[agentType]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := t
	return &cp, nil
}

// SetAgentTrigger seeds a trigger override. Test helper.
func (s *Store) SetAgentTrigger(agentType string, t domain.TriggerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[agentType] = t
}

func (s *Store) Close() {}

func (s *Store) transition(id string, expect domain.ActionStatus, mutate func(*domain.ProposedAction)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if a.Status != expect {
		return storage.ErrStatusConflict
	}
	mutate(a)
	a.UpdatedAt = time.Now().UTC()
	return nil
}
