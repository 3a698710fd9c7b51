package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kinetra/agentplane/internal/control"
	"github.com/kinetra/agentplane/internal/domain"
	"github.com/kinetra/agentplane/internal/notify"
	"github.com/kinetra/agentplane/internal/storage"
)

// Evaluation is the outcome of matching one action against the rule set.
type Evaluation struct {
	RuleID   string          `json:"rule_id,omitempty"`
	RuleName string          `json:"rule_name,omitempty"`
	Decision domain.Decision `json:"decision"`

	// Downgraded marks an auto-approval turned into require_review by
	// the rule's hourly cap or an active compliance hold.
	Downgraded bool   `json:"downgraded,omitempty"`
	ReviewRole string `json:"review_role,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Engine evaluates proposed actions against an ordered declarative rule
// set and applies the resulting decision through the storage interface.
type Engine struct {
	mu    sync.RWMutex
	rules []domain.ApprovalRule // sorted by ascending priority

	caps     *capTracker
	hold     *control.HoldSwitch
	store    storage.Store
	notifier notify.Notifier
	logger   *zap.Logger
	metrics  *control.Metrics

	now func() time.Time
}

func NewEngine(rules []domain.ApprovalRule, store storage.Store, notifier notify.Notifier, hold *control.HoldSwitch, metrics *control.Metrics, logger *zap.Logger) *Engine {
	e := &Engine{
		caps:     newCapTracker(),
		hold:     hold,
		store:    store,
		notifier: notifier,
		logger:   logger.Named("policy"),
		metrics:  metrics,
		now:      time.Now,
	}
	e.ReplaceRules(rules)
	return e
}

// ReplaceRules swaps the active rule set. Rules are versioned by
// replacement; cap counters of removed rules are dropped lazily.
func (e *Engine) ReplaceRules(rules []domain.ApprovalRule) {
	sorted := make([]domain.ApprovalRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	e.mu.Lock()
	e.rules = sorted
	e.mu.Unlock()
	e.logger.Info("approval rule set replaced", zap.Int("rules", len(sorted)))
}

// Rules returns a copy of the active rule set in evaluation order.
func (e *Engine) Rules() []domain.ApprovalRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.ApprovalRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate matches the action against enabled rules in priority order.
// Every condition of a rule must match (logical AND); the first full
// match wins. No match falls back to require_review.
//
// For auto_approve the rule's hourly cap is consumed here: the call
// that exceeds the cap gets a require_review downgrade instead. This
// is the single wall-clock-dependent branch of evaluation.
func (e *Engine) Evaluate(a *domain.ProposedAction) Evaluation {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, r := range rules {
		if !r.Enabled || len(r.Conditions) == 0 {
			continue
		}
		if !matchAll(r.Conditions, a) {
			continue
		}

		ev := Evaluation{
			RuleID:     r.ID,
			RuleName:   r.Name,
			Decision:   r.Decision,
			ReviewRole: r.RequiresReviewBy,
			Reason:     r.Description,
		}

		if r.Decision == domain.DecisionAutoApprove {
			if held, reason := e.heldState(); held {
				ev.Decision = domain.DecisionRequireReview
				ev.Downgraded = true
				ev.Reason = "compliance hold active: " + reason
				return ev
			}
			if !e.caps.allow(r.ID, r.MaxAutoApprovePerHour, e.now()) {
				ev.Decision = domain.DecisionRequireReview
				ev.Downgraded = true
				ev.Reason = fmt.Sprintf("hourly auto-approval cap reached for rule %q", r.Name)
				return ev
			}
		}
		return ev
	}

	return Evaluation{Decision: domain.DecisionRequireReview, Reason: "no approval rule matched"}
}

// Process evaluates one pending action and persists the outcome.
// Escalation notifications are best-effort: a failed send never rolls
// back the recorded decision.
func (e *Engine) Process(ctx context.Context, a *domain.ProposedAction) (Evaluation, error) {
	ev := e.Evaluate(a)
	if e.metrics != nil {
		e.metrics.ActionDecisions.WithLabelValues(string(ev.Decision)).Inc()
	}

	switch ev.Decision {
	case domain.DecisionAutoApprove:
		if err := e.store.ApproveAction(ctx, a.ID, "policy-engine", true, ev.RuleID); err != nil {
			// Give the cap slot back: nothing was approved.
			e.caps.refund(ev.RuleID, e.now())
			return ev, fmt.Errorf("policy: auto-approve action %s: %w", a.ID, err)
		}
		a.Status = domain.StatusAutoApproved

	case domain.DecisionRequireReview:
		if ev.ReviewRole != "" || ev.RuleID != "" {
			if err := e.store.MarkPendingReview(ctx, a.ID, ev.ReviewRole, false, ev.RuleID); err != nil {
				return ev, fmt.Errorf("policy: mark action %s for review: %w", a.ID, err)
			}
		}
		a.RequiresReviewBy = ev.ReviewRole

	case domain.DecisionEscalate:
		if err := e.store.MarkPendingReview(ctx, a.ID, ev.ReviewRole, true, ev.RuleID); err != nil {
			return ev, fmt.Errorf("policy: escalate action %s: %w", a.ID, err)
		}
		a.Escalated = true
		if e.notifier != nil {
			err := e.notifier.Send(ctx, notify.Message{
				Severity: "high",
				Title:    "Action escalated for priority review",
				Body:     fmt.Sprintf("%s (%s) affects %d entities: %s", a.Name, a.Type, a.AffectedEntities, ev.Reason),
				Fields:   map[string]string{"action_id": a.ID, "rule": ev.RuleName},
			})
			if err != nil {
				e.logger.Warn("escalation notification failed",
					zap.String("action_id", a.ID), zap.Error(err))
			}
		}

	case domain.DecisionReject:
		if err := e.store.RejectAction(ctx, a.ID, "policy-engine", ev.Reason, ev.RuleID); err != nil {
			return ev, fmt.Errorf("policy: reject action %s: %w", a.ID, err)
		}
		a.Status = domain.StatusRejected
		a.Reasoning = ev.Reason
	}

	return ev, nil
}

func (e *Engine) heldState() (bool, string) {
	if e.hold == nil {
		return false, ""
	}
	return e.hold.Held()
}
