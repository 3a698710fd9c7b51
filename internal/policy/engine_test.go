package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kinetra/agentplane/internal/control"
	"github.com/kinetra/agentplane/internal/domain"
	"github.com/kinetra/agentplane/internal/repository/memory"
)

func newTestEngine(t *testing.T, rules []domain.ApprovalRule) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	return NewEngine(rules, store, nil, nil, nil, zap.NewNop()), store
}

func pendingAction(id string, risk domain.RiskLevel, confidence float64, entities int) *domain.ProposedAction {
	return &domain.ProposedAction{
		ID:               id,
		Type:             "update_health_score",
		Name:             "test action " + id,
		Confidence:       confidence,
		RiskLevel:        risk,
		Scope:            domain.ScopeIndividual,
		AffectedEntities: entities,
		Status:           domain.StatusPending,
	}
}

func TestEvaluateLowRiskHighConfidenceAutoApproves(t *testing.T) {
	e, _ := newTestEngine(t, domain.DefaultRules())

	ev := e.Evaluate(pendingAction("a1", domain.RiskLow, 0.92, 5))
	assert.Equal(t, domain.DecisionAutoApprove, ev.Decision)
	assert.Equal(t, "auto-low-risk", ev.RuleID)
	assert.False(t, ev.Downgraded)
}

func TestEvaluateLowConfidenceFallsThrough(t *testing.T) {
	e, _ := newTestEngine(t, domain.DefaultRules())

	// Low risk but confidence below 0.8: the auto rule does not match
	// and nothing else covers low risk, so the default applies.
	ev := e.Evaluate(pendingAction("a2", domain.RiskLow, 0.5, 5))
	assert.Equal(t, domain.DecisionRequireReview, ev.Decision)
	assert.Empty(t, ev.RuleID)
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	e, _ := newTestEngine(t, domain.DefaultRules())

	// Medium risk with 150 entities matches both review-medium-risk
	// (priority 30) and escalate-wide-impact (priority 40); the lower
	// priority number wins.
	ev := e.Evaluate(pendingAction("a3", domain.RiskMedium, 0.9, 150))
	assert.Equal(t, "review-medium-risk", ev.RuleID)
	assert.Equal(t, domain.DecisionRequireReview, ev.Decision)
}

func TestEvaluateWideImpactEscalates(t *testing.T) {
	e, _ := newTestEngine(t, domain.DefaultRules())

	// Low risk, low confidence, wide impact: only the escalation rule
	// matches.
	ev := e.Evaluate(pendingAction("a4", domain.RiskLow, 0.4, 200))
	assert.Equal(t, domain.DecisionEscalate, ev.Decision)
	assert.Equal(t, "escalate-wide-impact", ev.RuleID)
}

func TestEvaluateHighRiskNamesReviewRole(t *testing.T) {
	e, _ := newTestEngine(t, domain.DefaultRules())

	ev := e.Evaluate(pendingAction("a5", domain.RiskHigh, 0.99, 5))
	assert.Equal(t, domain.DecisionRequireReview, ev.Decision)
	assert.Equal(t, "compliance_officer", ev.ReviewRole)
}

func TestEvaluateDisabledRuleIsSkipped(t *testing.T) {
	e, _ := newTestEngine(t, domain.DefaultRules())

	// Portfolio high risk would hit the reject rule if it were enabled.
	a := pendingAction("a6", domain.RiskHigh, 0.99, 5)
	a.Scope = domain.ScopePortfolio
	ev := e.Evaluate(a)
	assert.NotEqual(t, domain.DecisionReject, ev.Decision)
	assert.Equal(t, "review-high-risk", ev.RuleID)
}

func TestEvaluateDeterministicAcrossRepeats(t *testing.T) {
	e, _ := newTestEngine(t, domain.DefaultRules())
	a := pendingAction("a7", domain.RiskMedium, 0.7, 10)

	first := e.Evaluate(a)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, e.Evaluate(a))
	}
}

func TestAutoApproveCapDowngradesAndResets(t *testing.T) {
	rules := []domain.ApprovalRule{{
		ID:       "capped",
		Name:     "capped auto approval",
		Priority: 1,
		Conditions: []domain.Condition{
			{Field: domain.FieldRiskLevel, Op: domain.OpEquals, Value: string(domain.RiskLow)},
		},
		Decision:              domain.DecisionAutoApprove,
		MaxAutoApprovePerHour: 2,
		Enabled:               true,
	}}
	e, _ := newTestEngine(t, rules)

	clock := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }

	a := pendingAction("c1", domain.RiskLow, 0.9, 1)
	assert.Equal(t, domain.DecisionAutoApprove, e.Evaluate(a).Decision)
	assert.Equal(t, domain.DecisionAutoApprove, e.Evaluate(a).Decision)

	// Third within the hour downgrades.
	ev := e.Evaluate(a)
	assert.Equal(t, domain.DecisionRequireReview, ev.Decision)
	assert.True(t, ev.Downgraded)
	assert.Contains(t, ev.Reason, "cap")

	// The window expires and auto-approval resumes.
	clock = clock.Add(61 * time.Minute)
	ev = e.Evaluate(a)
	assert.Equal(t, domain.DecisionAutoApprove, ev.Decision)
	assert.False(t, ev.Downgraded)
}

func TestNotificationRuleCapFollowsDefault(t *testing.T) {
	e, _ := newTestEngine(t, domain.DefaultRules())

	clock := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }

	// Medium risk keeps these off the low-risk rule, so only the
	// notification rule matches.
	a := pendingAction("n1", domain.RiskMedium, 0.6, 1)
	a.Type = "send_slack"

	for i := 0; i < 50; i++ {
		ev := e.Evaluate(a)
		require.Equal(t, domain.DecisionAutoApprove, ev.Decision, "call %d", i+1)
		require.Equal(t, "auto-notifications", ev.RuleID)
	}
	ev := e.Evaluate(a)
	assert.Equal(t, domain.DecisionRequireReview, ev.Decision)
	assert.True(t, ev.Downgraded)
}

func TestProcessRefundsCapOnPersistFailure(t *testing.T) {
	rules := []domain.ApprovalRule{{
		ID:       "capped",
		Name:     "capped auto approval",
		Priority: 1,
		Conditions: []domain.Condition{
			{Field: domain.FieldRiskLevel, Op: domain.OpEquals, Value: string(domain.RiskLow)},
		},
		Decision:              domain.DecisionAutoApprove,
		MaxAutoApprovePerHour: 1,
		Enabled:               true,
	}}
	e, store := newTestEngine(t, rules)
	ctx := context.Background()

	// The stored copy has already been decided; Process works from a
	// stale pending snapshot and its ApproveAction must conflict.
	stale := pendingAction("f1", domain.RiskLow, 0.9, 1)
	require.NoError(t, store.CreateAction(ctx, stale))
	require.NoError(t, store.ApproveAction(ctx, "f1", "reviewer", false, ""))

	_, err := e.Process(ctx, stale)
	require.Error(t, err)

	// The failed approval must not consume the single cap slot.
	fresh := pendingAction("f2", domain.RiskLow, 0.9, 1)
	require.NoError(t, store.CreateAction(ctx, fresh))
	ev, err := e.Process(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAutoApprove, ev.Decision)
	assert.False(t, ev.Downgraded)

	got, _ := store.GetAction(ctx, "f2")
	assert.Equal(t, domain.StatusAutoApproved, got.Status)
}

func TestHoldDowngradesAutoApproval(t *testing.T) {
	hold := control.NewHoldSwitch(nil, zap.NewNop())
	store := memory.New()
	e := NewEngine(domain.DefaultRules(), store, nil, hold, nil, zap.NewNop())

	a := pendingAction("h1", domain.RiskLow, 0.95, 1)
	assert.Equal(t, domain.DecisionAutoApprove, e.Evaluate(a).Decision)

	require.NoError(t, hold.Engage(context.Background(), "audit in progress"))
	ev := e.Evaluate(a)
	assert.Equal(t, domain.DecisionRequireReview, ev.Decision)
	assert.True(t, ev.Downgraded)
	assert.Contains(t, ev.Reason, "audit in progress")

	require.NoError(t, hold.Release(context.Background()))
	assert.Equal(t, domain.DecisionAutoApprove, e.Evaluate(a).Decision)
}

func TestProcessPersistsDecisions(t *testing.T) {
	e, store := newTestEngine(t, domain.DefaultRules())
	ctx := context.Background()

	auto := pendingAction("p1", domain.RiskLow, 0.9, 1)
	review := pendingAction("p2", domain.RiskHigh, 0.9, 1)
	escalate := pendingAction("p3", domain.RiskLow, 0.4, 150)
	for _, a := range []*domain.ProposedAction{auto, review, escalate} {
		require.NoError(t, store.CreateAction(ctx, a))
	}

	ev, err := e.Process(ctx, auto)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAutoApprove, ev.Decision)
	got, _ := store.GetAction(ctx, "p1")
	assert.Equal(t, domain.StatusAutoApproved, got.Status)
	assert.Equal(t, "auto-low-risk", got.MatchedRuleID)

	_, err = e.Process(ctx, review)
	require.NoError(t, err)
	got, _ = store.GetAction(ctx, "p2")
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, "compliance_officer", got.RequiresReviewBy)

	_, err = e.Process(ctx, escalate)
	require.NoError(t, err)
	got, _ = store.GetAction(ctx, "p3")
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.True(t, got.Escalated)
}

func TestProcessRejectPersists(t *testing.T) {
	rules := domain.DefaultRules()
	for i := range rules {
		if rules[i].Decision == domain.DecisionReject {
			rules[i].Enabled = true
		}
	}
	e, store := newTestEngine(t, rules)
	ctx := context.Background()

	a := pendingAction("r1", domain.RiskHigh, 0.99, 5)
	a.Scope = domain.ScopePortfolio
	require.NoError(t, store.CreateAction(ctx, a))

	ev, err := e.Process(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionReject, ev.Decision)

	got, _ := store.GetAction(ctx, "r1")
	assert.Equal(t, domain.StatusRejected, got.Status)
}

func TestReplaceRulesReorders(t *testing.T) {
	e, _ := newTestEngine(t, domain.DefaultRules())

	e.ReplaceRules([]domain.ApprovalRule{
		{ID: "b", Priority: 20, Decision: domain.DecisionRequireReview, Enabled: true,
			Conditions: []domain.Condition{{Field: domain.FieldRiskLevel, Op: domain.OpEquals, Value: "low"}}},
		{ID: "a", Priority: 10, Decision: domain.DecisionAutoApprove, Enabled: true,
			Conditions: []domain.Condition{{Field: domain.FieldRiskLevel, Op: domain.OpEquals, Value: "low"}}},
	})

	rules := e.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "a", rules[0].ID)

	ev := e.Evaluate(pendingAction("x", domain.RiskLow, 0.1, 1))
	assert.Equal(t, "a", ev.RuleID)
}

func TestMatchOperators(t *testing.T) {
	a := pendingAction("m1", domain.RiskMedium, 0.75, 40)
	a.Type = "send_slack"

	cases := []struct {
		name string
		cond domain.Condition
		want bool
	}{
		{"eq risk", domain.Condition{Field: domain.FieldRiskLevel, Op: domain.OpEquals, Value: "medium"}, true},
		{"neq risk", domain.Condition{Field: domain.FieldRiskLevel, Op: domain.OpNotEquals, Value: "high"}, true},
		{"gt entities", domain.Condition{Field: domain.FieldAffectedEntities, Op: domain.OpGreater, Value: 39}, true},
		{"gte boundary", domain.Condition{Field: domain.FieldAffectedEntities, Op: domain.OpGreaterEq, Value: 40}, true},
		{"lt confidence", domain.Condition{Field: domain.FieldConfidence, Op: domain.OpLess, Value: 0.8}, true},
		{"lte miss", domain.Condition{Field: domain.FieldConfidence, Op: domain.OpLessEq, Value: 0.5}, false},
		{"in list any", domain.Condition{Field: domain.FieldActionType, Op: domain.OpIn, Value: []any{"send_slack", "send_notification"}}, true},
		{"in list strings", domain.Condition{Field: domain.FieldActionType, Op: domain.OpIn, Value: []string{"create_ticket"}}, false},
		{"not in list", domain.Condition{Field: domain.FieldActionType, Op: domain.OpNotIn, Value: []any{"export_bulk_data"}}, true},
		{"int vs float equality", domain.Condition{Field: domain.FieldAffectedEntities, Op: domain.OpEquals, Value: 40.0}, true},
		{"unknown field", domain.Condition{Field: "nope", Op: domain.OpEquals, Value: "x"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, matchCondition(tc.cond, a))
		})
	}
}
