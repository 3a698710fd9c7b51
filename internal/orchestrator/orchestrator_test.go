package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kinetra/agentplane/internal/agent"
	"github.com/kinetra/agentplane/internal/control"
	"github.com/kinetra/agentplane/internal/domain"
	"github.com/kinetra/agentplane/internal/executor"
	"github.com/kinetra/agentplane/internal/notify"
	"github.com/kinetra/agentplane/internal/policy"
	"github.com/kinetra/agentplane/internal/repository/memory"
)

// scriptedAgent returns a fixed output (or error) per execution.
type scriptedAgent struct {
	agentType string
	output    *agent.Output
	err       error
	validate  func(map[string]any) agent.Validation
	calls     int
}

func (s *scriptedAgent) Definition() domain.AgentDefinition {
	return domain.AgentDefinition{
		Type:    s.agentType,
		Name:    s.agentType,
		Version: "1.0.0",
		Trigger: domain.TriggerConfig{OnDemand: true},
	}
}

func (s *scriptedAgent) Validate(input map[string]any) agent.Validation {
	if s.validate != nil {
		return s.validate(input)
	}
	return agent.Validation{Valid: true}
}

func (s *scriptedAgent) DefaultInput() map[string]any {
	return map[string]any{"default": true}
}

func (s *scriptedAgent) Execute(ctx context.Context, input map[string]any, rc agent.RunContext) (*agent.Output, error) {
	s.calls++
	return s.output, s.err
}

func newTestOrchestrator(t *testing.T, store *memory.Store, agents ...agent.Agent) *Orchestrator {
	t.Helper()
	logger := zap.NewNop()
	registry := agent.NewRegistry()
	for _, a := range agents {
		require.NoError(t, registry.Register(a))
	}
	engine := policy.NewEngine(domain.DefaultRules(), store, nil, nil, nil, logger)
	exec := executor.New(store, nil, notify.Nop{}, nil, nil, logger)
	return New(registry, store, engine, exec, nil, nil, logger)
}

func okOutput(proposals ...agent.Proposal) *agent.Output {
	return &agent.Output{
		Success: true,
		Summary: "fine",
		Actions: proposals,
	}
}

func TestRunAgentPersistsRunAndActions(t *testing.T) {
	store := memory.New()
	ag := &scriptedAgent{agentType: "alpha", output: okOutput(agent.Proposal{
		Type:             "update_health_score",
		Name:             "score refresh",
		Confidence:       0.9,
		RiskLevel:        domain.RiskLow,
		Scope:            domain.ScopeIndividual,
		AffectedEntities: 1,
		RequiresApproval: true,
	})}
	o := newTestOrchestrator(t, store, ag)

	run, err := o.RunAgent(context.Background(), ag, domain.TriggerOnDemand, "tester", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 1, run.ActionsProposed)
	assert.Equal(t, map[string]any{"default": true}, run.Input)

	runs, err := store.ListRuns(context.Background(), "alpha", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	pending, err := store.ListPendingActions(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, run.ID, pending[0].RunID)
	assert.Equal(t, domain.StatusPending, pending[0].Status)
}

func TestRunAgentValidationFailure(t *testing.T) {
	store := memory.New()
	ag := &scriptedAgent{
		agentType: "alpha",
		validate: func(map[string]any) agent.Validation {
			return agent.Validation{Valid: false, Errors: []string{"bad input"}}
		},
	}
	o := newTestOrchestrator(t, store, ag)

	run, err := o.RunAgent(context.Background(), ag, domain.TriggerOnDemand, "tester", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Contains(t, run.Error, "bad input")
	assert.Zero(t, ag.calls, "execute must not run on invalid input")

	// Failed runs are persisted too.
	runs, _ := store.ListRuns(context.Background(), "alpha", 0)
	assert.Len(t, runs, 1)
}

func TestNoApprovalTypesExecuteImmediately(t *testing.T) {
	store := memory.New()
	// send_slack does not require approval, and the agent agrees: the
	// proposal skips the queue and runs in the same call.
	ag := &scriptedAgent{agentType: "alpha", output: okOutput(agent.Proposal{
		Type:      "send_slack",
		Name:      "digest",
		RiskLevel: domain.RiskLow,
	})}
	o := newTestOrchestrator(t, store, ag)

	_, err := o.RunAgent(context.Background(), ag, domain.TriggerOnDemand, "tester", nil)
	require.NoError(t, err)

	pending, _ := store.ListPendingActions(context.Background(), 10, 0)
	assert.Empty(t, pending)

	all := store.AllActions()
	require.Len(t, all, 1)
	assert.Equal(t, domain.StatusExecuted, all[0].Status)
	require.NotNil(t, all[0].ExecutedBy)
	assert.Equal(t, "orchestrator", *all[0].ExecutedBy)
}

func TestUnknownProposalTypeForcedPending(t *testing.T) {
	store := memory.New()
	ag := &scriptedAgent{agentType: "alpha", output: okOutput(agent.Proposal{
		Type:             "time_travel",
		Name:             "novel idea",
		RequiresApproval: false,
	})}
	o := newTestOrchestrator(t, store, ag)

	_, err := o.RunAgent(context.Background(), ag, domain.TriggerOnDemand, "tester", nil)
	require.NoError(t, err)

	pending, _ := store.ListPendingActions(context.Background(), 10, 0)
	require.Len(t, pending, 1)
	assert.Equal(t, "time_travel", pending[0].Type)
}

func TestRunCycleIsolatesFailures(t *testing.T) {
	store := memory.New()
	good := &scriptedAgent{agentType: "good", output: okOutput()}
	bad := &scriptedAgent{agentType: "bad", err: errors.New("model exploded")}
	o := newTestOrchestrator(t, store, good, bad)

	summary, err := o.RunCycle(context.Background(), []string{"bad", "good", "ghost"}, false, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RunsCompleted)
	assert.Equal(t, 1, summary.RunsFailed)
	assert.Equal(t, 1, summary.AgentsSkipped)
	assert.Equal(t, 1, good.calls)
}

func TestRunCycleProcessesPendingBacklog(t *testing.T) {
	store := memory.New()
	ag := &scriptedAgent{agentType: "alpha", output: okOutput(
		agent.Proposal{Type: "update_health_score", Name: "auto", Confidence: 0.95, RiskLevel: domain.RiskLow, Scope: domain.ScopeIndividual, AffectedEntities: 1, RequiresApproval: true,
			Payload: map[string]any{"entity_id": "acct-aurora", "score": 72.0}},
		agent.Proposal{Type: "schedule_outreach", Name: "review", Confidence: 0.7, RiskLevel: domain.RiskMedium, Scope: domain.ScopeIndividual, AffectedEntities: 1, RequiresApproval: true},
		agent.Proposal{Type: "adjust_engagement_plan", Name: "escalate", Confidence: 0.6, RiskLevel: domain.RiskLow, Scope: domain.ScopeSegment, AffectedEntities: 500, RequiresApproval: true},
	)}
	o := newTestOrchestrator(t, store, ag)

	summary, err := o.RunCycle(context.Background(), []string{"alpha"}, true, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ActionsCreated)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.AutoApproved)
	assert.Equal(t, 1, summary.Queued)
	assert.Equal(t, 1, summary.Escalated)
	assert.Equal(t, 1, summary.Executed)
	assert.NotEmpty(t, summary.Insights)
}

func TestRunCycleExecutesAutoApprovedBacklog(t *testing.T) {
	store := memory.New()
	o := newTestOrchestrator(t, store)
	ctx := context.Background()

	// A pending low-risk high-confidence action: the policy engine
	// auto-approves it, and the same cycle must run it.
	require.NoError(t, store.CreateAction(ctx, &domain.ProposedAction{
		ID:               "backlog-1",
		Type:             "update_health_score",
		Name:             "score refresh",
		Payload:          map[string]any{"entity_id": "acct-aurora", "score": 64.0},
		Confidence:       0.95,
		RiskLevel:        domain.RiskLow,
		Scope:            domain.ScopeIndividual,
		AffectedEntities: 1,
		Status:           domain.StatusPending,
	}))

	summary, err := o.RunCycle(ctx, nil, true, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AutoApproved)
	assert.Equal(t, 1, summary.Executed)
	assert.Zero(t, summary.ExecutionsFailed)

	got, err := store.GetAction(ctx, "backlog-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExecuted, got.Status)
	require.NotNil(t, got.ExecutedBy)
	assert.Equal(t, "policy-engine", *got.ExecutedBy)

	// A second cycle over the same backlog is a no-op.
	summary, err = o.RunCycle(ctx, nil, true, 10)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Zero(t, summary.Executed)
}

func TestRunCycleRetriesExecutionsRefusedUnderHold(t *testing.T) {
	store := memory.New()
	logger := zap.NewNop()
	registry := agent.NewRegistry()
	hold := control.NewHoldSwitch(nil, logger)
	engine := policy.NewEngine(domain.DefaultRules(), store, nil, hold, nil, logger)
	exec := executor.New(store, nil, notify.Nop{}, hold, nil, logger)
	o := New(registry, store, engine, exec, nil, nil, logger)
	ctx := context.Background()

	// Approved before the hold, never executed.
	require.NoError(t, store.CreateAction(ctx, &domain.ProposedAction{
		ID:      "held-1",
		Type:    "send_slack",
		Name:    "digest",
		Payload: map[string]any{"channel": "#ops", "message": "hello"},
		Status:  domain.StatusAutoApproved,
	}))

	require.NoError(t, hold.Engage(ctx, "quarterly audit"))
	summary, err := o.RunCycle(ctx, nil, true, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ExecutionsFailed)
	got, _ := store.GetAction(ctx, "held-1")
	assert.Equal(t, domain.StatusAutoApproved, got.Status)

	require.NoError(t, hold.Release(ctx))
	summary, err = o.RunCycle(ctx, nil, true, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Executed)
	got, _ = store.GetAction(ctx, "held-1")
	assert.Equal(t, domain.StatusExecuted, got.Status)
}

func TestRunCycleQueueAlert(t *testing.T) {
	store := memory.New()
	proposals := make([]agent.Proposal, 0, 5)
	for i := 0; i < 5; i++ {
		proposals = append(proposals, agent.Proposal{
			Type:             "schedule_outreach",
			Name:             "review me",
			Confidence:       0.7,
			RiskLevel:        domain.RiskMedium,
			Scope:            domain.ScopeIndividual,
			AffectedEntities: 1,
			RequiresApproval: true,
		})
	}
	ag := &scriptedAgent{agentType: "alpha", output: okOutput(proposals...)}
	o := newTestOrchestrator(t, store, ag)
	o.QueueAlertThreshold = 3

	summary, err := o.RunCycle(context.Background(), []string{"alpha"}, true, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Queued)

	found := false
	for _, al := range summary.Alerts {
		if al.Title == "Large approval queue" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunAgentByTypeUnknown(t *testing.T) {
	store := memory.New()
	o := newTestOrchestrator(t, store)

	_, err := o.RunAgentByType(context.Background(), "ghost", domain.TriggerOnDemand, "tester", nil)
	assert.Error(t, err)
}
