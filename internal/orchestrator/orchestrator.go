// Package orchestrator is the coordination entry point: it runs named
// sets of agents, persists their runs, converts proposals into stored
// actions and drives the approval policy over the pending backlog.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinetra/agentplane/internal/agent"
	"github.com/kinetra/agentplane/internal/control"
	"github.com/kinetra/agentplane/internal/domain"
	"github.com/kinetra/agentplane/internal/executor"
	"github.com/kinetra/agentplane/internal/notify"
	"github.com/kinetra/agentplane/internal/policy"
	"github.com/kinetra/agentplane/internal/storage"
)

// CycleSummary aggregates one orchestration cycle.
type CycleSummary struct {
	RunsCompleted  int `json:"runs_completed"`
	RunsFailed     int `json:"runs_failed"`
	AgentsSkipped  int `json:"agents_skipped"`
	ActionsCreated int `json:"actions_created"`

	Processed    int `json:"processed"`
	AutoApproved int `json:"auto_approved"`
	Queued       int `json:"queued"`
	Escalated    int `json:"escalated"`
	Rejected     int `json:"rejected"`

	Executed         int `json:"executed"`
	ExecutionsFailed int `json:"executions_failed"`

	Insights []domain.Insight `json:"insights,omitempty"`
	Alerts   []domain.Alert   `json:"alerts,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

type Orchestrator struct {
	registry *agent.Registry
	store    storage.Store
	policy   *policy.Engine
	exec     *executor.Executor
	notifier notify.Notifier
	logger   *zap.Logger
	metrics  *control.Metrics

	// QueueAlertThreshold controls the "large approval queue" alert.
	QueueAlertThreshold int
}

func New(registry *agent.Registry, store storage.Store, pol *policy.Engine, exec *executor.Executor, notifier notify.Notifier, metrics *control.Metrics, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		registry:            registry,
		store:               store,
		policy:              pol,
		exec:                exec,
		notifier:            notifier,
		logger:              logger.Named("orchestrator"),
		metrics:             metrics,
		QueueAlertThreshold: 25,
	}
}

// RunCycle runs the named agents, then (optionally) evaluates up to
// maxActions pending actions oldest-first through the policy engine.
// One agent's failure never aborts the others.
func (o *Orchestrator) RunCycle(ctx context.Context, agentTypes []string, processPending bool, maxActions int) (*CycleSummary, error) {
	start := time.Now()
	summary := &CycleSummary{StartedAt: start}

	for _, agentType := range agentTypes {
		ag := o.registry.Get(agentType)
		if ag == nil {
			o.logger.Warn("unknown agent type requested, skipping", zap.String("agent_type", agentType))
			summary.AgentsSkipped++
			continue
		}

		run, err := o.RunAgent(ctx, ag, domain.TriggerOnDemand, "orchestrator", nil)
		if err != nil || run.Status == domain.RunFailed {
			summary.RunsFailed++
			continue
		}
		summary.RunsCompleted++
		summary.ActionsCreated += run.ActionsProposed
		summary.Insights = append(summary.Insights, run.Insights...)
	}

	if processPending {
		if err := o.processPending(ctx, maxActions, summary); err != nil {
			// Backlog processing is reported, not fatal: the agent runs
			// above already happened.
			o.logger.Error("pending action processing failed", zap.Error(err))
		}
	}

	o.coordinationFindings(summary)

	summary.DurationMs = time.Since(start).Milliseconds()
	if o.metrics != nil {
		o.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}
	o.logger.Info("cycle finished",
		zap.Int("runs_completed", summary.RunsCompleted),
		zap.Int("runs_failed", summary.RunsFailed),
		zap.Int("actions_created", summary.ActionsCreated),
		zap.Int("processed", summary.Processed),
		zap.Int("executed", summary.Executed),
		zap.Int64("duration_ms", summary.DurationMs))
	return summary, nil
}

// RunAgent executes a single agent and persists the run record plus
// every proposed action. A nil input means the agent's default input.
// The returned run is always persisted, failed or not; the error is
// the persistence error, never the agent's.
func (o *Orchestrator) RunAgent(ctx context.Context, ag agent.Agent, trigger domain.TriggerType, triggeredBy string, input map[string]any) (*domain.AgentRun, error) {
	def := ag.Definition()
	if input == nil {
		input = ag.DefaultInput()
	}

	run := &domain.AgentRun{
		ID:           uuid.New().String(),
		AgentType:    def.Type,
		AgentVersion: def.Version,
		Trigger:      trigger,
		TriggeredBy:  triggeredBy,
		Input:        input,
		StartedAt:    time.Now().UTC(),
	}

	if v := ag.Validate(input); !v.Valid {
		run.Status = domain.RunFailed
		run.Error = fmt.Sprintf("input validation failed: %v", v.Errors)
		run.FinishedAt = time.Now().UTC()
		o.finishRun(ctx, run)
		return run, nil
	}

	out, err := ag.Execute(ctx, input, agent.RunContext{
		RunID:       run.ID,
		Trigger:     trigger,
		TriggeredBy: triggeredBy,
		Logger:      o.logger.Named(def.Type),
	})
	run.FinishedAt = time.Now().UTC()

	if err != nil || out == nil || !out.Success {
		run.Status = domain.RunFailed
		if err != nil {
			run.Error = err.Error()
		} else if out != nil {
			run.Error = out.Summary
		}
		o.logger.Warn("agent run failed",
			zap.String("agent_type", def.Type),
			zap.String("run_id", run.ID),
			zap.String("error", run.Error))
		o.finishRun(ctx, run)
		return run, nil
	}

	run.Status = domain.RunCompleted
	run.Summary = out.Summary
	run.Insights = out.Insights
	run.Alerts = out.Alerts
	run.Metrics = out.Metrics
	run.ActionsProposed = len(out.Actions)

	if err := o.store.CreateRun(ctx, run); err != nil {
		return run, fmt.Errorf("orchestrator: persist run for %s: %w", def.Type, err)
	}

	for _, p := range out.Actions {
		a, err := o.createAction(ctx, run, p)
		if err != nil {
			o.logger.Error("failed to persist proposed action",
				zap.String("run_id", run.ID),
				zap.String("action_type", p.Type),
				zap.Error(err))
			continue
		}
		// Proposals needing no approval run right away; a refusal (hold,
		// rate limit) leaves the action auto_approved for the next
		// cycle's drain.
		if a.Status == domain.StatusAutoApproved {
			o.executeApproved(ctx, a, "orchestrator", nil)
		}
	}

	o.forwardAlerts(ctx, def.Type, out.Alerts)
	if o.metrics != nil {
		o.metrics.AgentRuns.WithLabelValues(def.Type, string(run.Status)).Inc()
	}
	return run, nil
}

// RunAgentByType is RunAgent with a registry lookup.
func (o *Orchestrator) RunAgentByType(ctx context.Context, agentType string, trigger domain.TriggerType, triggeredBy string, input map[string]any) (*domain.AgentRun, error) {
	ag := o.registry.Get(agentType)
	if ag == nil {
		return nil, fmt.Errorf("orchestrator: unknown agent type %q", agentType)
	}
	return o.RunAgent(ctx, ag, trigger, triggeredBy, input)
}

func (o *Orchestrator) createAction(ctx context.Context, run *domain.AgentRun, p agent.Proposal) (*domain.ProposedAction, error) {
	status := domain.StatusPending
	requiresApproval := p.RequiresApproval
	// The capability catalog can waive approval even when the agent
	// asked for it not to; the stricter of the two wins.
	if c, ok := o.exec.Capability(p.Type); ok {
		requiresApproval = requiresApproval || c.RequiresApproval
	} else {
		// Unknown types always go through review; the executor will
		// refuse them anyway, a human should see why.
		requiresApproval = true
	}
	if !requiresApproval {
		status = domain.StatusAutoApproved
	}

	now := time.Now().UTC()
	a := &domain.ProposedAction{
		ID:               uuid.New().String(),
		RunID:            run.ID,
		AgentType:        run.AgentType,
		Type:             p.Type,
		Name:             p.Name,
		Reasoning:        p.Reasoning,
		Payload:          p.Payload,
		Confidence:       p.Confidence,
		RiskLevel:        p.RiskLevel,
		Scope:            p.Scope,
		AffectedEntities: p.AffectedEntities,
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.store.CreateAction(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// executeApproved hands one auto-approved action to the executor. The
// executor never panics past its boundary, so a failure here is a
// structured result to count and log, not an error to propagate.
func (o *Orchestrator) executeApproved(ctx context.Context, a *domain.ProposedAction, actor string, summary *CycleSummary) {
	res := o.exec.Execute(ctx, a, actor)
	if res.Success {
		if summary != nil {
			summary.Executed++
		}
		return
	}
	if summary != nil {
		summary.ExecutionsFailed++
	}
	o.logger.Warn("auto-approved action did not execute",
		zap.String("action_id", a.ID),
		zap.String("action_type", a.Type),
		zap.String("status", res.Status),
		zap.String("error", res.Error))
}

func (o *Orchestrator) processPending(ctx context.Context, maxActions int, summary *CycleSummary) error {
	if maxActions <= 0 {
		maxActions = 50
	}
	pending, err := o.store.ListPendingActions(ctx, maxActions, 0)
	if err != nil {
		return fmt.Errorf("orchestrator: list pending actions: %w", err)
	}

	for _, a := range pending {
		ev, err := o.policy.Process(ctx, a)
		if err != nil {
			// One action's storage failure must not stop the batch.
			o.logger.Error("policy processing failed",
				zap.String("action_id", a.ID), zap.Error(err))
			continue
		}
		summary.Processed++
		switch ev.Decision {
		case domain.DecisionAutoApprove:
			summary.AutoApproved++
		case domain.DecisionRequireReview:
			summary.Queued++
		case domain.DecisionEscalate:
			summary.Escalated++
		case domain.DecisionReject:
			summary.Rejected++
		}
	}

	// Drain the auto-approved backlog: actions classified above plus
	// anything a previous cycle could not execute (a hold that has
	// since lifted, an exhausted rate window that has reset).
	approved, err := o.store.ListAutoApprovedActions(ctx, maxActions)
	if err != nil {
		return fmt.Errorf("orchestrator: list auto-approved actions: %w", err)
	}
	for _, a := range approved {
		o.executeApproved(ctx, a, "policy-engine", summary)
	}
	return nil
}

// coordinationFindings emits cycle-level insights and alerts.
func (o *Orchestrator) coordinationFindings(summary *CycleSummary) {
	if summary.Processed > 0 || summary.Executed > 0 {
		summary.Insights = append(summary.Insights, domain.Insight{
			Category: "coordination",
			Message: fmt.Sprintf("processed %d pending actions: %d auto-approved, %d queued, %d escalated, %d rejected; %d executed, %d execution failures",
				summary.Processed, summary.AutoApproved, summary.Queued, summary.Escalated, summary.Rejected,
				summary.Executed, summary.ExecutionsFailed),
		})
	}
	queueDepth := summary.Queued + summary.Escalated
	if o.QueueAlertThreshold > 0 && queueDepth >= o.QueueAlertThreshold {
		summary.Alerts = append(summary.Alerts, domain.Alert{
			Severity: "warning",
			Title:    "Large approval queue",
			Message:  fmt.Sprintf("%d actions are waiting for human review", queueDepth),
		})
	}
	if summary.RunsFailed > 0 {
		summary.Alerts = append(summary.Alerts, domain.Alert{
			Severity: "warning",
			Title:    "Agent runs failed",
			Message:  fmt.Sprintf("%d of %d agent runs failed this cycle", summary.RunsFailed, summary.RunsFailed+summary.RunsCompleted),
		})
	}
}

// finishRun persists a failed run record best-effort. The failure is
// already captured on the run itself; a storage error here is logged
// with enough context to replay manually.
func (o *Orchestrator) finishRun(ctx context.Context, run *domain.AgentRun) {
	if err := o.store.CreateRun(ctx, run); err != nil {
		o.logger.Error("failed to persist run record",
			zap.String("run_id", run.ID),
			zap.String("agent_type", run.AgentType),
			zap.Error(err))
	}
	if o.metrics != nil {
		o.metrics.AgentRuns.WithLabelValues(run.AgentType, string(run.Status)).Inc()
	}
}

// forwardAlerts pushes high-severity agent alerts to the ticketing
// collaborator. Failures are logged, never propagated.
func (o *Orchestrator) forwardAlerts(ctx context.Context, agentType string, alerts []domain.Alert) {
	if o.notifier == nil {
		return
	}
	for _, al := range alerts {
		if al.Severity != "high" {
			continue
		}
		err := o.notifier.Send(ctx, notify.Message{
			Severity: al.Severity,
			Title:    al.Title,
			Body:     al.Message,
			Fields:   map[string]string{"agent": agentType},
		})
		if err != nil {
			o.logger.Warn("alert forwarding failed",
				zap.String("agent_type", agentType),
				zap.String("alert", al.Title),
				zap.Error(err))
		}
	}
}
