// Package executor runs approved actions: pre-checks (capability
// lookup, rate limit, compliance guardrails), type-specific dispatch,
// state transition and audit. Every failure is a structured Result,
// never an error thrown past the executor boundary, so batch callers
// keep going.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinetra/agentplane/internal/audit"
	"github.com/kinetra/agentplane/internal/control"
	"github.com/kinetra/agentplane/internal/domain"
	"github.com/kinetra/agentplane/internal/notify"
	"github.com/kinetra/agentplane/internal/storage"
)

// Result is the structured outcome of one execution attempt.
type Result struct {
	Success bool   `json:"success"`
	Status  string `json:"status"` // executed, refused, vetoed, failed

	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`

	// SecondsUntilReset is set on rate-limit refusals.
	SecondsUntilReset int64 `json:"seconds_until_reset,omitempty"`
	DurationMs        int64 `json:"duration_ms"`
}

type Executor struct {
	store    storage.Store
	auditor  *audit.Writer
	hold     *control.HoldSwitch
	caps     map[string]Capability
	handlers map[string]Handler
	limits   *typeLimiter
	logger   *zap.Logger
	metrics  *control.Metrics

	now func() time.Time
}

func New(store storage.Store, auditor *audit.Writer, notifier notify.Notifier, hold *control.HoldSwitch, metrics *control.Metrics, logger *zap.Logger) *Executor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Executor{
		store:    store,
		auditor:  auditor,
		hold:     hold,
		caps:     Catalog(),
		handlers: defaultHandlers(notifier),
		limits:   newTypeLimiter(),
		logger:   logger.Named("executor"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Capability exposes catalog metadata, e.g. so the orchestrator can
// decide whether a proposal needs approval at all.
func (x *Executor) Capability(actionType string) (Capability, bool) {
	c, ok := x.caps[actionType]
	return c, ok
}

// Execute runs one approved action on behalf of executedBy.
func (x *Executor) Execute(ctx context.Context, a *domain.ProposedAction, executedBy string) Result {
	start := x.now()

	// Re-running a terminal action must not double side effects: no
	// handler call, no rate-limit consumption, no audit entry.
	if a.Terminal() {
		return x.refused(fmt.Sprintf("action %s is already %s", a.ID, a.Status), "terminal", start)
	}
	if !a.Approvable() {
		return x.refused(fmt.Sprintf("action %s is not approved (status %s)", a.ID, a.Status), "not_approved", start)
	}

	c, ok := x.caps[a.Type]
	if !ok {
		return x.refused(fmt.Sprintf("unknown action type %q", a.Type), "unknown_type", start)
	}

	if held, reason := x.heldState(); held {
		return x.refused("compliance hold active: "+reason, "hold", start)
	}

	if ok, wait := x.limits.check(a.Type, c.RatePerHour, start); !ok {
		res := x.refused(fmt.Sprintf("hourly rate limit reached for %s (%d/hr)", a.Type, c.RatePerHour), "rate_limit", start)
		res.SecondsUntilReset = wait
		return res
	}

	guard := evaluateGuardrails(a, c)
	if guard.blocked {
		x.countError("guardrail")
		x.audit(a, c, executedBy, "vetoed", nil, guard.message, start)
		return Result{
			Status:     "vetoed",
			Error:      guard.message,
			Warnings:   guard.warnings,
			DurationMs: x.sinceMs(start),
		}
	}

	handler, ok := x.handlers[a.Type]
	if !ok {
		handler = genericHandler
	}

	output, err := handler(ctx, a)
	if err != nil {
		// The action stays in its approved state so a retry is possible.
		x.countError("handler")
		x.logger.Warn("handler failed",
			zap.String("action_id", a.ID),
			zap.String("action_type", a.Type),
			zap.Error(err))
		return Result{
			Status:     "failed",
			Error:      err.Error(),
			Warnings:   guard.warnings,
			DurationMs: x.sinceMs(start),
		}
	}

	if err := x.store.MarkExecuted(ctx, a.ID, executedBy, output); err != nil {
		x.countError("storage")
		x.logger.Error("failed to persist execution",
			zap.String("action_id", a.ID), zap.Error(err))
		return Result{
			Status:     "failed",
			Error:      fmt.Sprintf("persist execution: %v", err),
			DurationMs: x.sinceMs(start),
		}
	}

	x.limits.consume(a.Type, start)
	a.Status = domain.StatusExecuted
	a.Output = output

	x.audit(a, c, executedBy, "executed", output, "", start)
	if x.metrics != nil {
		x.metrics.ActionsExecuted.WithLabelValues(a.Type, "executed").Inc()
	}

	return Result{
		Success:    true,
		Status:     "executed",
		Output:     output,
		Warnings:   guard.warnings,
		DurationMs: x.sinceMs(start),
	}
}

func (x *Executor) audit(a *domain.ProposedAction, c Capability, actor, status string, output map[string]any, errMsg string, start time.Time) {
	if x.auditor == nil {
		return
	}
	entry := domain.AuditLogEntry{
		ID:         uuid.New().String(),
		TraceID:    a.RunID,
		Actor:      actor,
		ActionID:   a.ID,
		ActionType: a.Type,
		Category:   c.Category,
		RiskLevel:  c.Risk,
		Mode:       "live",
		Status:     status,
		DurationMs: x.sinceMs(start),
		Error:      errMsg,
		Timestamp:  start,
	}
	// Verbosity decides how much of the output survives: minimal keeps
	// status only, detailed keeps the whole handler output.
	if c.AuditVerbosity == domain.AuditDetailed {
		entry.Output = output
	}
	x.auditor.Log(entry)
}

func (x *Executor) refused(msg, errType string, start time.Time) Result {
	x.countError(errType)
	return Result{
		Status:     "refused",
		Error:      msg,
		DurationMs: x.sinceMs(start),
	}
}

func (x *Executor) countError(errType string) {
	if x.metrics != nil {
		x.metrics.ExecutorErrors.WithLabelValues(errType).Inc()
	}
}

func (x *Executor) heldState() (bool, string) {
	if x.hold == nil {
		return false, ""
	}
	return x.hold.Held()
}

func (x *Executor) sinceMs(start time.Time) int64 {
	return x.now().Sub(start).Milliseconds()
}
