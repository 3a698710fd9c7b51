package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/kinetra/agentplane/internal/domain"
)

// Proposal is an action an agent wants the control plane to perform.
// The orchestrator converts it into a persisted domain.ProposedAction.
type Proposal struct {
	Type             string
	Name             string
	Reasoning        string
	Payload          map[string]any
	Confidence       float64
	RiskLevel        domain.RiskLevel
	Scope            domain.ImpactScope
	AffectedEntities int

	// RequiresApproval false lets the action skip the pending queue and
	// start life as auto_approved.
	RequiresApproval bool
}

// Output is everything a single agent execution produced.
type Output struct {
	Success  bool
	Summary  string
	Insights []domain.Insight
	Alerts   []domain.Alert
	Actions  []Proposal
	Metrics  map[string]float64
}

// Validation is the result of checking a typed input map.
type Validation struct {
	Valid  bool
	Errors []string
}

// RunContext carries per-run metadata into Execute. Agents must not
// share mutable state beyond what the caller injects here; callers
// serialize execution per agent type.
type RunContext struct {
	RunID       string
	Trigger     domain.TriggerType
	TriggeredBy string
	Logger      *zap.Logger
}

// Agent is the contract every pluggable analysis agent implements.
// Execute must be safe to run concurrently with other agents.
type Agent interface {
	Definition() domain.AgentDefinition
	Validate(input map[string]any) Validation
	DefaultInput() map[string]any
	Execute(ctx context.Context, input map[string]any, rc RunContext) (*Output, error)
}
