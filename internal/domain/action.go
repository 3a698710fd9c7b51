package domain

import (
	"errors"
	"time"
)

// ActionStatus is the state machine of a proposed action.
// Transitions are monotonic: once an action leaves pending it never returns.
type ActionStatus string

const (
	StatusPending      ActionStatus = "pending"
	StatusAutoApproved ActionStatus = "auto_approved"
	StatusApproved     ActionStatus = "approved"
	StatusRejected     ActionStatus = "rejected"
	StatusExecuted     ActionStatus = "executed"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type ImpactScope string

const (
	ScopeIndividual ImpactScope = "individual"
	ScopeSegment    ImpactScope = "segment"
	ScopePortfolio  ImpactScope = "portfolio"
)

var (
	ErrInvalidTransition = errors.New("invalid action status transition")
	ErrAlreadyDecided    = errors.New("action already decided")
	ErrAlreadyTerminal   = errors.New("action is in a terminal state")
)

// ProposedAction is a unit of work an agent wants performed, subject to
// the approval workflow. Created by the orchestrator, classified by the
// policy engine, executed by the executor. Never deleted.
type ProposedAction struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	AgentType string `json:"agent_type"`

	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Reasoning string         `json:"reasoning"`
	Payload   map[string]any `json:"payload"`

	Confidence       float64     `json:"confidence"`
	RiskLevel        RiskLevel   `json:"risk_level"`
	Scope            ImpactScope `json:"scope"`
	AffectedEntities int         `json:"affected_entities"`

	Status ActionStatus `json:"status"`

	// Escalated keeps the action pending but raises review priority.
	Escalated        bool   `json:"escalated"`
	RequiresReviewBy string `json:"requires_review_by,omitempty"`
	MatchedRuleID    string `json:"matched_rule_id,omitempty"`

	DecidedBy  *string        `json:"decided_by,omitempty"`
	ExecutedBy *string        `json:"executed_by,omitempty"`
	ExecutedAt *time.Time     `json:"executed_at,omitempty"`
	Output     map[string]any `json:"output,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether no further transition is possible.
func (a *ProposedAction) Terminal() bool {
	return a.Status == StatusRejected || a.Status == StatusExecuted
}

// CanTransitionTo checks the state machine rules before any mutation.
func (a *ProposedAction) CanTransitionTo(next ActionStatus) error {
	if a.Terminal() {
		return ErrAlreadyTerminal
	}
	switch a.Status {
	case StatusPending:
		switch next {
		case StatusAutoApproved, StatusApproved, StatusRejected:
			return nil
		}
	case StatusAutoApproved, StatusApproved:
		if next == StatusExecuted {
			return nil
		}
		if next == StatusApproved || next == StatusAutoApproved || next == StatusRejected {
			return ErrAlreadyDecided
		}
	}
	return ErrInvalidTransition
}

// Approvable reports whether the executor may act on this action.
func (a *ProposedAction) Approvable() bool {
	return a.Status == StatusApproved || a.Status == StatusAutoApproved
}
