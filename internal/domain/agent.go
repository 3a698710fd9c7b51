package domain

import "time"

type TriggerType string

const (
	TriggerScheduled TriggerType = "scheduled"
	TriggerOnDemand  TriggerType = "on_demand"
)

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// TriggerConfig binds an agent type to its schedule.
type TriggerConfig struct {
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	OnDemand bool   `json:"on_demand"`
}

// AgentDefinition is the static metadata of an agent type.
// Immutable after registration, one per agent type.
type AgentDefinition struct {
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	Capabilities []string       `json:"capabilities"`
	DefaultInput map[string]any `json:"default_input"`
	Trigger      TriggerConfig  `json:"trigger"`
}

// Insight is a single analytical finding emitted by an agent run.
type Insight struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Alert is an attention-worthy condition emitted by an agent run.
// High-severity alerts may be forwarded to the ticketing collaborator.
type Alert struct {
	Severity string `json:"severity"` // info, warning, high
	Title    string `json:"title"`
	Message  string `json:"message"`
}

// AgentRun is one execution record. Created at run start, finalized at
// run end, append-only afterward.
type AgentRun struct {
	ID           string `json:"id"`
	AgentType    string `json:"agent_type"`
	AgentVersion string `json:"agent_version"`

	Trigger     TriggerType    `json:"trigger"`
	TriggeredBy string         `json:"triggered_by"`
	Input       map[string]any `json:"input"`

	Status  RunStatus `json:"status"`
	Summary string    `json:"summary"`
	Error   string    `json:"error,omitempty"`

	Insights []Insight          `json:"insights,omitempty"`
	Alerts   []Alert            `json:"alerts,omitempty"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`

	ActionsProposed int `json:"actions_proposed"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
