package domain

// Decision is the outcome of approval rule evaluation.
type Decision string

const (
	DecisionAutoApprove   Decision = "auto_approve"
	DecisionRequireReview Decision = "require_review"
	DecisionEscalate      Decision = "escalate"
	DecisionReject        Decision = "reject"
)

// Operator is a comparison applied to one action attribute.
type Operator string

const (
	OpEquals    Operator = "eq"
	OpNotEquals Operator = "neq"
	OpGreater   Operator = "gt"
	OpGreaterEq Operator = "gte"
	OpLess      Operator = "lt"
	OpLessEq    Operator = "lte"
	OpIn        Operator = "in"
	OpNotIn     Operator = "not_in"
)

// Condition fields understood by the policy engine.
const (
	FieldRiskLevel        = "risk_level"
	FieldConfidence       = "confidence"
	FieldScope            = "scope"
	FieldAffectedEntities = "affected_entities"
	FieldActionType       = "action_type"
)

type Condition struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value any      `json:"value"`
}

// ApprovalRule is one ordered rule of the approval policy. Rules are
// configuration: an administrator may replace the active set at runtime.
type ApprovalRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Priority orders evaluation, lower first. The first rule whose
	// conditions all match wins.
	Priority   int         `json:"priority"`
	Conditions []Condition `json:"conditions"`
	Decision   Decision    `json:"decision"`

	// MaxAutoApprovePerHour caps auto-approvals per rolling hour.
	// Zero means uncapped. Only meaningful for auto_approve rules.
	MaxAutoApprovePerHour int `json:"max_auto_approve_per_hour,omitempty"`

	// RequiresReviewBy names the reviewer role for require_review rules.
	RequiresReviewBy string `json:"requires_review_by,omitempty"`

	Enabled bool `json:"enabled"`
}

// DefaultRules is the rule set the control plane ships with. The
// portfolio-wide reject rule is present but disabled; stricter
// governance deployments enable it.
func DefaultRules() []ApprovalRule {
	return []ApprovalRule{
		{
			ID:          "auto-low-risk",
			Name:        "Low-risk high-confidence auto-approval",
			Description: "Low risk actions with confidence at or above 0.8 run without review",
			Priority:    10,
			Conditions: []Condition{
				{Field: FieldRiskLevel, Op: OpEquals, Value: string(RiskLow)},
				{Field: FieldConfidence, Op: OpGreaterEq, Value: 0.8},
			},
			Decision:              DecisionAutoApprove,
			MaxAutoApprovePerHour: 50,
			Enabled:               true,
		},
		{
			ID:          "auto-notifications",
			Name:        "Notification auto-approval",
			Description: "Notification actions of low or medium risk are safe to send",
			Priority:    20,
			Conditions: []Condition{
				{Field: FieldActionType, Op: OpIn, Value: []any{"send_slack", "send_notification"}},
				{Field: FieldRiskLevel, Op: OpIn, Value: []any{string(RiskLow), string(RiskMedium)}},
			},
			Decision:              DecisionAutoApprove,
			MaxAutoApprovePerHour: 50,
			Enabled:               true,
		},
		{
			ID:          "review-medium-risk",
			Name:        "Medium risk review",
			Description: "Medium risk actions wait for a human decision",
			Priority:    30,
			Conditions: []Condition{
				{Field: FieldRiskLevel, Op: OpEquals, Value: string(RiskMedium)},
			},
			Decision: DecisionRequireReview,
			Enabled:  true,
		},
		{
			ID:          "escalate-wide-impact",
			Name:        "Wide impact escalation",
			Description: "Actions touching 100 or more entities need priority review",
			Priority:    40,
			Conditions: []Condition{
				{Field: FieldAffectedEntities, Op: OpGreaterEq, Value: 100},
			},
			Decision: DecisionEscalate,
			Enabled:  true,
		},
		{
			ID:          "review-high-risk",
			Name:        "High risk review",
			Description: "High risk actions require a compliance officer decision",
			Priority:    50,
			Conditions: []Condition{
				{Field: FieldRiskLevel, Op: OpEquals, Value: string(RiskHigh)},
			},
			Decision:         DecisionRequireReview,
			RequiresReviewBy: "compliance_officer",
			Enabled:          true,
		},
		{
			ID:          "reject-portfolio-high-risk",
			Name:        "Portfolio-wide high risk rejection",
			Description: "Portfolio-scope high risk actions are rejected outright",
			Priority:    60,
			Conditions: []Condition{
				{Field: FieldScope, Op: OpEquals, Value: string(ScopePortfolio)},
				{Field: FieldRiskLevel, Op: OpEquals, Value: string(RiskHigh)},
			},
			Decision: DecisionReject,
			Enabled:  false,
		},
	}
}
