package executor

import "github.com/kinetra/agentplane/internal/domain"

// Capability is the static metadata of one executable action type.
// The catalog is compiled in: an action type without a capability
// entry cannot be executed at all.
type Capability struct {
	Type     string
	Category string
	Risk     domain.RiskLevel

	// RequiresApproval false lets orchestrated proposals of this type
	// start life as auto_approved.
	RequiresApproval bool

	// MaxAutoApproveEntities is the affected-entity ceiling above which
	// the guardrails emit a warning even for approved actions.
	MaxAutoApproveEntities int

	// RatePerHour caps total executions of this action type in one
	// rolling hour, regardless of which rule approved them.
	RatePerHour int

	AuditVerbosity domain.AuditVerbosity
}

// Catalog returns the capability set of the pharma-engagement domain.
func Catalog() map[string]Capability {
	caps := []Capability{
		{
			Type:                   "send_slack",
			Category:               "notification",
			Risk:                   domain.RiskLow,
			RequiresApproval:       false,
			MaxAutoApproveEntities: 500,
			RatePerHour:            120,
			AuditVerbosity:         domain.AuditMinimal,
		},
		{
			Type:                   "send_notification",
			Category:               "notification",
			Risk:                   domain.RiskLow,
			RequiresApproval:       false,
			MaxAutoApproveEntities: 500,
			RatePerHour:            120,
			AuditVerbosity:         domain.AuditMinimal,
		},
		{
			Type:                   "create_ticket",
			Category:               "ticketing",
			Risk:                   domain.RiskLow,
			RequiresApproval:       false,
			MaxAutoApproveEntities: 100,
			RatePerHour:            60,
			AuditVerbosity:         domain.AuditMinimal,
		},
		{
			Type:                   "update_health_score",
			Category:               "scoring",
			Risk:                   domain.RiskMedium,
			RequiresApproval:       true,
			MaxAutoApproveEntities: 100,
			RatePerHour:            200,
			AuditVerbosity:         domain.AuditMinimal,
		},
		{
			Type:                   "schedule_outreach",
			Category:               "engagement",
			Risk:                   domain.RiskMedium,
			RequiresApproval:       true,
			MaxAutoApproveEntities: 50,
			RatePerHour:            50,
			AuditVerbosity:         domain.AuditDetailed,
		},
		{
			Type:                   "adjust_engagement_plan",
			Category:               "engagement",
			Risk:                   domain.RiskHigh,
			RequiresApproval:       true,
			MaxAutoApproveEntities: 25,
			RatePerHour:            20,
			AuditVerbosity:         domain.AuditDetailed,
		},
		{
			Type:                   "export_bulk_data",
			Category:               "data_export",
			Risk:                   domain.RiskHigh,
			RequiresApproval:       true,
			MaxAutoApproveEntities: 0,
			RatePerHour:            10,
			AuditVerbosity:         domain.AuditDetailed,
		},
		{
			Type:                   "flag_compliance_review",
			Category:               "compliance",
			Risk:                   domain.RiskLow,
			RequiresApproval:       false,
			MaxAutoApproveEntities: 200,
			RatePerHour:            100,
			AuditVerbosity:         domain.AuditDetailed,
		},
	}

	out := make(map[string]Capability, len(caps))
	for _, c := range caps {
		out[c.Type] = c
	}
	return out
}
