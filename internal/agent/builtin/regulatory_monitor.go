package builtin

import (
	"context"
	"fmt"

	"github.com/kinetra/agentplane/internal/agent"
	"github.com/kinetra/agentplane/internal/domain"
)

// feedItem is one entry from the regulatory intelligence feed.
type feedItem struct {
	ID       string
	Source   string
	Severity string // info, advisory, mandate
	Title    string
	Affects  []string // impacted engagement programs
}

var regulatoryFeed = []feedItem{
	{
		ID: "reg-2031", Source: "FDA", Severity: "advisory",
		Title:   "Updated promotional labeling guidance for oncology communications",
		Affects: []string{"oncology-awareness"},
	},
	{
		ID: "reg-2032", Source: "EMA", Severity: "info",
		Title:   "Annual pharmacovigilance reporting calendar published",
		Affects: nil,
	},
	{
		ID: "reg-2033", Source: "FDA", Severity: "mandate",
		Title:   "Revised sunshine-act disclosure thresholds effective next quarter",
		Affects: []string{"speaker-program", "advisory-board"},
	},
}

// RegulatoryMonitor scans the regulatory feed and raises compliance
// reviews for items that touch active engagement programs.
type RegulatoryMonitor struct{}

func NewRegulatoryMonitor() *RegulatoryMonitor { return &RegulatoryMonitor{} }

func (m *RegulatoryMonitor) Definition() domain.AgentDefinition {
	return domain.AgentDefinition{
		Type:         "regulatory_feed_monitor",
		Name:         "Regulatory Feed Monitor",
		Version:      "1.0.1",
		Capabilities: []string{"flag_compliance_review", "create_ticket", "send_notification"},
		DefaultInput: m.DefaultInput(),
		Trigger: domain.TriggerConfig{
			Cron:     "*/30 * * * *",
			Timezone: "UTC",
			OnDemand: true,
		},
	}
}

func (m *RegulatoryMonitor) DefaultInput() map[string]any {
	return map[string]any{
		"min_severity": "advisory",
		"sources":      "all",
	}
}

var severityRank = map[string]int{"info": 0, "advisory": 1, "mandate": 2}

func (m *RegulatoryMonitor) Validate(input map[string]any) agent.Validation {
	var errs []string
	if v, ok := input["min_severity"]; ok {
		s, _ := v.(string)
		if _, known := severityRank[s]; !known {
			errs = append(errs, "min_severity must be one of info, advisory, mandate")
		}
	}
	return agent.Validation{Valid: len(errs) == 0, Errors: errs}
}

func (m *RegulatoryMonitor) Execute(ctx context.Context, input map[string]any, rc agent.RunContext) (*agent.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	minSeverity := asString(input, "min_severity", "advisory")
	source := asString(input, "sources", "all")
	floor := severityRank[minSeverity]

	out := &agent.Output{Success: true, Metrics: map[string]float64{}}

	var matched, mandates int
	for _, item := range regulatoryFeed {
		if source != "all" && item.Source != source {
			continue
		}
		if severityRank[item.Severity] < floor {
			continue
		}
		matched++

		out.Insights = append(out.Insights, domain.Insight{
			Category: "regulatory",
			Message:  fmt.Sprintf("%s %s: %s", item.Source, item.Severity, item.Title),
		})

		if len(item.Affects) == 0 {
			continue
		}

		risk := domain.RiskMedium
		if item.Severity == "mandate" {
			risk = domain.RiskHigh
			mandates++
			out.Alerts = append(out.Alerts, domain.Alert{
				Severity: "high",
				Title:    fmt.Sprintf("Regulatory mandate touches %d programs", len(item.Affects)),
				Message:  item.Title,
			})
		}

		for _, program := range item.Affects {
			out.Actions = append(out.Actions, agent.Proposal{
				Type:      "flag_compliance_review",
				Name:      fmt.Sprintf("Compliance review of %s for %s", program, item.ID),
				Reasoning: fmt.Sprintf("%s item %s (%s) names this program", item.Source, item.ID, item.Severity),
				Payload: map[string]any{
					"program":   program,
					"item_id":   item.ID,
					"source":    item.Source,
					"severity":  item.Severity,
					"reference": item.Title,
				},
				Confidence:       0.95,
				RiskLevel:        risk,
				Scope:            domain.ScopeSegment,
				AffectedEntities: 1,
				RequiresApproval: true,
			})
		}
	}

	out.Metrics["feed_items_matched"] = float64(matched)
	out.Metrics["mandates"] = float64(mandates)
	out.Summary = fmt.Sprintf("matched %d feed items, %d mandates", matched, mandates)
	return out, nil
}
