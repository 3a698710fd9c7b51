package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kinetra/agentplane/internal/agent"
	"github.com/kinetra/agentplane/internal/domain"
)

// signal is one upstream analytics observation the synthesizer folds
// into its digest. Compiled-in sample data, same rationale as the
// scorer roster.
type signal struct {
	Category string
	Weight   float64
	Message  string
}

var signalFeed = []signal{
	{Category: "channel_mix", Weight: 0.8, Message: "Email open rates down 12% quarter over quarter in the specialty segment"},
	{Category: "channel_mix", Weight: 0.5, Message: "Virtual lunch-and-learn attendance doubled against the prior period"},
	{Category: "content", Weight: 0.9, Message: "Dosing-guide downloads correlate with 2.1x higher follow-up acceptance"},
	{Category: "content", Weight: 0.3, Message: "MOA video completion rate flat at 46%"},
	{Category: "timing", Weight: 0.7, Message: "Tuesday morning sends outperform Friday sends by 31% on reply rate"},
	{Category: "coverage", Weight: 0.6, Message: "18 high-decile prescribers had no touchpoint in the last 45 days"},
}

// InsightSynthesizer rolls the raw signal feed up into a cross-channel
// digest and proposes broadcasting it to the engagement team.
type InsightSynthesizer struct{}

func NewInsightSynthesizer() *InsightSynthesizer { return &InsightSynthesizer{} }

func (s *InsightSynthesizer) Definition() domain.AgentDefinition {
	return domain.AgentDefinition{
		Type:         "insight_synthesizer",
		Name:         "Insight Synthesizer",
		Version:      "0.9.3",
		Capabilities: []string{"send_slack", "create_ticket"},
		DefaultInput: s.DefaultInput(),
		Trigger: domain.TriggerConfig{
			Cron:     "0 7 * * 1",
			Timezone: "UTC",
			OnDemand: true,
		},
	}
}

func (s *InsightSynthesizer) DefaultInput() map[string]any {
	return map[string]any{
		"min_weight":   0.5,
		"max_insights": 5,
		"digest":       true,
	}
}

func (s *InsightSynthesizer) Validate(input map[string]any) agent.Validation {
	var errs []string
	if _, ok := input["min_weight"]; ok {
		if w := asFloat(input, "min_weight", -1); w < 0 || w > 1 {
			errs = append(errs, "min_weight must be between 0 and 1")
		}
	}
	if _, ok := input["max_insights"]; ok {
		if n := asInt(input, "max_insights", 0); n < 1 {
			errs = append(errs, "max_insights must be at least 1")
		}
	}
	return agent.Validation{Valid: len(errs) == 0, Errors: errs}
}

func (s *InsightSynthesizer) Execute(ctx context.Context, input map[string]any, rc agent.RunContext) (*agent.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	minWeight := asFloat(input, "min_weight", 0.5)
	maxInsights := asInt(input, "max_insights", 5)
	digest := true
	if v, ok := input["digest"].(bool); ok {
		digest = v
	}

	picked := make([]signal, 0, len(signalFeed))
	for _, sig := range signalFeed {
		if sig.Weight >= minWeight {
			picked = append(picked, sig)
		}
	}
	sort.SliceStable(picked, func(i, j int) bool { return picked[i].Weight > picked[j].Weight })
	if len(picked) > maxInsights {
		picked = picked[:maxInsights]
	}

	out := &agent.Output{Success: true, Metrics: map[string]float64{
		"signals_in":    float64(len(signalFeed)),
		"insights_kept": float64(len(picked)),
	}}

	var lines []string
	for _, sig := range picked {
		out.Insights = append(out.Insights, domain.Insight{Category: sig.Category, Message: sig.Message})
		lines = append(lines, fmt.Sprintf("[%s] %s", sig.Category, sig.Message))
	}

	if digest && len(picked) > 0 {
		out.Actions = append(out.Actions, agent.Proposal{
			Type:      "send_slack",
			Name:      "Weekly engagement insight digest",
			Reasoning: fmt.Sprintf("%d signals cleared the %.1f weight floor", len(picked), minWeight),
			Payload: map[string]any{
				"channel": "#engagement-insights",
				"text":    strings.Join(lines, "\n"),
			},
			Confidence:       0.85,
			RiskLevel:        domain.RiskLow,
			Scope:            domain.ScopeIndividual,
			AffectedEntities: 1,
			RequiresApproval: true,
		})
	}

	// Coverage gaps are actionable beyond the digest.
	for _, sig := range picked {
		if sig.Category == "coverage" {
			out.Actions = append(out.Actions, agent.Proposal{
				Type:      "create_ticket",
				Name:      "Close prescriber coverage gap",
				Reasoning: sig.Message,
				Payload: map[string]any{
					"queue":    "field-ops",
					"priority": "high",
					"summary":  sig.Message,
				},
				Confidence:       0.75,
				RiskLevel:        domain.RiskMedium,
				Scope:            domain.ScopeSegment,
				AffectedEntities: 18,
				RequiresApproval: true,
			})
		}
	}

	out.Summary = fmt.Sprintf("synthesized %d insights from %d signals", len(picked), len(signalFeed))
	return out, nil
}
