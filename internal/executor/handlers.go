package executor

import (
	"context"
	"fmt"

	"github.com/kinetra/agentplane/internal/domain"
	"github.com/kinetra/agentplane/internal/notify"
)

// Handler performs the real work of one action type: payload in,
// structured output out. Handlers return errors instead of mutating
// action state; the executor owns all state transitions.
type Handler func(ctx context.Context, a *domain.ProposedAction) (map[string]any, error)

// defaultHandlers wires the type-specific handlers. Types present in
// the capability catalog but absent here fall through to the generic
// stub.
func defaultHandlers(notifier notify.Notifier) map[string]Handler {
	send := func(severity string) Handler {
		return func(ctx context.Context, a *domain.ProposedAction) (map[string]any, error) {
			msg := notify.Message{
				Severity: severity,
				Title:    a.Name,
				Body:     payloadString(a.Payload, "message"),
				Channel:  payloadString(a.Payload, "channel"),
				Fields:   map[string]string{"action_id": a.ID, "agent": a.AgentType},
			}
			if err := notifier.Send(ctx, msg); err != nil {
				return nil, fmt.Errorf("send notification: %w", err)
			}
			return map[string]any{"delivered": true, "channel": msg.Channel}, nil
		}
	}

	return map[string]Handler{
		"send_slack":        send("info"),
		"send_notification": send("info"),

		"create_ticket": func(ctx context.Context, a *domain.ProposedAction) (map[string]any, error) {
			msg := notify.Message{
				Severity: "warning",
				Title:    "Ticket: " + a.Name,
				Body:     a.Reasoning,
				Fields:   map[string]string{"action_id": a.ID, "priority": payloadString(a.Payload, "priority")},
			}
			if err := notifier.Send(ctx, msg); err != nil {
				return nil, fmt.Errorf("create ticket: %w", err)
			}
			return map[string]any{"ticket_created": true}, nil
		},

		"update_health_score": func(ctx context.Context, a *domain.ProposedAction) (map[string]any, error) {
			entity := payloadString(a.Payload, "entity_id")
			if entity == "" {
				return nil, fmt.Errorf("update_health_score: payload missing entity_id")
			}
			score, ok := payloadNumber(a.Payload, "score")
			if !ok || score < 0 || score > 100 {
				return nil, fmt.Errorf("update_health_score: score must be within [0,100]")
			}
			return map[string]any{
				"entity_id": entity,
				"score":     score,
				"applied":   true,
			}, nil
		},

		"export_bulk_data": func(ctx context.Context, a *domain.ProposedAction) (map[string]any, error) {
			return map[string]any{
				"export_started": true,
				"record_count":   a.AffectedEntities,
				"include_phi":    payloadFlag(a.Payload, "includePhi", "include_phi"),
			}, nil
		},
	}
}

// genericHandler is the fallback for capability-registered types
// without a dedicated handler.
func genericHandler(ctx context.Context, a *domain.ProposedAction) (map[string]any, error) {
	return map[string]any{"status": "executed", "action_type": a.Type}, nil
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func payloadNumber(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
