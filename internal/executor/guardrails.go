package executor

import (
	"fmt"

	"github.com/kinetra/agentplane/internal/domain"
)

// guardrailResult is the verdict of the compliance predicates. A block
// vetoes execution regardless of the approval decision; warnings ride
// along on the result without stopping anything.
type guardrailResult struct {
	blocked  bool
	message  string
	warnings []string
}

// largeImpactWarnLimit triggers a warning for any action affecting an
// unusually large number of entities, independent of its capability.
const largeImpactWarnLimit = 250

func evaluateGuardrails(a *domain.ProposedAction, cap Capability) guardrailResult {
	var res guardrailResult

	// PHI may only leave the system with an explicit authorization flag
	// in the payload. This applies to any action that asks for it, not
	// just the data_export category.
	if payloadFlag(a.Payload, "includePhi", "include_phi") {
		if !payloadFlag(a.Payload, "phiAuthorization", "phi_authorization") {
			res.blocked = true
			res.message = "PHI export requires explicit authorization: set phiAuthorization in the payload"
			return res
		}
		res.warnings = append(res.warnings, "PHI included under explicit authorization")
	}

	if cap.MaxAutoApproveEntities > 0 && a.AffectedEntities > cap.MaxAutoApproveEntities {
		res.warnings = append(res.warnings, fmt.Sprintf(
			"affected entities (%d) above capability threshold (%d)",
			a.AffectedEntities, cap.MaxAutoApproveEntities))
	}
	if a.AffectedEntities > largeImpactWarnLimit {
		res.warnings = append(res.warnings, fmt.Sprintf(
			"unusually large affected-entity count: %d", a.AffectedEntities))
	}
	if a.RiskLevel == domain.RiskHigh {
		res.warnings = append(res.warnings, "high risk action")
	}

	return res
}

func payloadFlag(payload map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			if b, ok := v.(bool); ok && b {
				return true
			}
		}
	}
	return false
}
