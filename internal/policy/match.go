package policy

import (
	"github.com/kinetra/agentplane/internal/domain"
)

func matchAll(conds []domain.Condition, a *domain.ProposedAction) bool {
	for _, c := range conds {
		if !matchCondition(c, a) {
			return false
		}
	}
	return true
}

func matchCondition(c domain.Condition, a *domain.ProposedAction) bool {
	actual := fieldValue(c.Field, a)
	if actual == nil {
		return false
	}

	switch c.Op {
	case domain.OpEquals:
		return valuesEqual(actual, c.Value)
	case domain.OpNotEquals:
		return !valuesEqual(actual, c.Value)
	case domain.OpGreater, domain.OpGreaterEq, domain.OpLess, domain.OpLessEq:
		av, aok := asNumber(actual)
		cv, cok := asNumber(c.Value)
		if !aok || !cok {
			return false
		}
		switch c.Op {
		case domain.OpGreater:
			return av > cv
		case domain.OpGreaterEq:
			return av >= cv
		case domain.OpLess:
			return av < cv
		default:
			return av <= cv
		}
	case domain.OpIn:
		return inList(actual, c.Value)
	case domain.OpNotIn:
		return !inList(actual, c.Value)
	}
	return false
}

func fieldValue(field string, a *domain.ProposedAction) any {
	switch field {
	case domain.FieldRiskLevel:
		return string(a.RiskLevel)
	case domain.FieldConfidence:
		return a.Confidence
	case domain.FieldScope:
		return string(a.Scope)
	case domain.FieldAffectedEntities:
		return a.AffectedEntities
	case domain.FieldActionType:
		return a.Type
	}
	return nil
}

// valuesEqual compares numerically when both sides coerce to numbers,
// otherwise as strings. Rule values arrive via JSON, so numbers may be
// float64, int, or json.Number-ish strings.
func valuesEqual(a, b any) bool {
	if an, aok := asNumber(a); aok {
		if bn, bok := asNumber(b); bok {
			return an == bn
		}
	}
	as, aok := asString(a)
	bs, bok := asString(b)
	return aok && bok && as == bs
}

func inList(actual, listValue any) bool {
	items, ok := asList(listValue)
	if !ok {
		return false
	}
	for _, item := range items {
		if valuesEqual(actual, item) {
			return true
		}
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case domain.RiskLevel:
		return string(s), true
	case domain.ImpactScope:
		return string(s), true
	}
	return "", false
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}
