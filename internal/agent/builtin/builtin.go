// Package builtin holds the compiled-in analysis agents. They stand in
// for the external analytical models and produce deterministic output
// for a given input, which keeps the approval pipeline reproducible in
// demos and tests.
package builtin

import (
	"fmt"

	"github.com/kinetra/agentplane/internal/agent"
)

// RegisterAll wires every compiled-in agent into the registry.
func RegisterAll(reg *agent.Registry) error {
	agents := []agent.Agent{
		NewHealthScorer(),
		NewInsightSynthesizer(),
		NewRegulatoryMonitor(),
	}
	for _, a := range agents {
		if err := reg.Register(a); err != nil {
			return fmt.Errorf("builtin: register %s: %w", a.Definition().Type, err)
		}
	}
	return nil
}

func asString(input map[string]any, key, fallback string) string {
	if v, ok := input[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func asInt(input map[string]any, key string, fallback int) int {
	switch v := input[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func asFloat(input map[string]any, key string, fallback float64) float64 {
	switch v := input[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}
