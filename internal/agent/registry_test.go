package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinetra/agentplane/internal/domain"
)

type stubAgent struct{ agentType string }

func (s stubAgent) Definition() domain.AgentDefinition {
	return domain.AgentDefinition{Type: s.agentType, Name: s.agentType}
}
func (s stubAgent) Validate(map[string]any) Validation { return Validation{Valid: true} }
func (s stubAgent) DefaultInput() map[string]any       { return nil }
func (s stubAgent) Execute(context.Context, map[string]any, RunContext) (*Output, error) {
	return &Output{Success: true}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubAgent{agentType: "beta"}))
	require.NoError(t, r.Register(stubAgent{agentType: "alpha"}))

	assert.NotNil(t, r.Get("alpha"))
	assert.Nil(t, r.Get("ghost"))
}

func TestRegistryRejectsDuplicatesAndEmptyType(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubAgent{agentType: "alpha"}))
	assert.Error(t, r.Register(stubAgent{agentType: "alpha"}))
	assert.Error(t, r.Register(stubAgent{agentType: ""}))
}

func TestRegistryAllSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(stubAgent{agentType: name}))
	}

	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].Definition().Type)
	assert.Equal(t, "mid", all[1].Definition().Type)
	assert.Equal(t, "zeta", all[2].Definition().Type)
}
