package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kinetra/agentplane/internal/agent"
	"github.com/kinetra/agentplane/internal/domain"
	"github.com/kinetra/agentplane/internal/executor"
	"github.com/kinetra/agentplane/internal/notify"
	"github.com/kinetra/agentplane/internal/orchestrator"
	"github.com/kinetra/agentplane/internal/policy"
	"github.com/kinetra/agentplane/internal/repository/memory"
)

// blockingAgent parks in Execute until released, so tests can hold a
// job in the running state deterministically.
type blockingAgent struct {
	agentType string
	cron      string
	started   chan string
	release   chan struct{}
}

func (b *blockingAgent) Definition() domain.AgentDefinition {
	return domain.AgentDefinition{
		Type:    b.agentType,
		Name:    b.agentType,
		Version: "0.0.1",
		Trigger: domain.TriggerConfig{Cron: b.cron, OnDemand: true},
	}
}

func (b *blockingAgent) Validate(input map[string]any) agent.Validation {
	return agent.Validation{Valid: true}
}

func (b *blockingAgent) DefaultInput() map[string]any { return map[string]any{} }

func (b *blockingAgent) Execute(ctx context.Context, input map[string]any, rc agent.RunContext) (*agent.Output, error) {
	if b.started != nil {
		b.started <- b.agentType
	}
	if b.release != nil {
		<-b.release
	}
	return &agent.Output{Success: true, Summary: "done"}, nil
}

func newTestScheduler(t *testing.T, store *memory.Store, cfg Config, agents ...agent.Agent) *Scheduler {
	t.Helper()
	logger := zap.NewNop()
	registry := agent.NewRegistry()
	for _, a := range agents {
		require.NoError(t, registry.Register(a))
	}
	engine := policy.NewEngine(domain.DefaultRules(), store, nil, nil, nil, logger)
	exec := executor.New(store, nil, notify.Nop{}, nil, nil, logger)
	orch := orchestrator.New(registry, store, engine, exec, nil, nil, logger)
	return New(registry, orch, store, cfg, nil, logger)
}

func TestInitBuildsJobs(t *testing.T) {
	store := memory.New()
	s := newTestScheduler(t, store, Config{},
		&blockingAgent{agentType: "scheduled-a", cron: "0 6 * * *"},
		&blockingAgent{agentType: "on-demand-only", cron: ""},
		&blockingAgent{agentType: "broken-cron", cron: "not a cron"},
	)
	require.NoError(t, s.Init(context.Background()))

	st := s.Status()
	require.Len(t, st.Jobs, 1)
	assert.Equal(t, "scheduled-a", st.Jobs[0].AgentType)
	assert.Equal(t, "0 6 * * *", st.Jobs[0].Spec)
	assert.False(t, st.Jobs[0].NextRunAt.IsZero())
}

func TestInitUsesTriggerOverride(t *testing.T) {
	store := memory.New()
	store.SetAgentTrigger("scheduled-a", domain.TriggerConfig{Cron: "*/5 * * * *"})

	s := newTestScheduler(t, store, Config{},
		&blockingAgent{agentType: "scheduled-a", cron: "0 6 * * *"},
	)
	require.NoError(t, s.Init(context.Background()))

	st := s.Status()
	require.Len(t, st.Jobs, 1)
	assert.Equal(t, "*/5 * * * *", st.Jobs[0].Spec)
}

func TestTickSkipsRunningJob(t *testing.T) {
	store := memory.New()
	ag := &blockingAgent{
		agentType: "scheduled-a",
		cron:      "* * * * *",
		started:   make(chan string, 1),
		release:   make(chan struct{}),
	}
	s := newTestScheduler(t, store, Config{}, ag)
	require.NoError(t, s.Init(context.Background()))

	due := s.jobs["scheduled-a"].nextRunAt.Add(time.Second)
	s.tickOnce(context.Background(), due)

	select {
	case <-ag.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
	}

	// Next due time while the first run is still in flight: the tick is
	// dropped, yet the schedule advances.
	before := s.jobs["scheduled-a"].nextRunAt
	s.tickOnce(context.Background(), before.Add(time.Second))
	assert.True(t, s.jobs["scheduled-a"].nextRunAt.After(before))

	close(ag.release)
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.jobs["scheduled-a"].isRunning
	}, 2*time.Second, 10*time.Millisecond)

	st := s.Status()
	assert.Equal(t, int64(1), st.Jobs[0].RunCount)
}

func TestTickHonorsConcurrencyCeiling(t *testing.T) {
	store := memory.New()
	started := make(chan string, 2)
	release := make(chan struct{})
	a := &blockingAgent{agentType: "agent-a", cron: "* * * * *", started: started, release: release}
	b := &blockingAgent{agentType: "agent-b", cron: "* * * * *", started: started, release: release}

	s := newTestScheduler(t, store, Config{MaxConcurrent: 1}, a, b)
	require.NoError(t, s.Init(context.Background()))

	due := time.Now().Add(2 * time.Minute)
	s.tickOnce(context.Background(), due)

	// Jobs fire in sorted order, so agent-a got the only slot.
	select {
	case name := <-started:
		assert.Equal(t, "agent-a", name)
	case <-time.After(2 * time.Second):
		t.Fatal("no job started")
	}

	s.mu.Lock()
	assert.Equal(t, 1, s.active)
	assert.False(t, s.jobs["agent-b"].isRunning)
	s.mu.Unlock()

	close(release)
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.active == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunAllHonorsConcurrencyCeiling(t *testing.T) {
	store := memory.New()
	started := make(chan string, 2)
	release := make(chan struct{})
	a := &blockingAgent{agentType: "agent-a", cron: "* * * * *", started: started, release: release}
	b := &blockingAgent{agentType: "agent-b", cron: "* * * * *", started: started, release: release}

	s := newTestScheduler(t, store, Config{MaxConcurrent: 1}, a, b)
	require.NoError(t, s.Init(context.Background()))

	s.RunAll(context.Background())

	// Same sorted order as the tick path: agent-a takes the only slot
	// and agent-b is skipped rather than started over the ceiling.
	select {
	case name := <-started:
		assert.Equal(t, "agent-a", name)
	case <-time.After(2 * time.Second):
		t.Fatal("no job started")
	}

	s.mu.Lock()
	assert.Equal(t, 1, s.active)
	assert.False(t, s.jobs["agent-b"].isRunning)
	s.mu.Unlock()

	close(release)
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.active == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	store := memory.New()
	s := newTestScheduler(t, store, Config{Tick: 20 * time.Millisecond},
		&blockingAgent{agentType: "scheduled-a", cron: "0 6 * * *"},
	)
	require.NoError(t, s.Init(context.Background()))

	s.Start(context.Background())
	assert.True(t, s.Status().Running)
	// Idempotent start.
	s.Start(context.Background())

	s.Stop()
	assert.False(t, s.Status().Running)
	// Idempotent stop.
	s.Stop()
}
