// Package scheduler drives recurring agent runs. One job per agent
// type with a scheduled trigger; ticks that find the system saturated
// or the job still running are dropped, not queued.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kinetra/agentplane/internal/agent"
	"github.com/kinetra/agentplane/internal/control"
	"github.com/kinetra/agentplane/internal/domain"
	"github.com/kinetra/agentplane/internal/orchestrator"
	"github.com/kinetra/agentplane/internal/storage"
)

type job struct {
	agentType string
	spec      string
	schedule  Schedule

	isRunning bool
	lastRunAt time.Time
	nextRunAt time.Time
	runCount  int64
}

// JobStatus is a read-only snapshot for the admin API.
type JobStatus struct {
	AgentType string    `json:"agent_type"`
	Spec      string    `json:"spec"`
	IsRunning bool      `json:"is_running"`
	LastRunAt time.Time `json:"last_run_at,omitzero"`
	NextRunAt time.Time `json:"next_run_at,omitzero"`
	RunCount  int64     `json:"run_count"`
}

// Status is the scheduler state exposed to callers.
type Status struct {
	Running    bool        `json:"running"`
	ActiveRuns int         `json:"active_runs"`
	Jobs       []JobStatus `json:"jobs"`
}

type Config struct {
	Tick          time.Duration
	MaxConcurrent int
	RunOnStart    bool
	Location      *time.Location
}

type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	active  int
	running bool
	cancel  context.CancelFunc

	registry *agent.Registry
	orch     *orchestrator.Orchestrator
	store    storage.Store
	logger   *zap.Logger
	metrics  *control.Metrics
	cfg      Config

	loopWG sync.WaitGroup
}

func New(registry *agent.Registry, orch *orchestrator.Orchestrator, store storage.Store, cfg Config, metrics *control.Metrics, logger *zap.Logger) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		jobs:     make(map[string]*job),
		registry: registry,
		orch:     orch,
		store:    store,
		logger:   logger.Named("scheduler"),
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Init builds one job per registered agent with a scheduled trigger.
// Persisted trigger overrides win over the compiled-in definition. A
// malformed cron expression skips that job and leaves the rest alone.
func (s *Scheduler) Init(ctx context.Context) error {
	now := time.Now()
	for _, ag := range s.registry.All() {
		def := ag.Definition()
		trigger := def.Trigger

		if s.store != nil {
			override, err := s.store.GetAgentTrigger(ctx, def.Type)
			switch {
			case err == nil && override != nil:
				trigger = *override
			case err != nil && !errors.Is(err, storage.ErrNotFound):
				s.logger.Warn("failed to load trigger override",
					zap.String("agent_type", def.Type), zap.Error(err))
			}
		}

		if trigger.Cron == "" {
			continue // on-demand only
		}

		loc := s.cfg.Location
		if trigger.Timezone != "" {
			parsed, err := time.LoadLocation(trigger.Timezone)
			if err != nil {
				s.logger.Error("invalid trigger timezone, using default",
					zap.String("agent_type", def.Type),
					zap.String("timezone", trigger.Timezone),
					zap.Error(err))
			} else {
				loc = parsed
			}
		}

		sched, err := ParseCron(trigger.Cron, loc)
		if err != nil {
			s.logger.Error("invalid cron expression, job skipped",
				zap.String("agent_type", def.Type),
				zap.String("cron", trigger.Cron),
				zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.jobs[def.Type] = &job{
			agentType: def.Type,
			spec:      trigger.Cron,
			schedule:  sched,
			nextRunAt: sched.Next(now),
		}
		s.mu.Unlock()
		s.logger.Info("job scheduled",
			zap.String("agent_type", def.Type),
			zap.String("cron", trigger.Cron))
	}
	return nil
}

// Start launches the tick loop. Runs already in flight when Stop is
// called are left to finish: jobs run on a context detached from the
// loop's cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)

	if s.cfg.RunOnStart {
		s.RunAll(runCtx)
	}

	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		ticker := time.NewTicker(s.cfg.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case now := <-ticker.C:
				s.tickOnce(runCtx, now)
			}
		}
	}()
	s.logger.Info("scheduler started",
		zap.Duration("tick", s.cfg.Tick),
		zap.Int("max_concurrent", s.cfg.MaxConcurrent))
}

// Stop cancels future ticks. In-flight runs are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.loopWG.Wait()
	s.logger.Info("scheduler stopped")
}

// tickOnce fires every due job. Saturation and overlap both drop the
// tick: the job simply waits for its next due time.
func (s *Scheduler) tickOnce(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*job, 0)
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		j := s.jobs[name]
		if j.nextRunAt.IsZero() || j.nextRunAt.After(now) {
			continue
		}
		// Due. Advance the schedule no matter what happens below, so
		// a skipped tick is dropped rather than retried.
		j.nextRunAt = j.schedule.Next(now)

		if j.isRunning {
			s.logger.Warn("job still running, tick dropped", zap.String("agent_type", j.agentType))
			continue
		}
		if s.active >= s.cfg.MaxConcurrent {
			s.logger.Warn("concurrency ceiling reached, tick dropped",
				zap.String("agent_type", j.agentType),
				zap.Int("active", s.active))
			continue
		}

		j.isRunning = true
		j.lastRunAt = now
		s.active++
		due = append(due, j)
	}
	if s.metrics != nil {
		s.metrics.ActiveRuns.Set(float64(s.active))
	}
	s.mu.Unlock()

	for _, j := range due {
		go s.runJob(ctx, j)
	}
}

// RunAll runs every job once, regardless of schedule. Used by the
// run-on-start mode and exposed for operability.
func (s *Scheduler) RunAll(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	started := make([]*job, 0, len(names))
	for _, name := range names {
		j := s.jobs[name]
		if j.isRunning {
			continue
		}
		if s.active >= s.cfg.MaxConcurrent {
			s.logger.Warn("concurrency ceiling reached, startup run skipped",
				zap.String("agent_type", j.agentType),
				zap.Int("active", s.active))
			continue
		}
		j.isRunning = true
		j.lastRunAt = time.Now()
		s.active++
		started = append(started, j)
	}
	s.mu.Unlock()

	for _, j := range started {
		go s.runJob(ctx, j)
	}
}

// runJob executes one agent run and always returns the job to idle.
// Errors are swallowed and logged: the schedule must survive a single
// agent's crash.
func (s *Scheduler) runJob(ctx context.Context, j *job) {
	defer func() {
		s.mu.Lock()
		j.isRunning = false
		j.runCount++
		s.active--
		if s.metrics != nil {
			s.metrics.ActiveRuns.Set(float64(s.active))
		}
		s.mu.Unlock()
	}()

	run, err := s.orch.RunAgentByType(ctx, j.agentType, domain.TriggerScheduled, "scheduler", nil)
	if err != nil {
		s.logger.Error("scheduled run failed",
			zap.String("agent_type", j.agentType),
			zap.Error(err))
		return
	}
	s.logger.Info("scheduled run finished",
		zap.String("agent_type", j.agentType),
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("actions_proposed", run.ActionsProposed))
}

// Status snapshots the scheduler for the admin API.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running, ActiveRuns: s.active}
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		j := s.jobs[name]
		st.Jobs = append(st.Jobs, JobStatus{
			AgentType: j.agentType,
			Spec:      j.spec,
			IsRunning: j.isRunning,
			LastRunAt: j.lastRunAt,
			NextRunAt: j.nextRunAt,
			RunCount:  j.runCount,
		})
	}
	return st
}
