// controld is the control-plane daemon: it hosts the agent scheduler,
// the approval policy engine, the action executor and the admin API in
// one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kinetra/agentplane/internal/agent"
	"github.com/kinetra/agentplane/internal/agent/builtin"
	"github.com/kinetra/agentplane/internal/audit"
	"github.com/kinetra/agentplane/internal/console/handler"
	"github.com/kinetra/agentplane/internal/console/server"
	consoleservice "github.com/kinetra/agentplane/internal/console/service"
	"github.com/kinetra/agentplane/internal/control"
	"github.com/kinetra/agentplane/internal/domain"
	"github.com/kinetra/agentplane/internal/executor"
	"github.com/kinetra/agentplane/internal/infra"
	"github.com/kinetra/agentplane/internal/infra/auth"
	"github.com/kinetra/agentplane/internal/notify"
	"github.com/kinetra/agentplane/internal/orchestrator"
	"github.com/kinetra/agentplane/internal/policy"
	"github.com/kinetra/agentplane/internal/repository/memory"
	"github.com/kinetra/agentplane/internal/repository/postgres"
	"github.com/kinetra/agentplane/internal/scheduler"
	"github.com/kinetra/agentplane/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "controld:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage: Postgres when configured, in-memory otherwise.
	var store storage.Store
	if cfg.Database.URL != "" {
		pg, err := postgres.New(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		store = pg
		logger.Info("postgres store ready")
	} else {
		store = memory.New()
		logger.Warn("no database configured, using in-memory store")
	}
	defer store.Close()

	// Redis carries the hold switch and rule-update broadcasts. Without
	// it both still work, scoped to this instance.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(appCtx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
	} else {
		logger.Warn("no redis configured, control signals are instance-local")
	}

	// Metrics.
	reg := prometheus.NewRegistry()
	metrics := control.NewMetrics(reg)
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		logger.Info("metrics listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// Compliance hold.
	hold := control.NewHoldSwitch(rdb, logger)
	if rdb != nil {
		if err := hold.Init(appCtx); err != nil {
			return fmt.Errorf("init hold switch: %w", err)
		}
		go hold.StartListener(appCtx)
	}

	// Audit pipeline.
	auditor := audit.NewWriter(store, cfg.Engine.AuditBufferSize, cfg.Engine.AuditFlushInterval, metrics.AuditBufferFill, logger)
	auditor.Start()
	defer auditor.Stop()

	// Notifications.
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.SlackWebhookURL != "" {
		notifier = notify.NewReliable(&notify.SlackWebhook{
			WebhookURL: cfg.Notify.SlackWebhookURL,
			Channel:    cfg.Notify.Channel,
			Username:   "agentplane",
		}, cfg.Notify.RatePerSecond)
	}

	// Approval rules: the persisted set wins, the compiled-in defaults
	// seed a fresh database.
	rules, err := store.ListRules(appCtx)
	if err != nil {
		return fmt.Errorf("load approval rules: %w", err)
	}
	if len(rules) == 0 {
		rules = domain.DefaultRules()
		if err := store.ReplaceRules(appCtx, rules); err != nil {
			return fmt.Errorf("seed default rules: %w", err)
		}
		logger.Info("seeded default approval rules", zap.Int("rules", len(rules)))
	}
	engine := policy.NewEngine(rules, store, notifier, hold, metrics, logger)

	if rdb != nil {
		go control.ListenSignalResilient(appCtx, rdb, logger.Named("rule-sync"), infra.RedisChanRuleUpdate,
			func(ctx context.Context) error {
				return reloadRules(ctx, store, engine)
			},
			func(state bool, detail string) {
				if err := reloadRules(appCtx, store, engine); err != nil {
					logger.Error("rule reload failed", zap.Error(err), zap.String("updated_by", detail))
				}
			})
	}

	// Execution and orchestration.
	registry := agent.NewRegistry()
	if err := builtin.RegisterAll(registry); err != nil {
		return err
	}
	exec := executor.New(store, auditor, notifier, hold, metrics, logger)
	orch := orchestrator.New(registry, store, engine, exec, notifier, metrics, logger)
	orch.QueueAlertThreshold = cfg.Engine.QueueAlertThreshold

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("scheduler timezone: %w", err)
	}
	sched := scheduler.New(registry, orch, store, scheduler.Config{
		Tick:          cfg.Scheduler.Tick,
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		RunOnStart:    cfg.Scheduler.RunOnStart,
		Location:      loc,
	}, metrics, logger)
	if err := sched.Init(appCtx); err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	go sched.Start(appCtx)

	// Admin API.
	tokens, err := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	accessKey := cfg.Auth.AccessKey
	if accessKey == "" {
		accessKey = cfg.Auth.Secret
	}
	authSvc := consoleservice.NewAuthService(accessKey, tokens, cfg.Auth.TokenTTL)
	consoleSvc := consoleservice.NewConsoleService(store, registry, orch, sched, engine, exec, hold, rdb,
		cfg.Engine.MaxActionsPerCycle, logger)

	adminSrv := server.NewAdminServer(cfg, logger, tokens,
		handler.NewAuthHandler(authSvc),
		handler.NewAgentHandler(consoleSvc),
		handler.NewApprovalHandler(consoleSvc),
		handler.NewRuleHandler(consoleSvc),
		handler.NewControlHandler(consoleSvc),
	)
	go func() {
		if err := adminSrv.Start(); err != nil {
			logger.Error("admin server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	sched.Stop()
	cancel()
	// Deferred: audit drain, store close, redis close.
	logger.Info("controld exited")
	return nil
}

func reloadRules(ctx context.Context, store storage.Store, engine *policy.Engine) error {
	rules, err := store.ListRules(ctx)
	if err != nil {
		return err
	}
	if len(rules) > 0 {
		engine.ReplaceRules(rules)
	}
	return nil
}
