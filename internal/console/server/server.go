// Package server wires the admin API router: public login and health,
// then a bearer-token perimeter around everything operational.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kinetra/agentplane/internal/console/handler"
	"github.com/kinetra/agentplane/internal/infra"
	"github.com/kinetra/agentplane/internal/infra/auth"
)

type AdminServer struct {
	router *chi.Mux
	logger *zap.Logger
	http   *http.Server

	validator auth.TokenValidator

	authHandler     *handler.AuthHandler
	agentHandler    *handler.AgentHandler
	approvalHandler *handler.ApprovalHandler
	ruleHandler     *handler.RuleHandler
	controlHandler  *handler.ControlHandler
}

func NewAdminServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	agentH *handler.AgentHandler,
	approvalH *handler.ApprovalHandler,
	ruleH *handler.RuleHandler,
	controlH *handler.ControlHandler,
) *AdminServer {
	s := &AdminServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("admin-api"),
		validator:       validator,
		authHandler:     authH,
		agentHandler:    agentH,
		approvalHandler: approvalH,
		ruleHandler:     ruleH,
		controlHandler:  controlH,
	}
	s.routes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

func (s *AdminServer) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public surface: login and liveness only.
	r.Group(func(r chi.Router) {
		r.Post("/auth/token", s.authHandler.Login)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// Protected perimeter.
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.validator, s.logger))

		r.Route("/v1/agents", func(r chi.Router) {
			r.Get("/", s.agentHandler.List)
			r.Route("/{type}", func(r chi.Router) {
				r.Get("/runs", s.agentHandler.Runs)
				r.Post("/trigger", s.agentHandler.Trigger)
			})
		})

		r.Route("/v1/approvals", func(r chi.Router) {
			r.Get("/", s.approvalHandler.List)
			r.Post("/decide", s.approvalHandler.DecideBatch)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.approvalHandler.GetDetails)
				r.Post("/decide", s.approvalHandler.Decide)
			})
		})

		r.Route("/v1/rules", func(r chi.Router) {
			r.Get("/", s.ruleHandler.List)
			r.Put("/", s.ruleHandler.Replace)
		})

		r.Route("/v1/control", func(r chi.Router) {
			r.Post("/cycle", s.controlHandler.TriggerCycle)
			r.Get("/scheduler", s.controlHandler.SchedulerStatus)
			r.Get("/hold", s.controlHandler.HoldStatus)
			r.Post("/hold", s.controlHandler.EngageHold)
			r.Delete("/hold", s.controlHandler.ReleaseHold)
		})
	})
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *AdminServer) Start() error {
	s.logger.Info("admin API listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ServeHTTP lets the server act as a plain http.Handler in tests.
func (s *AdminServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
