package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kinetra/agentplane/internal/agent"
	"github.com/kinetra/agentplane/internal/console/handler"
	"github.com/kinetra/agentplane/internal/console/service"
	"github.com/kinetra/agentplane/internal/control"
	"github.com/kinetra/agentplane/internal/domain"
	"github.com/kinetra/agentplane/internal/executor"
	"github.com/kinetra/agentplane/internal/infra"
	"github.com/kinetra/agentplane/internal/infra/auth"
	"github.com/kinetra/agentplane/internal/notify"
	"github.com/kinetra/agentplane/internal/orchestrator"
	"github.com/kinetra/agentplane/internal/policy"
	"github.com/kinetra/agentplane/internal/repository/memory"
	"github.com/kinetra/agentplane/internal/scheduler"
)

type demoAgent struct{}

func (demoAgent) Definition() domain.AgentDefinition {
	return domain.AgentDefinition{
		Type: "demo", Name: "Demo", Version: "1.0.0",
		Trigger: domain.TriggerConfig{OnDemand: true},
	}
}
func (demoAgent) Validate(map[string]any) agent.Validation { return agent.Validation{Valid: true} }
func (demoAgent) DefaultInput() map[string]any             { return map[string]any{} }
func (demoAgent) Execute(context.Context, map[string]any, agent.RunContext) (*agent.Output, error) {
	return &agent.Output{
		Success: true,
		Summary: "one proposal",
		Actions: []agent.Proposal{{
			Type:             "schedule_outreach",
			Name:             "call the clinic",
			Confidence:       0.7,
			RiskLevel:        domain.RiskMedium,
			Scope:            domain.ScopeIndividual,
			AffectedEntities: 1,
			RequiresApproval: true,
		}},
	}, nil
}

type testEnv struct {
	srv   *AdminServer
	store *memory.Store
	hold  *control.HoldSwitch
	token string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	store := memory.New()

	registry := agent.NewRegistry()
	require.NoError(t, registry.Register(demoAgent{}))

	hold := control.NewHoldSwitch(nil, logger)
	engine := policy.NewEngine(domain.DefaultRules(), store, nil, hold, nil, logger)
	exec := executor.New(store, nil, notify.Nop{}, hold, nil, logger)
	orch := orchestrator.New(registry, store, engine, exec, nil, nil, logger)
	sched := scheduler.New(registry, orch, store, scheduler.Config{}, nil, logger)
	require.NoError(t, sched.Init(context.Background()))

	tokens, err := auth.NewTokens("test-secret", time.Hour)
	require.NoError(t, err)
	authSvc := service.NewAuthService("test-access-key", tokens, time.Hour)
	svc := service.NewConsoleService(store, registry, orch, sched, engine, exec, hold, nil, 50, logger)

	cfg := &infra.Config{}
	srv := NewAdminServer(cfg, logger, tokens,
		handler.NewAuthHandler(authSvc),
		handler.NewAgentHandler(svc),
		handler.NewApprovalHandler(svc),
		handler.NewRuleHandler(svc),
		handler.NewControlHandler(svc),
	)

	signed, err := tokens.Issue("alice", "operator")
	require.NoError(t, err)
	return &testEnv{srv: srv, store: store, hold: hold, token: signed}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthIsPublic(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/v1/agents", "/v1/approvals", "/v1/rules", "/v1/control/scheduler"} {
		rec := e.do(t, http.MethodGet, path, nil, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/auth/token", map[string]any{
		"access_key": "test-access-key", "user_id": "bob",
	}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	tok := decode[service.TokenResponse](t, rec)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.NotEmpty(t, tok.AccessToken)

	rec = e.do(t, http.MethodPost, "/auth/token", map[string]any{
		"access_key": "wrong", "user_id": "bob",
	}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTriggerAgentAndReviewFlow(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/agents/demo/trigger", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[domain.AgentRun](t, rec)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, "alice", run.TriggeredBy)

	rec = e.do(t, http.MethodGet, "/v1/approvals", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[[]domain.ProposedAction](t, rec)
	require.Len(t, pending, 1)
	actionID := pending[0].ID

	// Approval executes immediately under the reviewer's identity.
	rec = e.do(t, http.MethodPost, "/v1/approvals/"+actionID+"/decide",
		map[string]any{"approved": true}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[service.DecisionResult](t, rec)
	require.NotNil(t, res.Execution)
	assert.Equal(t, "executed", res.Execution.Status)

	got, err := e.store.GetAction(context.Background(), actionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExecuted, got.Status)
	require.NotNil(t, got.ExecutedBy)
	assert.Equal(t, "alice", *got.ExecutedBy)

	// A second decision on the same action conflicts.
	rec = e.do(t, http.MethodPost, "/v1/approvals/"+actionID+"/decide",
		map[string]any{"approved": false, "comment": "changed my mind"}, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRejectRequiresComment(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/v1/approvals/whatever/decide",
		map[string]any{"approved": false}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRulesReplaceValidation(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/v1/rules", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rules := decode[[]domain.ApprovalRule](t, rec)
	assert.Len(t, rules, len(domain.DefaultRules()))

	// Empty set is invalid.
	rec = e.do(t, http.MethodPut, "/v1/rules", []domain.ApprovalRule{}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown decision is invalid.
	rec = e.do(t, http.MethodPut, "/v1/rules", []domain.ApprovalRule{
		{ID: "x", Priority: 1, Decision: "maybe"},
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A valid replacement lands in the store and the engine.
	rec = e.do(t, http.MethodPut, "/v1/rules", []domain.ApprovalRule{
		{ID: "only", Name: "everything waits", Priority: 1, Decision: domain.DecisionRequireReview, Enabled: true},
	}, true)
	require.Equal(t, http.StatusNoContent, rec.Code)

	stored, err := e.store.ListRules(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "only", stored[0].ID)
}

func TestHoldLifecycle(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/v1/control/hold", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[service.HoldStatus](t, rec)
	assert.False(t, st.Held)

	rec = e.do(t, http.MethodPost, "/v1/control/hold", map[string]any{"reason": "quarterly audit"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	st = decode[service.HoldStatus](t, rec)
	assert.True(t, st.Held)
	assert.Equal(t, "quarterly audit", st.Reason)

	rec = e.do(t, http.MethodDelete, "/v1/control/hold", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	st = decode[service.HoldStatus](t, rec)
	assert.False(t, st.Held)
}

func TestCycleEndpoint(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/control/cycle", map[string]any{}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[orchestrator.CycleSummary](t, rec)
	assert.Equal(t, 1, summary.RunsCompleted)
	assert.Equal(t, 1, summary.ActionsCreated)
	// The medium-risk proposal went through review classification.
	assert.Equal(t, 1, summary.Processed)
}

func TestSchedulerStatusEndpoint(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/v1/control/scheduler", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[scheduler.Status](t, rec)
	assert.False(t, st.Running)
}
