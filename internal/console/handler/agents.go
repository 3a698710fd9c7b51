package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kinetra/agentplane/internal/console/service"
	"github.com/kinetra/agentplane/internal/infra/auth"
)

// AgentHandler exposes agent metadata, run history and manual triggers.
type AgentHandler struct {
	service *service.ConsoleService
}

func NewAgentHandler(s *service.ConsoleService) *AgentHandler {
	return &AgentHandler{service: s}
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Agents())
}

func (h *AgentHandler) Runs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.service.Runs(r.Context(), chi.URLParam(r, "type"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

type triggerRequest struct {
	Input map[string]any `json:"input"`
}

// Trigger runs one agent on demand. A missing body or nil input means
// the agent's default input.
func (h *AgentHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if r.Body != nil {
		// Body is optional, a decode failure on an empty body is fine.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	run, err := h.service.TriggerAgent(r.Context(), chi.URLParam(r, "type"), req.Input, auth.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
