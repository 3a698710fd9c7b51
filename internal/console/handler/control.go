package handler

import (
	"encoding/json"
	"net/http"

	"github.com/kinetra/agentplane/internal/console/service"
	"github.com/kinetra/agentplane/internal/infra/auth"
)

// ControlHandler covers operational switches: cycle triggers, the
// scheduler view and the compliance hold.
type ControlHandler struct {
	service *service.ConsoleService
}

func NewControlHandler(s *service.ConsoleService) *ControlHandler {
	return &ControlHandler{service: s}
}

type cycleRequest struct {
	Agents         []string `json:"agents"`
	ProcessPending *bool    `json:"process_pending"`
}

func (h *ControlHandler) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	var req cycleRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	processPending := true
	if req.ProcessPending != nil {
		processPending = *req.ProcessPending
	}

	summary, err := h.service.TriggerCycle(r.Context(), req.Agents, processPending)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *ControlHandler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.SchedulerStatus())
}

func (h *ControlHandler) HoldStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.HoldStatus())
}

type holdRequest struct {
	Reason string `json:"reason"`
}

func (h *ControlHandler) EngageHold(w http.ResponseWriter, r *http.Request) {
	var req holdRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := h.service.EngageHold(r.Context(), req.Reason, auth.UserID(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.HoldStatus())
}

func (h *ControlHandler) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ReleaseHold(r.Context(), auth.UserID(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.HoldStatus())
}
