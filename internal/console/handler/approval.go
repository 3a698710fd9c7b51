package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kinetra/agentplane/internal/console/service"
	"github.com/kinetra/agentplane/internal/infra/auth"
)

// ApprovalHandler serves the human review queue.
type ApprovalHandler struct {
	service *service.ConsoleService
}

func NewApprovalHandler(s *service.ConsoleService) *ApprovalHandler {
	return &ApprovalHandler{service: s}
}

func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	actions, err := h.service.PendingActions(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

func (h *ApprovalHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.GetAction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type decideRequest struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment"`
}

func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Approved && req.Comment == "" {
		writeError(w, http.StatusBadRequest, "rejection requires a comment")
		return
	}

	reviewer := auth.UserID(r.Context())
	res, err := h.service.Decide(r.Context(), chi.URLParam(r, "id"), req.Approved, reviewer, req.Comment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type decideBatchRequest struct {
	IDs      []string `json:"ids"`
	Approved bool     `json:"approved"`
	Comment  string   `json:"comment"`
}

func (h *ApprovalHandler) DecideBatch(w http.ResponseWriter, r *http.Request) {
	var req decideBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids must not be empty")
		return
	}
	if !req.Approved && req.Comment == "" {
		writeError(w, http.StatusBadRequest, "rejection requires a comment")
		return
	}

	reviewer := auth.UserID(r.Context())
	results := h.service.DecideBatch(r.Context(), req.IDs, req.Approved, reviewer, req.Comment)
	writeJSON(w, http.StatusOK, results)
}
