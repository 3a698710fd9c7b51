package handler

import (
	"encoding/json"
	"net/http"

	"github.com/kinetra/agentplane/internal/console/service"
	"github.com/kinetra/agentplane/internal/domain"
	"github.com/kinetra/agentplane/internal/infra/auth"
)

// RuleHandler manages the approval rule set. Rules are replaced as a
// whole set, never patched one by one, so the active policy is always
// a single reviewed artifact.
type RuleHandler struct {
	service *service.ConsoleService
}

func NewRuleHandler(s *service.ConsoleService) *RuleHandler {
	return &RuleHandler{service: s}
}

func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Rules(r.Context()))
}

func (h *RuleHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var rules []domain.ApprovalRule
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.ReplaceRules(r.Context(), rules, auth.UserID(r.Context())); err != nil {
		// Validation failures come back as plain errors; anything the
		// operator can fix belongs in a 400.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
