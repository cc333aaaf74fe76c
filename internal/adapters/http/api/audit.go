// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/foundlab/reputation/internal/domain/model"
)

// AuditDependencies defines the interface for reading the audit trail.
type AuditDependencies interface {
	ListAudit(ctx context.Context, entityID string, limit int) ([]model.AuditEvent, error)
}

// AuditHandler handles audit trail requests.
type AuditHandler struct {
	deps AuditDependencies
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(deps AuditDependencies) *AuditHandler {
	return &AuditHandler{deps: deps}
}

// HandleList handles GET /audit requests.
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.audit"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	limit, _ := pageParams(r, 100)
	events, err := h.deps.ListAudit(r.Context(), r.URL.Query().Get("entity"), limit)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
