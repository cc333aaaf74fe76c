// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/foundlab/reputation/internal/domain/compliance"
)

// SherlockDependencies defines the interface for compliance validation
// operations.
type SherlockDependencies interface {
	ValidateEntity(ctx context.Context, entityID, entityType string) (compliance.ValidationResult, error)
	ListValidationsByEntity(ctx context.Context, entityID string) ([]compliance.ValidationResult, error)
}

// SherlockHandler handles compliance validation requests.
type SherlockHandler struct {
	deps SherlockDependencies
}

// NewSherlockHandler creates a new sherlock handler.
func NewSherlockHandler(deps SherlockDependencies) *SherlockHandler {
	return &SherlockHandler{deps: deps}
}

// validateRequest mirrors the POST /sherlock/validate payload.
type validateRequest struct {
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`
}

func (v validateRequest) validate() error {
	switch {
	case strings.TrimSpace(v.EntityID) == "":
		return errors.New("missing entity_id")
	case strings.TrimSpace(v.EntityType) == "":
		return errors.New("missing entity_type")
	}
	return nil
}

// HandleValidate handles POST /sherlock/validate requests.
func (h *SherlockHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	const op = "api.validate"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	result, err := h.deps.ValidateEntity(r.Context(), req.EntityID, req.EntityType)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// HandleResults handles GET /sherlock/results/{entity_id} requests.
func (h *SherlockHandler) HandleResults(w http.ResponseWriter, r *http.Request) {
	const op = "api.validation_results"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	entityID := strings.TrimPrefix(r.URL.Path, "/sherlock/results/")
	if entityID == "" || strings.Contains(entityID, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	results, err := h.deps.ListValidationsByEntity(r.Context(), entityID)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
