// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/foundlab/reputation/internal/domain/model"
	"github.com/foundlab/reputation/internal/domain/rules"
)

// FlagDependencies defines the interface for dynamic flag operations.
type FlagDependencies interface {
	CreateFlag(ctx context.Context, def model.FlagDefinition) (model.FlagDefinition, error)
	GetFlag(ctx context.Context, name string) (model.FlagDefinition, error)
	ListFlags(ctx context.Context) ([]model.FlagDefinition, error)
	UpdateFlag(ctx context.Context, name string, update model.FlagUpdate) (model.FlagDefinition, error)
	DeleteFlag(ctx context.Context, name string) error
	ApplyFlags(ctx context.Context, entityID string, metadata map[string]any) ([]model.FlagEvaluation, error)
}

// FlagsHandler handles dynamic flag requests.
type FlagsHandler struct {
	deps FlagDependencies
}

// NewFlagsHandler creates a new flags handler.
func NewFlagsHandler(deps FlagDependencies) *FlagsHandler {
	return &FlagsHandler{deps: deps}
}

// flagRequest mirrors the POST /flags payload.
type flagRequest struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Type         model.FlagType    `json:"type"`
	DefaultValue any               `json:"default_value,omitempty"`
	Conditions   []rules.Condition `json:"conditions"`
	Weight       float64           `json:"weight"`
	Category     string            `json:"category,omitempty"`
}

func (f flagRequest) validate() error {
	switch {
	case strings.TrimSpace(f.Name) == "":
		return errors.New("missing name")
	case !f.Type.Valid():
		return errors.New("invalid type; must be boolean, numeric or category")
	}
	return nil
}

// applyRequest mirrors the POST /flags/apply payload.
type applyRequest struct {
	EntityID string         `json:"entity_id"`
	Metadata map[string]any `json:"metadata"`
}

// applyResponse carries the evaluated flags plus the active summary.
type applyResponse struct {
	EntityID       string                 `json:"entity_id"`
	EvaluatedFlags []model.FlagEvaluation `json:"evaluated_flags"`
	ActiveFlags    map[string]any         `json:"active_flags_summary"`
}

// HandleFlags handles POST /flags and GET /flags requests.
func (h *FlagsHandler) HandleFlags(w http.ResponseWriter, r *http.Request) {
	const op = "api.flags"
	switch r.Method {
	case http.MethodPost:
		var req flagRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		if err := req.validate(); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		def, err := h.deps.CreateFlag(r.Context(), model.FlagDefinition{
			Name:         req.Name,
			Description:  req.Description,
			Type:         req.Type,
			DefaultValue: req.DefaultValue,
			Conditions:   req.Conditions,
			Weight:       req.Weight,
			Category:     req.Category,
		})
		if err != nil {
			writeDomainError(w, op, err)
			return
		}
		writeJSON(w, http.StatusCreated, def)
	case http.MethodGet:
		defs, err := h.deps.ListFlags(r.Context())
		if err != nil {
			writeDomainError(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, defs)
	default:
		http.NotFound(w, r)
	}
}

// HandleFlagPath handles GET/PUT/DELETE /flags/{name} and POST /flags/apply
// requests.
func (h *FlagsHandler) HandleFlagPath(w http.ResponseWriter, r *http.Request) {
	const op = "api.flag"
	path := strings.TrimPrefix(r.URL.Path, "/flags/")
	if path == "" || strings.Contains(path, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	if path == "apply" {
		h.handleApply(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		def, err := h.deps.GetFlag(r.Context(), path)
		if err != nil {
			writeDomainError(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, def)
	case http.MethodPut:
		var update model.FlagUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		def, err := h.deps.UpdateFlag(r.Context(), path, update)
		if err != nil {
			writeDomainError(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, def)
	case http.MethodDelete:
		if err := h.deps.DeleteFlag(r.Context(), path); err != nil {
			writeDomainError(w, op, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (h *FlagsHandler) handleApply(w http.ResponseWriter, r *http.Request) {
	const op = "api.apply_flags"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.EntityID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing entity_id")))
		return
	}

	evaluations, err := h.deps.ApplyFlags(r.Context(), req.EntityID, req.Metadata)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}

	active := make(map[string]any)
	for _, e := range evaluations {
		if e.IsActive {
			active[e.Name] = e.Value
		}
	}
	writeJSON(w, http.StatusOK, applyResponse{
		EntityID:       req.EntityID,
		EvaluatedFlags: evaluations,
		ActiveFlags:    active,
	})
}
