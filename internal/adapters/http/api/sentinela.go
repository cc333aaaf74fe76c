// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/foundlab/reputation/internal/domain/risk"
	"github.com/foundlab/reputation/internal/domain/rules"
)

// SentinelaDependencies defines the interface for risk trigger operations.
type SentinelaDependencies interface {
	CreateTrigger(ctx context.Context, def risk.TriggerDefinition) (risk.TriggerDefinition, error)
	GetTrigger(ctx context.Context, name string) (risk.TriggerDefinition, error)
	ListTriggers(ctx context.Context) ([]risk.TriggerDefinition, error)
	UpdateTrigger(ctx context.Context, def risk.TriggerDefinition) (risk.TriggerDefinition, error)
	DeleteTrigger(ctx context.Context, name string) error
	AssessRisk(ctx context.Context, entityID, scoreID string, metadata map[string]any) (risk.Assessment, error)
	ListAssessmentsByEntity(ctx context.Context, entityID string, limit int) ([]risk.Assessment, error)
}

// SentinelaHandler handles risk trigger requests.
type SentinelaHandler struct {
	deps SentinelaDependencies
}

// NewSentinelaHandler creates a new sentinela handler.
func NewSentinelaHandler(deps SentinelaDependencies) *SentinelaHandler {
	return &SentinelaHandler{deps: deps}
}

// triggerRequest mirrors the POST /sentinela/triggers payload.
type triggerRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Severity    risk.Severity     `json:"severity"`
	Conditions  []rules.Condition `json:"conditions"`
	Enabled     *bool             `json:"enabled,omitempty"`
}

func (t triggerRequest) definition() risk.TriggerDefinition {
	enabled := true
	if t.Enabled != nil {
		enabled = *t.Enabled
	}
	return risk.TriggerDefinition{
		Name:        t.Name,
		Description: t.Description,
		Severity:    t.Severity,
		Conditions:  t.Conditions,
		Enabled:     enabled,
	}
}

// assessRequest mirrors the POST /sentinela/assess payload. ScoreID is
// optional; when empty the entity's latest score is used.
type assessRequest struct {
	EntityID string         `json:"entity_id"`
	ScoreID  string         `json:"score_id,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// HandleTriggers handles POST /sentinela/triggers and GET /sentinela/triggers
// requests.
func (h *SentinelaHandler) HandleTriggers(w http.ResponseWriter, r *http.Request) {
	const op = "api.triggers"
	switch r.Method {
	case http.MethodPost:
		var req triggerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		def, err := h.deps.CreateTrigger(r.Context(), req.definition())
		if err != nil {
			writeDomainError(w, op, err)
			return
		}
		writeJSON(w, http.StatusCreated, def)
	case http.MethodGet:
		defs, err := h.deps.ListTriggers(r.Context())
		if err != nil {
			writeDomainError(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, defs)
	default:
		http.NotFound(w, r)
	}
}

// HandleTriggerPath handles GET/PUT/DELETE /sentinela/triggers/{name}
// requests.
func (h *SentinelaHandler) HandleTriggerPath(w http.ResponseWriter, r *http.Request) {
	const op = "api.trigger"
	name := strings.TrimPrefix(r.URL.Path, "/sentinela/triggers/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	switch r.Method {
	case http.MethodGet:
		def, err := h.deps.GetTrigger(r.Context(), name)
		if err != nil {
			writeDomainError(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, def)
	case http.MethodPut:
		var req triggerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		def := req.definition()
		def.Name = name
		updated, err := h.deps.UpdateTrigger(r.Context(), def)
		if err != nil {
			writeDomainError(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := h.deps.DeleteTrigger(r.Context(), name); err != nil {
			writeDomainError(w, op, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

// HandleAssess handles POST /sentinela/assess requests.
func (h *SentinelaHandler) HandleAssess(w http.ResponseWriter, r *http.Request) {
	const op = "api.assess"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req assessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.EntityID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing entity_id")))
		return
	}

	assessment, err := h.deps.AssessRisk(r.Context(), req.EntityID, req.ScoreID, req.Metadata)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, assessment)
}

// HandleAssessments handles GET /sentinela/assessments/{entity_id} requests.
func (h *SentinelaHandler) HandleAssessments(w http.ResponseWriter, r *http.Request) {
	const op = "api.assessments"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	entityID := strings.TrimPrefix(r.URL.Path, "/sentinela/assessments/")
	if entityID == "" || strings.Contains(entityID, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	limit, _ := pageParams(r, 10)
	assessments, err := h.deps.ListAssessmentsByEntity(r.Context(), entityID, limit)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, assessments)
}
