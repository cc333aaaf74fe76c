// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/foundlab/reputation/internal/domain/scoring"
)

// ScoreDependencies defines the interface for score operations.
type ScoreDependencies interface {
	ComputeScore(ctx context.Context, entityID string, metadata map[string]any, baseScore *float64) (scoring.Record, error)
	GetScore(ctx context.Context, id string) (scoring.Record, error)
	ListScoresByEntity(ctx context.Context, entityID string, limit, skip int) ([]scoring.Record, error)
}

// ScoresHandler handles score requests.
type ScoresHandler struct {
	deps ScoreDependencies
}

// NewScoresHandler creates a new scores handler.
func NewScoresHandler(deps ScoreDependencies) *ScoresHandler {
	return &ScoresHandler{deps: deps}
}

// scoreRequest mirrors the POST /scores payload. Flags are not supplied by
// the caller; they come from the registered definitions evaluated against
// metadata.
type scoreRequest struct {
	EntityID  string         `json:"entity_id"`
	Metadata  map[string]any `json:"metadata"`
	BaseScore *float64       `json:"base_score,omitempty"`
}

func (s scoreRequest) validate() error {
	if strings.TrimSpace(s.EntityID) == "" {
		return errors.New("missing entity_id")
	}
	if s.BaseScore != nil && (*s.BaseScore < 0 || *s.BaseScore > 1) {
		return errors.New("base_score must be within [0, 1]")
	}
	return nil
}

// HandleScores handles POST /scores requests.
func (h *ScoresHandler) HandleScores(w http.ResponseWriter, r *http.Request) {
	const op = "api.compute_score"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	record, err := h.deps.ComputeScore(r.Context(), req.EntityID, req.Metadata, req.BaseScore)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// HandleScorePath handles GET /scores/{score_id} and
// GET /scores/entity/{entity_id} requests.
func (h *ScoresHandler) HandleScorePath(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_score"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/scores/")

	if entityID, ok := strings.CutPrefix(path, "entity/"); ok {
		if entityID == "" || strings.Contains(entityID, "/") {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		limit, skip := pageParams(r, 10)
		records, err := h.deps.ListScoresByEntity(r.Context(), entityID, limit, skip)
		if err != nil {
			writeDomainError(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
		return
	}

	if path == "" || strings.Contains(path, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	record, err := h.deps.GetScore(r.Context(), path)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// pageParams reads limit/skip query parameters with a default page size.
func pageParams(r *http.Request, defaultLimit int) (limit, skip int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("skip"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			skip = n
		}
	}
	return limit, skip
}
