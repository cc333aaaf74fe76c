// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/foundlab/reputation/internal/adapters/repository"
	"github.com/foundlab/reputation/internal/domain/gas"
	"github.com/foundlab/reputation/internal/domain/model"
	"github.com/foundlab/reputation/internal/domain/nft"
	"github.com/foundlab/reputation/internal/domain/risk"
	"github.com/foundlab/reputation/internal/domain/rules"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	ScoreDependencies
	FlagDependencies
	SentinelaDependencies
	SherlockDependencies
	SigilDependencies
	GasDependencies
	AuditDependencies
}

// AuditRecorder enqueues an audit event for async persistence. Returns
// false on backpressure; the request itself is never failed over auditing.
type AuditRecorder interface {
	RecordAudit(ctx context.Context, event model.AuditEvent) bool
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	scoresHandler    *ScoresHandler
	flagsHandler     *FlagsHandler
	sentinelaHandler *SentinelaHandler
	sherlockHandler  *SherlockHandler
	sigilHandler     *SigilHandler
	gasHandler       *GasHandler
	auditHandler     *AuditHandler
	recorder         AuditRecorder
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, recorder AuditRecorder) *Server {
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(statsProvider),
		scoresHandler:    NewScoresHandler(deps),
		flagsHandler:     NewFlagsHandler(deps),
		sentinelaHandler: NewSentinelaHandler(deps),
		sherlockHandler:  NewSherlockHandler(deps),
		sigilHandler:     NewSigilHandler(deps),
		gasHandler:       NewGasHandler(deps),
		auditHandler:     NewAuditHandler(deps),
		recorder:         recorder,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	route := func(pattern, endpoint string, handler http.HandlerFunc) {
		mux.HandleFunc(pattern, AuditMiddleware(MetricsMiddleware(handler, endpoint), endpoint, s.recorder))
	}

	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	route("/scores", "scores", s.scoresHandler.HandleScores)
	route("/scores/", "scores", s.scoresHandler.HandleScorePath)
	route("/flags", "flags", s.flagsHandler.HandleFlags)
	route("/flags/", "flags", s.flagsHandler.HandleFlagPath)
	route("/sentinela/triggers", "sentinela_triggers", s.sentinelaHandler.HandleTriggers)
	route("/sentinela/triggers/", "sentinela_triggers", s.sentinelaHandler.HandleTriggerPath)
	route("/sentinela/assess", "sentinela_assess", s.sentinelaHandler.HandleAssess)
	route("/sentinela/assessments/", "sentinela_assessments", s.sentinelaHandler.HandleAssessments)
	route("/sherlock/validate", "sherlock_validate", s.sherlockHandler.HandleValidate)
	route("/sherlock/results/", "sherlock_results", s.sherlockHandler.HandleResults)
	route("/nft/metadata", "nft_metadata", s.sigilHandler.HandleGenerate)
	route("/gasmonitor/records", "gas_records", s.gasHandler.HandleIngest)
	route("/gasmonitor/records/", "gas_records", s.gasHandler.HandleRecords)
	route("/gasmonitor/analyze", "gas_analyze", s.gasHandler.HandleAnalyze)
	route("/audit", "audit", s.auditHandler.HandleList)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError translates well-known error kinds to their HTTP shape.
func writeDomainError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, gas.ErrNoRecords):
		writeError(w, http.StatusNotFound, "not_found", Wrap(op, err))
	case errors.Is(err, repository.ErrDuplicate):
		writeError(w, http.StatusConflict, "conflict", Wrap(op, err))
	case errors.Is(err, model.ErrEntityMismatch):
		writeError(w, http.StatusBadRequest, "entity_mismatch", Wrap(op, err))
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	}
}

// isValidationError reports whether err stems from definition or input
// validation.
func isValidationError(err error) bool {
	return errors.Is(err, rules.ErrUnknownOperator) ||
		errors.Is(err, rules.ErrEmptyField) ||
		errors.Is(err, rules.ErrMissingOperand) ||
		errors.Is(err, rules.ErrNotAList) ||
		errors.Is(err, risk.ErrUnknownSeverity) ||
		errors.Is(err, risk.ErrNoConditions) ||
		errors.Is(err, nft.ErrInvalidColor)
}
