// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/foundlab/reputation/internal/domain/gas"
)

// GasDependencies defines the interface for gas monitoring operations.
type GasDependencies interface {
	IngestGasRecord(ctx context.Context, record gas.Record) (gas.Record, error)
	ListGasRecords(ctx context.Context, entityID string, limit, skip int) ([]gas.Record, error)
	AnalyzeGas(ctx context.Context, entityID string, lookbackDays int) (gas.AnalysisResult, error)
}

// GasHandler handles gas monitoring requests.
type GasHandler struct {
	deps GasDependencies
}

// NewGasHandler creates a new gas handler.
func NewGasHandler(deps GasDependencies) *GasHandler {
	return &GasHandler{deps: deps}
}

// gasIngestRequest mirrors the POST /gasmonitor/records payload.
type gasIngestRequest struct {
	EntityID        string  `json:"entity_id"`
	TransactionHash string  `json:"transaction_hash"`
	GasUsed         float64 `json:"gas_used"`
	GasPriceGwei    float64 `json:"gas_price_gwei,omitempty"`
	BlockNumber     int64   `json:"block_number,omitempty"`
	ChainID         string  `json:"chain_id,omitempty"`
	TransactionType string  `json:"transaction_type,omitempty"`
	Timestamp       string  `json:"timestamp,omitempty"`
}

func (g gasIngestRequest) validate() error {
	switch {
	case strings.TrimSpace(g.EntityID) == "":
		return errors.New("missing entity_id")
	case strings.TrimSpace(g.TransactionHash) == "":
		return errors.New("missing transaction_hash")
	case g.GasUsed <= 0:
		return errors.New("gas_used must be positive")
	}
	if g.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, g.Timestamp); err != nil {
			return errors.New("invalid timestamp; must be RFC3339")
		}
	}
	return nil
}

// gasAnalyzeRequest mirrors the POST /gasmonitor/analyze payload.
type gasAnalyzeRequest struct {
	EntityID     string `json:"entity_id"`
	LookbackDays int    `json:"lookback_days,omitempty"`
}

// HandleIngest handles POST /gasmonitor/records requests.
func (h *GasHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	const op = "api.ingest_gas"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req gasIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != "" {
		ts, _ = time.Parse(time.RFC3339, req.Timestamp)
	}
	record, err := h.deps.IngestGasRecord(r.Context(), gas.Record{
		EntityID:        req.EntityID,
		TransactionHash: req.TransactionHash,
		GasUsed:         req.GasUsed,
		GasPriceGwei:    req.GasPriceGwei,
		BlockNumber:     req.BlockNumber,
		ChainID:         req.ChainID,
		TransactionType: req.TransactionType,
		Timestamp:       ts,
	})
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// HandleRecords handles GET /gasmonitor/records/{entity_id} requests.
func (h *GasHandler) HandleRecords(w http.ResponseWriter, r *http.Request) {
	const op = "api.gas_records"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	entityID := strings.TrimPrefix(r.URL.Path, "/gasmonitor/records/")
	if entityID == "" || strings.Contains(entityID, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	limit, skip := pageParams(r, 10)
	records, err := h.deps.ListGasRecords(r.Context(), entityID, limit, skip)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleAnalyze handles POST /gasmonitor/analyze requests.
func (h *GasHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	const op = "api.analyze_gas"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req gasAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.EntityID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing entity_id")))
		return
	}

	result, err := h.deps.AnalyzeGas(r.Context(), req.EntityID, req.LookbackDays)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
