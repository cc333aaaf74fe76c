// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/foundlab/reputation/internal/domain/nft"
)

// SigilDependencies defines the interface for sigil metadata generation.
type SigilDependencies interface {
	GenerateSigil(ctx context.Context, entityID, scoreID string, custom nft.Customization) (nft.GeneratedSigil, error)
}

// SigilHandler handles sigil metadata requests.
type SigilHandler struct {
	deps SigilDependencies
}

// NewSigilHandler creates a new sigil handler.
func NewSigilHandler(deps SigilDependencies) *SigilHandler {
	return &SigilHandler{deps: deps}
}

// sigilRequest mirrors the POST /nft/metadata payload.
type sigilRequest struct {
	EntityID        string `json:"entity_id"`
	ScoreID         string `json:"score_id"`
	CustomName      string `json:"custom_name,omitempty"`
	CustomDesc      string `json:"custom_description,omitempty"`
	ImageURL        string `json:"image_url,omitempty"`
	BackgroundColor string `json:"background_color,omitempty"`
}

func (s sigilRequest) validate() error {
	switch {
	case strings.TrimSpace(s.EntityID) == "":
		return errors.New("missing entity_id")
	case strings.TrimSpace(s.ScoreID) == "":
		return errors.New("missing score_id")
	}
	return nft.ValidateColor(s.BackgroundColor)
}

// sigilResponse wraps the generated metadata with a minting hint.
type sigilResponse struct {
	nft.GeneratedSigil
	Message string `json:"message"`
}

// HandleGenerate handles POST /nft/metadata requests.
func (h *SigilHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	const op = "api.generate_sigil"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req sigilRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	sigil, err := h.deps.GenerateSigil(r.Context(), req.EntityID, req.ScoreID, nft.Customization{
		Name:            req.CustomName,
		Description:     req.CustomDesc,
		ImageURL:        req.ImageURL,
		BackgroundColor: req.BackgroundColor,
	})
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, sigilResponse{
		GeneratedSigil: sigil,
		Message:        "NFT metadata generated successfully. Ready for minting!",
	})
}
