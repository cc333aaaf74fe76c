// Package nft builds SigilMesh reputation sigils: ERC-721 style metadata
// documents derived from an entity's score record and its latest risk tier.
package nft

import (
	"fmt"
	"regexp"
	"time"

	"github.com/foundlab/reputation/internal/domain/risk"
	"github.com/foundlab/reputation/internal/domain/scoring"
)

// Default imagery per reputation band.
const (
	imageHighReputation   = "https://foundlab.io/sigil_high_reputation.png"
	imageMediumReputation = "https://foundlab.io/sigil_medium_reputation.png"
	imageLowReputation    = "https://foundlab.io/sigil_low_reputation.png"

	entityBaseURL = "https://foundlab.io/entities/"
)

var hexColorRe = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Attribute is one trait on the metadata document.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// Metadata is the ERC-721 style token metadata document.
type Metadata struct {
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	Image           string      `json:"image"`
	ExternalURL     string      `json:"external_url"`
	Attributes      []Attribute `json:"attributes"`
	BackgroundColor string      `json:"background_color"`
}

// GeneratedSigil is the persisted record of one metadata generation.
type GeneratedSigil struct {
	ID          string    `json:"id"`
	EntityID    string    `json:"entity_id"`
	ScoreID     string    `json:"score_id"`
	Metadata    Metadata  `json:"nft_metadata"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Customization overrides applied to a generated sigil. Empty fields fall
// back to the derived defaults.
type Customization struct {
	Name            string
	Description     string
	ImageURL        string
	BackgroundColor string
}

// ValidateColor rejects background colors that are not 3- or 6-digit hex.
func ValidateColor(color string) error {
	if color == "" {
		return nil
	}
	if !hexColorRe.MatchString(color) {
		return fmt.Errorf("%w: %q", ErrInvalidColor, color)
	}
	return nil
}

// Build derives the sigil metadata for a score record at the given risk
// tier. An empty tier is treated as low.
func Build(score scoring.Record, tier risk.Severity, custom Customization) Metadata {
	if tier == "" {
		tier = risk.SeverityLow
	}

	name := custom.Name
	if name == "" {
		name = fmt.Sprintf("FoundLab Sigil of Reputation for %s...", truncate(score.EntityID, 10))
	}

	description := custom.Description
	if description == "" {
		description = fmt.Sprintf(
			"This FoundLab Reputational Sigil represents the digital trust score of %s. "+
				"It indicates a score of %.4f calculated on %s (UTC). Overall Risk Tier: %s.",
			score.EntityID, score.Value, score.ComputedAt.UTC().Format("2006-01-02"), tier)
	}

	image := custom.ImageURL
	if image == "" {
		switch {
		case score.Value >= 0.8 && tier == risk.SeverityLow:
			image = imageHighReputation
		case score.Value >= 0.5:
			image = imageMediumReputation
		default:
			image = imageLowReputation
		}
	}

	background := custom.BackgroundColor
	if background == "" {
		background = tierColor(tier)
	}

	attributes := []Attribute{
		{TraitType: "FoundLab Score", Value: fmt.Sprintf("%.4f", score.Value)},
		{TraitType: "Risk Tier", Value: string(tier)},
		{TraitType: "Evaluation Date", Value: score.ComputedAt.UTC().Format("2006-01-02")},
		{TraitType: "Algorithm Version", Value: score.AlgorithmVersion},
	}
	for _, f := range score.ContributingFlag {
		attributes = append(attributes, Attribute{
			TraitType: "Flag: " + f.Name,
			Value:     fmt.Sprintf("%v", f.Weight),
		})
	}

	return Metadata{
		Name:            name,
		Description:     description,
		Image:           image,
		ExternalURL:     entityBaseURL + score.EntityID,
		Attributes:      attributes,
		BackgroundColor: background,
	}
}

func tierColor(tier risk.Severity) string {
	switch tier {
	case risk.SeverityLow:
		return "#00FF00"
	case risk.SeverityMedium:
		return "#FFFF00"
	case risk.SeverityHigh:
		return "#FFA500"
	case risk.SeverityCritical:
		return "#FF0000"
	default:
		return "#808080"
	}
}

// truncate shortens s to n runes so multi-byte ids never split mid-rune.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
