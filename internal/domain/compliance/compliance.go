// Package compliance implements the Sherlock validation engine: entity
// screening against external compliance providers, with the aggregation of
// their findings into a sanction status and a suggested action.
//
// The bundled providers are deterministic mocks keyed off markers in the
// entity identifier. Real provider integrations plug in behind the Provider
// interface without touching the aggregation.
package compliance

import (
	"context"
	"strings"
	"time"
)

// ProviderStatus reports how a provider check concluded.
type ProviderStatus string

// Provider check outcomes.
const (
	StatusSuccess ProviderStatus = "success"
	StatusPending ProviderStatus = "pending"
	StatusFailed  ProviderStatus = "failed"
)

// SanctionStatus is the aggregated screening verdict.
type SanctionStatus string

// Aggregated sanction verdicts.
const (
	SanctionClean    SanctionStatus = "clean"
	SanctionHighRisk SanctionStatus = "high_risk"
	Sanctioned       SanctionStatus = "sanctioned"
	SanctionUnknown  SanctionStatus = "unknown"
)

// Action is the suggested follow-up for a validation verdict.
type Action string

// Suggested actions.
const (
	ActionProceed Action = "proceed"
	ActionReview  Action = "review_manual"
	ActionBlock   Action = "block"
)

// Flag is one compliance finding reported by a provider.
type Flag struct {
	Name     string  `json:"flag_name"`
	Category string  `json:"category"`
	Value    string  `json:"value"`
	Severity float64 `json:"severity"`
}

// ProviderResult is the outcome of a single provider check.
type ProviderResult struct {
	ProviderName string         `json:"provider_name"`
	Status       ProviderStatus `json:"status"`
	Score        float64        `json:"score"`
	Flags        []Flag         `json:"flags"`
	Message      string         `json:"message"`
}

// Provider screens one entity. Implementations must be safe for concurrent
// use.
type Provider interface {
	Name() string
	Check(ctx context.Context, entityID, entityType string) (ProviderResult, error)
}

// ValidationResult is the persisted outcome of one entity validation.
type ValidationResult struct {
	ID              string           `json:"id"`
	EntityID        string           `json:"entity_id"`
	EntityType      string           `json:"entity_type"`
	SanctionStatus  SanctionStatus   `json:"overall_sanction_status"`
	RiskScore       float64          `json:"overall_risk_score"`
	ProviderResults []ProviderResult `json:"provider_results"`
	Flags           []Flag           `json:"flags"`
	SuggestedAction Action           `json:"suggested_action"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Validator runs the registered providers and aggregates their findings.
type Validator struct {
	providers []Provider
}

// NewValidator builds a Validator. With no providers given it uses the two
// bundled mock providers.
func NewValidator(providers ...Provider) *Validator {
	if len(providers) == 0 {
		providers = []Provider{chainAnalysisMock{}, trmLabsMock{}}
	}
	return &Validator{providers: providers}
}

// Validate screens the entity against every provider and aggregates. The
// overall risk score is the maximum successful provider score; a pending
// provider taints the verdict to unknown unless a harder signal overrides
// it. Sanctions and counter-terrorism findings dominate, then PEP/watchlist
// exposure and severe AML findings, then the bare score threshold.
func (v *Validator) Validate(ctx context.Context, entityID, entityType string) (ValidationResult, error) {
	results := make([]ProviderResult, 0, len(v.providers))
	for _, p := range v.providers {
		res, err := p.Check(ctx, entityID, entityType)
		if err != nil {
			return ValidationResult{}, err
		}
		results = append(results, res)
	}

	status := SanctionClean
	for _, r := range results {
		if r.Status == StatusPending {
			status = SanctionUnknown
			break
		}
	}

	var (
		riskScore        float64
		flags            []Flag
		sanctionOrCFT    bool
		pepOrWatchlist   bool
		severeAMLFinding bool
	)
	for _, r := range results {
		if r.Status != StatusSuccess {
			continue
		}
		if r.Score > riskScore {
			riskScore = r.Score
		}
		for _, f := range r.Flags {
			flags = append(flags, f)
			lower := strings.ToLower(f.Name)
			if strings.Contains(lower, "sanction") || strings.Contains(lower, "cft") {
				sanctionOrCFT = true
			}
			if strings.Contains(lower, "pep") || strings.Contains(lower, "watchlist") {
				pepOrWatchlist = true
			}
			if (f.Category == "AML" || f.Category == "Illicit Activities") && f.Severity >= 0.7 {
				severeAMLFinding = true
			}
		}
	}

	switch {
	case sanctionOrCFT:
		status = Sanctioned
	case pepOrWatchlist || severeAMLFinding:
		status = SanctionHighRisk
	case status == SanctionClean && riskScore >= 0.7:
		status = SanctionHighRisk
	}

	action := ActionProceed
	switch status {
	case Sanctioned:
		action = ActionBlock
	case SanctionHighRisk, SanctionUnknown:
		action = ActionReview
	}

	return ValidationResult{
		EntityID:        entityID,
		EntityType:      entityType,
		SanctionStatus:  status,
		RiskScore:       riskScore,
		ProviderResults: results,
		Flags:           flags,
		SuggestedAction: action,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// chainAnalysisMock simulates an on-chain analytics provider. Markers in the
// entity id drive the findings.
type chainAnalysisMock struct{}

func (chainAnalysisMock) Name() string { return "Chainalysis" }

func (chainAnalysisMock) Check(_ context.Context, entityID, _ string) (ProviderResult, error) {
	id := strings.ToLower(entityID)
	res := ProviderResult{
		ProviderName: "Chainalysis",
		Status:       StatusSuccess,
		Score:        0.1,
		Message:      "No significant issues found by Chainalysis.",
	}

	switch {
	case strings.Contains(id, "sanctioned_entity") || strings.Contains(id, "ofac_test"):
		res.Flags = []Flag{{Name: "OFAC_SDN_Match", Category: "Sanctions", Value: "Direct hit", Severity: 1.0}}
		res.Score = 1.0
		res.Message = "Entity directly linked to OFAC SDN list."
	case strings.Contains(id, "dark_market_exposure"):
		res.Flags = []Flag{
			{Name: "Dark_Market_Involvement", Category: "Illicit Activities", Value: "Indirect exposure", Severity: 0.85},
			{Name: "High_Risk_DEX_Usage", Category: "DeFi & Exchanges", Value: "Extensive DEX only activity", Severity: 0.6},
		}
		res.Score = 0.85
		res.Message = "Entity has exposure to dark market transactions."
	case strings.Contains(id, "high_volume_gambling"):
		res.Flags = []Flag{{Name: "High_Intensity_Gambling", Category: "AML", Value: "Frequent large transfers to gambling sites", Severity: 0.7}}
		res.Score = 0.7
		res.Message = "High volume of transactions with known gambling services."
	case strings.Contains(id, "under_investigation"):
		res.Status = StatusPending
		res.Score = 0.5
		res.Message = "Entity is currently under investigation, manual review required."
	case strings.Contains(id, "mixer_usage"):
		res.Flags = []Flag{{Name: "Crypto_Mixer_Usage", Category: "Privacy Enhancing", Value: "Observed interaction with CoinJoin/mixers", Severity: 0.75}}
		res.Score = 0.75
		res.Message = "Transaction history includes interaction with cryptocurrency mixers."
	}
	return res, nil
}

// trmLabsMock simulates a sanctions/watchlist provider.
type trmLabsMock struct{}

func (trmLabsMock) Name() string { return "TRM Labs" }

func (trmLabsMock) Check(_ context.Context, entityID, _ string) (ProviderResult, error) {
	id := strings.ToLower(entityID)
	res := ProviderResult{
		ProviderName: "TRM Labs",
		Status:       StatusSuccess,
		Score:        0.05,
		Message:      "No red flags from TRM Labs.",
	}

	switch {
	case strings.Contains(id, "terror_finance_org") || strings.Contains(id, "cft_listed"):
		res.Flags = []Flag{{Name: "CFT_List_Match", Category: "Terrorist Financing", Value: "Match on CFT watchlist", Severity: 0.98}}
		res.Score = 0.98
		res.Message = "Entity found on Counter-Terrorism Financing watchlist."
	case strings.Contains(id, "pep_exposed"):
		res.Flags = []Flag{{Name: "PEP_Exposure", Category: "AML", Value: "Politically Exposed Person", Severity: 0.6}}
		res.Score = 0.6
		res.Message = "Entity flagged as Politically Exposed Person."
	case strings.Contains(id, "sanctioned_entity"):
		res.Flags = []Flag{{Name: "Global_Sanctions_Match", Category: "Sanctions", Value: "International sanctions list", Severity: 0.95}}
		res.Score = 0.95
		res.Message = "Entity found on global sanctions lists."
	case strings.Contains(id, "high_risk_jurisdiction"):
		res.Flags = []Flag{{Name: "High_Risk_Jurisdiction_Link", Category: "Geographic Risk", Value: "Tied to known high-risk region", Severity: 0.8}}
		res.Score = 0.8
		res.Message = "Entity linked to a high-risk jurisdiction."
	}
	return res, nil
}
