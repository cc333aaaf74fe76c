// Package gas analyzes on-chain gas consumption for anomalous spending
// patterns. A spike anomaly is a transaction whose gas use exceeds the
// entity's windowed mean by a configurable multiplier and an absolute floor.
package gas

import (
	"fmt"
	"time"
)

// Default anomaly thresholds.
const (
	DefaultSpikeMultiplier = 4.0
	DefaultSpikeMinGas     = 100_000
)

// AnomalyTypeSpike labels transactions using unusually high gas.
const AnomalyTypeSpike = "high_gas_spike"

// Record is one ingested gas consumption observation.
type Record struct {
	ID              string    `json:"id"`
	EntityID        string    `json:"entity_id"`
	TransactionHash string    `json:"transaction_hash"`
	GasUsed         float64   `json:"gas_used"`
	GasPriceGwei    float64   `json:"gas_price_gwei,omitempty"`
	BlockNumber     int64     `json:"block_number,omitempty"`
	ChainID         string    `json:"chain_id,omitempty"`
	TransactionType string    `json:"transaction_type,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Anomaly is one detected irregularity.
type Anomaly struct {
	EntityID     string   `json:"entity_id"`
	Type         string   `json:"anomaly_type"`
	Score        float64  `json:"score"`
	Description  string   `json:"description"`
	Transactions []string `json:"transactions_involved"`
}

// AnalysisResult summarizes one analysis run over a lookback window.
type AnalysisResult struct {
	EntityID         string    `json:"entity_id"`
	PeriodStart      time.Time `json:"analysis_period_start"`
	PeriodEnd        time.Time `json:"analysis_period_end"`
	TransactionCount int       `json:"total_transactions_analyzed"`
	AverageGas       float64   `json:"average_gas_per_transaction"`
	Anomalies        []Anomaly `json:"anomalies"`
	Summary          string    `json:"summary_message"`
}

// Option applies a configuration option to the Analyzer.
type Option func(*Analyzer)

// WithSpikeMultiplier sets how far above the mean a transaction must land to
// count as a spike.
func WithSpikeMultiplier(m float64) Option {
	return func(a *Analyzer) {
		if m > 1 {
			a.spikeMultiplier = m
		}
	}
}

// WithSpikeMinGas sets the absolute gas floor below which spikes are ignored.
func WithSpikeMinGas(min float64) Option {
	return func(a *Analyzer) {
		if min > 0 {
			a.spikeMinGas = min
		}
	}
}

// Analyzer detects gas consumption anomalies.
type Analyzer struct {
	spikeMultiplier float64
	spikeMinGas     float64
}

// NewAnalyzer creates an Analyzer with configuration options.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		spikeMultiplier: DefaultSpikeMultiplier,
		spikeMinGas:     DefaultSpikeMinGas,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze inspects the records of one entity over [periodStart, periodEnd].
// Records outside the window are ignored; an empty window yields
// ErrNoRecords. The anomaly score grows with how far past the threshold the
// transaction landed, capped at 1.
func (a *Analyzer) Analyze(entityID string, records []Record, periodStart, periodEnd time.Time) (AnalysisResult, error) {
	var windowed []Record
	for _, r := range records {
		if r.Timestamp.Before(periodStart) || r.Timestamp.After(periodEnd) {
			continue
		}
		windowed = append(windowed, r)
	}
	if len(windowed) == 0 {
		return AnalysisResult{}, fmt.Errorf("%w: entity %q", ErrNoRecords, entityID)
	}

	var total float64
	for _, r := range windowed {
		total += r.GasUsed
	}
	avg := total / float64(len(windowed))
	threshold := avg * a.spikeMultiplier

	var anomalies []Anomaly
	for _, r := range windowed {
		if r.GasUsed <= threshold || r.GasUsed <= a.spikeMinGas {
			continue
		}
		score := r.GasUsed/threshold - 1
		if score > 1 {
			score = 1
		}
		anomalies = append(anomalies, Anomaly{
			EntityID: entityID,
			Type:     AnomalyTypeSpike,
			Score:    score,
			Description: fmt.Sprintf(
				"Transaction %s used unusually high gas: %.0f (avg: %.0f, threshold: %.0f)",
				r.TransactionHash, r.GasUsed, avg, threshold),
			Transactions: []string{r.TransactionHash},
		})
	}

	summary := fmt.Sprintf("Analysis for entity %q finished. ", entityID)
	if len(anomalies) > 0 {
		summary += fmt.Sprintf("Detected %d potential anomalies.", len(anomalies))
	} else {
		summary += "No significant anomalies detected based on current rules."
	}

	return AnalysisResult{
		EntityID:         entityID,
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		TransactionCount: len(windowed),
		AverageGas:       avg,
		Anomalies:        anomalies,
		Summary:          summary,
	}, nil
}
