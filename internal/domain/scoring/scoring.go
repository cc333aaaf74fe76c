// Package scoring computes the bounded reputation probability P(x) from a
// base score and the weights of the currently active flags.
//
// The combination policy is additive: value = base + sum(weights), clamped
// once to the configured bounds after the full sum. Base score and bounds
// are injectable; the defaults are the neutral midpoint 0.5 on [0, 1].
// Multiplicative or Bayesian combination is a possible future extension and
// deliberately out of scope.
package scoring

import (
	"math"
	"time"
)

// Default scoring configuration constants.
const (
	// Version identifies the scoring algorithm recorded on every ScoreRecord.
	Version = "2.0.0"

	defaultBaseScore  = 0.5
	defaultLowerBound = 0.0
	defaultUpperBound = 1.0
)

// ActiveFlag is one flag contributing to a score: the output of the rule
// matcher joined with the flag definition's weight.
type ActiveFlag struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Contribution records a flag weight that was actually applied.
type Contribution struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Record is the immutable result of one score computation. New computations
// produce new records; past records are never mutated.
type Record struct {
	ID               string         `json:"id"`
	EntityID         string         `json:"entity_id"`
	Value            float64        `json:"value"`
	RawSum           float64        `json:"raw_sum"`
	Base             float64        `json:"base"`
	ContributingFlag []Contribution `json:"contributing_flags"`
	SkippedFlags     []string       `json:"skipped_flags,omitempty"`
	AlgorithmVersion string         `json:"algorithm_version"`
	Summary          string         `json:"summary"`
	ComputedAt       time.Time      `json:"computed_at"`
}

// Option applies a configuration option to the Calculator.
type Option func(*Calculator)

// WithBaseScore sets the default base score used when the caller does not
// supply one.
func WithBaseScore(base float64) Option {
	return func(c *Calculator) {
		if !math.IsNaN(base) && !math.IsInf(base, 0) {
			c.baseScore = base
		}
	}
}

// WithBounds sets the clamp interval for the final value.
func WithBounds(lower, upper float64) Option {
	return func(c *Calculator) {
		if lower < upper {
			c.lowerBound = lower
			c.upperBound = upper
		}
	}
}

// Calculator computes bounded reputation scores. It holds configuration
// only; Compute is a pure function of its arguments and that configuration.
type Calculator struct {
	baseScore  float64
	lowerBound float64
	upperBound float64
}

// New creates a Calculator with configuration options.
func New(opts ...Option) *Calculator {
	c := &Calculator{
		baseScore:  defaultBaseScore,
		lowerBound: defaultLowerBound,
		upperBound: defaultUpperBound,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseScore returns the configured default base score.
func (c *Calculator) BaseScore() float64 {
	return c.baseScore
}

// Compute applies the active flags' weights to base and clamps the result.
//
// The contributing list mirrors activeFlags exactly, in order. A flag whose
// weight is NaN or infinite is excluded from the sum and reported in
// SkippedFlags instead; the computation never aborts. Clamping happens once,
// after the full sum, so intermediate partial sums may transiently exceed
// the bounds.
func (c *Calculator) Compute(base float64, activeFlags []ActiveFlag) (float64, []Contribution, []string) {
	sum := base
	contributing := make([]Contribution, 0, len(activeFlags))
	var skipped []string

	for _, f := range activeFlags {
		if math.IsNaN(f.Weight) || math.IsInf(f.Weight, 0) {
			skipped = append(skipped, f.Name)
			continue
		}
		sum += f.Weight
		contributing = append(contributing, Contribution{Name: f.Name, Weight: f.Weight})
	}

	return c.Clamp(sum), contributing, skipped
}

// Clamp bounds a value to the configured interval.
func (c *Calculator) Clamp(v float64) float64 {
	return math.Max(c.lowerBound, math.Min(c.upperBound, v))
}

// RawSum returns the unclamped additive sum for auditability. Skipped
// weights are excluded, mirroring Compute.
func (c *Calculator) RawSum(base float64, activeFlags []ActiveFlag) float64 {
	sum := base
	for _, f := range activeFlags {
		if math.IsNaN(f.Weight) || math.IsInf(f.Weight, 0) {
			continue
		}
		sum += f.Weight
	}
	return sum
}
