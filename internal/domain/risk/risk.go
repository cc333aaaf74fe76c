// Package risk implements trigger assessment: scores and entity metadata are
// checked against registered risk triggers, each carrying a severity level.
package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/foundlab/reputation/internal/domain/rules"
)

// Severity classifies a fired trigger.
type Severity string

// Severity levels, ordered from least to most severe.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ScoreField is the reserved metadata key under which the entity's current
// score value is injected before evaluation. Triggers reference it like any
// other field.
const ScoreField = "score"

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Valid reports whether s is a known severity level.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the ordering position of s; unknown severities rank lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// TriggerDefinition is a registered risk trigger: a named predicate over the
// score-extended metadata plus the severity assigned when it fires.
type TriggerDefinition struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Severity    Severity          `json:"severity"`
	Conditions  []rules.Condition `json:"conditions"`
	Enabled     bool              `json:"enabled"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// FiredTrigger is one trigger that matched during an assessment.
type FiredTrigger struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Reason   string   `json:"reason"`
}

// Assessment is the immutable result of evaluating an entity against the
// registered triggers at a point in time.
type Assessment struct {
	ID            string         `json:"id"`
	EntityID      string         `json:"entity_id"`
	ScoreID       string         `json:"score_id,omitempty"`
	ScoreValue    float64        `json:"score_value"`
	Triggers      []FiredTrigger `json:"triggers"`
	OverallLevel  Severity       `json:"overall_level"`
	RequiresHuman bool           `json:"requires_human"`
	AssessedAt    time.Time      `json:"assessed_at"`
}

// ValidateTrigger rejects malformed trigger definitions at registration time.
func ValidateTrigger(def TriggerDefinition) error {
	if !def.Severity.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownSeverity, def.Severity)
	}
	if err := rules.Validate(rules.Definition{Name: def.Name, Conditions: def.Conditions}); err != nil {
		return err
	}
	if len(def.Conditions) == 0 {
		return fmt.Errorf("%w: trigger %q", ErrNoConditions, def.Name)
	}
	return nil
}

// Assess evaluates the enabled triggers against the entity's metadata
// extended with the score value under the reserved "score" field. Fired
// triggers come back in definition order; the overall level is the highest
// severity among them, low when none fire. The caller's metadata map is
// never mutated.
func Assess(scoreValue float64, metadata rules.Metadata, triggers []TriggerDefinition) ([]FiredTrigger, Severity) {
	extended := make(rules.Metadata, len(metadata)+1)
	for k, v := range metadata {
		extended[k] = v
	}
	extended[ScoreField] = scoreValue

	defs := make([]rules.Definition, 0, len(triggers))
	bySeverity := make(map[string]Severity, len(triggers))
	for _, t := range triggers {
		if !t.Enabled {
			continue
		}
		defs = append(defs, rules.Definition{Name: t.Name, Conditions: t.Conditions})
		bySeverity[t.Name] = t.Severity
	}

	matches := rules.Evaluate(extended, defs)
	fired := make([]FiredTrigger, 0, len(matches))
	overall := SeverityLow
	for _, m := range matches {
		sev := bySeverity[m.Name]
		fired = append(fired, FiredTrigger{Name: m.Name, Severity: sev, Reason: m.Reason})
		if sev.Rank() > overall.Rank() {
			overall = sev
		}
	}
	return fired, overall
}

// RequiresHumanReview reports whether an overall severity warrants manual
// escalation.
func RequiresHumanReview(level Severity) bool {
	return level.Rank() >= severityRank[SeverityHigh]
}

// Summary renders a one-line description of an assessment outcome.
func Summary(fired []FiredTrigger, overall Severity) string {
	if len(fired) == 0 {
		return "no triggers fired"
	}
	names := make([]string, len(fired))
	for i, f := range fired {
		names[i] = f.Name
	}
	return fmt.Sprintf("%d trigger(s) fired, overall %s: %s", len(fired), overall, strings.Join(names, ", "))
}
