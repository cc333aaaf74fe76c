// Package model holds the shared persistence-facing types: dynamic flag
// definitions, their evaluation results, and signed audit events.
package model

import (
	"time"

	"github.com/foundlab/reputation/internal/domain/rules"
)

// FlagType classifies the value a dynamic flag carries when active.
type FlagType string

// Flag value types.
const (
	FlagBoolean  FlagType = "boolean"
	FlagNumeric  FlagType = "numeric"
	FlagCategory FlagType = "category"
)

// Valid reports whether t is a known flag type.
func (t FlagType) Valid() bool {
	switch t {
	case FlagBoolean, FlagNumeric, FlagCategory:
		return true
	}
	return false
}

// FlagDefinition is a registered dynamic flag: a named predicate over entity
// metadata plus the weight it contributes to the reputation score while
// active. Names are unique; the predicate is the conjunction of Conditions.
type FlagDefinition struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Type         FlagType          `json:"type"`
	DefaultValue any               `json:"default_value,omitempty"`
	Conditions   []rules.Condition `json:"conditions"`
	Weight       float64           `json:"weight"`
	Category     string            `json:"category,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// FlagUpdate carries the mutable fields of a definition; nil pointers leave
// the stored value untouched.
type FlagUpdate struct {
	Description  *string            `json:"description,omitempty"`
	Type         *FlagType          `json:"type,omitempty"`
	DefaultValue any                `json:"default_value,omitempty"`
	Conditions   *[]rules.Condition `json:"conditions,omitempty"`
	Weight       *float64           `json:"weight,omitempty"`
	Category     *string            `json:"category,omitempty"`
}

// FlagEvaluation is the outcome of evaluating one definition against an
// entity's metadata.
type FlagEvaluation struct {
	Name     string   `json:"flag_name"`
	Type     FlagType `json:"type"`
	Value    any      `json:"value"`
	IsActive bool     `json:"is_active"`
	Weight   float64  `json:"weight"`
	Reason   string   `json:"reason,omitempty"`
}
