// Package rules implements the generic rule matcher shared by the dynamic
// flag engine and the risk trigger assessment.
//
// A definition carries a predicate: a conjunction of atomic conditions over
// an entity's metadata. Evaluation is a pure function of (metadata,
// definitions): no hidden state, no randomness, and the output preserves
// definition order. Data-shaped problems (missing field, non-coercible
// operand) never raise; the affected definition is simply treated as
// non-matching. Structural problems (unknown operator, empty field) are
// caught by Validate at registration time and never reach evaluation.
package rules

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Operator identifies an atomic comparison.
type Operator string

// Supported operators.
const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpExists      Operator = "exists"
)

// Condition is one atomic field/operator/value check.
type Condition struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value any      `json:"value,omitempty"`
}

// Definition is the matcher's view of a rule: a unique name plus the
// conjunction of conditions that must all hold for the rule to match.
type Definition struct {
	Name       string      `json:"name"`
	Conditions []Condition `json:"conditions"`
}

// Match reports one matched definition.
type Match struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Metadata is the entity attribute mapping evaluated against. It is treated
// as read-only by the matcher.
type Metadata = map[string]any

// Evaluate checks every definition against metadata and returns the matches
// in definition order. A definition matches iff all of its conditions hold;
// a definition with no conditions never matches. Evaluate never returns an
// error: per-definition failures degrade to "no match".
func Evaluate(metadata Metadata, definitions []Definition) []Match {
	matches := make([]Match, 0, len(definitions))
	for _, def := range definitions {
		if len(def.Conditions) == 0 {
			continue
		}
		ok := true
		for _, cond := range def.Conditions {
			if !evalCondition(cond, metadata) {
				ok = false
				break
			}
		}
		if ok {
			matches = append(matches, Match{Name: def.Name, Reason: matchReason(def.Conditions)})
		}
	}
	return matches
}

// Validate rejects structurally malformed definitions. It is the
// registration-time guard: anything passing Validate is safe to hand to
// Evaluate.
func Validate(def Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: definition name", ErrEmptyField)
	}
	for i, cond := range def.Conditions {
		if err := ValidateCondition(cond); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

// ValidateCondition rejects a single malformed condition.
func ValidateCondition(cond Condition) error {
	if strings.TrimSpace(cond.Field) == "" {
		return fmt.Errorf("%w: condition field", ErrEmptyField)
	}
	switch cond.Op {
	case OpExists:
		return nil
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains, OpNotContains:
		if cond.Value == nil {
			return fmt.Errorf("%w: operator %q", ErrMissingOperand, cond.Op)
		}
		return nil
	case OpIn, OpNotIn:
		if cond.Value == nil {
			return fmt.Errorf("%w: operator %q", ErrMissingOperand, cond.Op)
		}
		if reflect.ValueOf(cond.Value).Kind() != reflect.Slice {
			return fmt.Errorf("%w: operator %q requires a list operand", ErrNotAList, cond.Op)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperator, cond.Op)
	}
}

// evalCondition applies the skip-don't-fail policy: any missing field or
// type mismatch yields false rather than an error.
func evalCondition(cond Condition, metadata Metadata) bool {
	fieldValue, present := metadata[cond.Field]

	if cond.Op == OpExists {
		return present
	}
	if !present || fieldValue == nil {
		return false
	}

	switch cond.Op {
	case OpEq:
		return equalValues(fieldValue, cond.Value)
	case OpNeq:
		return !equalValues(fieldValue, cond.Value)
	case OpGt, OpGte, OpLt, OpLte:
		return evalOrdered(cond.Op, fieldValue, cond.Value)
	case OpIn:
		return memberOf(fieldValue, cond.Value)
	case OpNotIn:
		if reflect.ValueOf(cond.Value).Kind() != reflect.Slice {
			return false
		}
		return !memberOf(fieldValue, cond.Value)
	case OpContains:
		return containsValue(fieldValue, cond.Value)
	case OpNotContains:
		if !isContainer(fieldValue) {
			return false
		}
		return !containsValue(fieldValue, cond.Value)
	default:
		// Unknown operators are rejected by Validate; treat as non-matching.
		return false
	}
}

// equalValues does structural equality with numeric normalization so that
// int metadata compares equal to float64 operands decoded from JSON.
func equalValues(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

// evalOrdered compares two operands after coercing both to a common ordered
// type: float64 for numerics, time.Time for temporal values. Non-coercible
// operands yield false.
func evalOrdered(op Operator, fieldValue, operand any) bool {
	if af, ok := toFloat(fieldValue); ok {
		bf, ok := toFloat(operand)
		if !ok {
			return false
		}
		return compareOrdered(op, af, bf)
	}
	at, aok := toTime(fieldValue)
	bt, bok := toTime(operand)
	if aok && bok {
		return compareOrdered(op, float64(at.UnixNano()), float64(bt.UnixNano()))
	}
	return false
}

func compareOrdered(op Operator, a, b float64) bool {
	switch op {
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	default:
		return false
	}
}

// memberOf reports whether needle occurs in the list operand.
func memberOf(needle, list any) bool {
	v := reflect.ValueOf(list)
	if v.Kind() != reflect.Slice {
		return false
	}
	for i := 0; i < v.Len(); i++ {
		if equalValues(needle, v.Index(i).Interface()) {
			return true
		}
	}
	return false
}

// containsValue reports whether a sequence-valued field contains needle:
// substring for strings, membership for slices, key presence for maps.
func containsValue(fieldValue, needle any) bool {
	switch fv := fieldValue.(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(fv, s)
	}
	v := reflect.ValueOf(fieldValue)
	switch v.Kind() {
	case reflect.Slice:
		return memberOf(needle, fieldValue)
	case reflect.Map:
		key, ok := needle.(string)
		if !ok {
			return false
		}
		if v.Type().Key().Kind() != reflect.String {
			return false
		}
		return v.MapIndex(reflect.ValueOf(key)).IsValid()
	default:
		return false
	}
}

func isContainer(v any) bool {
	if _, ok := v.(string); ok {
		return true
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Map
}

// toFloat coerces the common numeric kinds to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// toTime coerces time.Time values and RFC3339 strings.
func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// matchReason renders the conjunction that sealed a match, mirroring the
// reason strings surfaced by the flag-apply API.
func matchReason(conds []Condition) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		if c.Op == OpExists {
			parts[i] = fmt.Sprintf("%s %s", c.Field, c.Op)
			continue
		}
		parts[i] = fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
	}
	return "matched: " + strings.Join(parts, " AND ")
}
