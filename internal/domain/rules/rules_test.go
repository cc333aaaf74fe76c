package rules_test

import (
	"testing"
	"time"

	"github.com/foundlab/reputation/internal/domain/rules"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEvaluate(t *testing.T) {
	Convey("Given a set of definitions", t, func() {
		defs := []rules.Definition{
			{Name: "high_risk_country", Conditions: []rules.Condition{
				{Field: "country", Op: rules.OpIn, Value: []any{"SY", "IR", "KP"}},
			}},
			{Name: "large_transaction", Conditions: []rules.Condition{
				{Field: "amount", Op: rules.OpGt, Value: 10000.0},
			}},
			{Name: "verified_kyc", Conditions: []rules.Condition{
				{Field: "kyc_verified", Op: rules.OpEq, Value: true},
			}},
		}

		Convey("When metadata matches some definitions", func() {
			metadata := map[string]any{
				"country":      "IR",
				"amount":       25000.0,
				"kyc_verified": false,
			}
			matches := rules.Evaluate(metadata, defs)

			Convey("Then only the matching names are returned, in definition order", func() {
				So(matches, ShouldHaveLength, 2)
				So(matches[0].Name, ShouldEqual, "high_risk_country")
				So(matches[1].Name, ShouldEqual, "large_transaction")
			})

			Convey("And evaluation is idempotent", func() {
				again := rules.Evaluate(metadata, defs)
				So(again, ShouldResemble, matches)
			})
		})

		Convey("When metadata is empty", func() {
			matches := rules.Evaluate(map[string]any{}, defs)

			Convey("Then nothing matches and no error is raised", func() {
				So(matches, ShouldBeEmpty)
			})
		})
	})
}

func TestEvaluate_Conjunction(t *testing.T) {
	Convey("Given a definition with multiple conditions", t, func() {
		defs := []rules.Definition{
			{Name: "suspicious_combo", Conditions: []rules.Condition{
				{Field: "amount", Op: rules.OpGte, Value: 10000.0},
				{Field: "country", Op: rules.OpNeq, Value: "US"},
			}},
		}

		Convey("When all conditions hold, it matches", func() {
			matches := rules.Evaluate(map[string]any{"amount": 10000.0, "country": "XX"}, defs)
			So(matches, ShouldHaveLength, 1)
		})

		Convey("When one condition fails, it does not match", func() {
			matches := rules.Evaluate(map[string]any{"amount": 10000.0, "country": "US"}, defs)
			So(matches, ShouldBeEmpty)
		})

		Convey("When one field is missing, it does not match", func() {
			matches := rules.Evaluate(map[string]any{"amount": 10000.0}, defs)
			So(matches, ShouldBeEmpty)
		})
	})
}

func TestEvaluate_Operators(t *testing.T) {
	Convey("Given single-condition definitions", t, func() {
		eval := func(cond rules.Condition, metadata map[string]any) bool {
			defs := []rules.Definition{{Name: "probe", Conditions: []rules.Condition{cond}}}
			return len(rules.Evaluate(metadata, defs)) == 1
		}

		Convey("eq and neq do structural equality with numeric normalization", func() {
			So(eval(rules.Condition{Field: "n", Op: rules.OpEq, Value: 5.0}, map[string]any{"n": 5}), ShouldBeTrue)
			So(eval(rules.Condition{Field: "s", Op: rules.OpEq, Value: "a"}, map[string]any{"s": "a"}), ShouldBeTrue)
			So(eval(rules.Condition{Field: "s", Op: rules.OpNeq, Value: "a"}, map[string]any{"s": "b"}), ShouldBeTrue)
			So(eval(rules.Condition{Field: "s", Op: rules.OpNeq, Value: "a"}, map[string]any{"s": "a"}), ShouldBeFalse)
		})

		Convey("ordering operators compare numerics", func() {
			So(eval(rules.Condition{Field: "n", Op: rules.OpGt, Value: 2.0}, map[string]any{"n": 3}), ShouldBeTrue)
			So(eval(rules.Condition{Field: "n", Op: rules.OpGte, Value: 3.0}, map[string]any{"n": 3}), ShouldBeTrue)
			So(eval(rules.Condition{Field: "n", Op: rules.OpLt, Value: 3.0}, map[string]any{"n": 2}), ShouldBeTrue)
			So(eval(rules.Condition{Field: "n", Op: rules.OpLte, Value: 0.2}, map[string]any{"n": 0.1}), ShouldBeTrue)
		})

		Convey("ordering operators compare temporal values", func() {
			earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			So(eval(rules.Condition{Field: "ts", Op: rules.OpGt, Value: "2024-01-01T00:00:00Z"},
				map[string]any{"ts": earlier.Add(time.Hour)}), ShouldBeTrue)
			So(eval(rules.Condition{Field: "ts", Op: rules.OpLt, Value: earlier},
				map[string]any{"ts": "2023-12-31T00:00:00Z"}), ShouldBeTrue)
		})

		Convey("ordering on a non-coercible operand skips the definition", func() {
			So(eval(rules.Condition{Field: "n", Op: rules.OpGt, Value: "not a number"}, map[string]any{"n": 3}), ShouldBeFalse)
			So(eval(rules.Condition{Field: "s", Op: rules.OpGt, Value: 1.0}, map[string]any{"s": "abc"}), ShouldBeFalse)
		})

		Convey("in and not_in check membership", func() {
			So(eval(rules.Condition{Field: "c", Op: rules.OpIn, Value: []any{"A", "B"}}, map[string]any{"c": "B"}), ShouldBeTrue)
			So(eval(rules.Condition{Field: "c", Op: rules.OpIn, Value: []any{"A", "B"}}, map[string]any{"c": "C"}), ShouldBeFalse)
			So(eval(rules.Condition{Field: "c", Op: rules.OpNotIn, Value: []any{"A", "B"}}, map[string]any{"c": "C"}), ShouldBeTrue)
		})

		Convey("contains checks substrings, slice membership and map keys", func() {
			So(eval(rules.Condition{Field: "s", Op: rules.OpContains, Value: "oo"}, map[string]any{"s": "foobar"}), ShouldBeTrue)
			So(eval(rules.Condition{Field: "l", Op: rules.OpContains, Value: "x"}, map[string]any{"l": []any{"x", "y"}}), ShouldBeTrue)
			So(eval(rules.Condition{Field: "m", Op: rules.OpContains, Value: "k"}, map[string]any{"m": map[string]any{"k": 1}}), ShouldBeTrue)
			So(eval(rules.Condition{Field: "n", Op: rules.OpContains, Value: "x"}, map[string]any{"n": 42}), ShouldBeFalse)
			So(eval(rules.Condition{Field: "l", Op: rules.OpNotContains, Value: "z"}, map[string]any{"l": []any{"x"}}), ShouldBeTrue)
		})

		Convey("exists checks key presence regardless of value", func() {
			So(eval(rules.Condition{Field: "k", Op: rules.OpExists}, map[string]any{"k": nil}), ShouldBeTrue)
			So(eval(rules.Condition{Field: "k", Op: rules.OpExists}, map[string]any{}), ShouldBeFalse)
		})
	})
}

func TestEvaluate_MissingField(t *testing.T) {
	Convey("Given a predicate over a missing field", t, func() {
		defs := []rules.Definition{
			{Name: "kyc_gate", Conditions: []rules.Condition{
				{Field: "kyc_level", Op: rules.OpGt, Value: 2.0},
			}},
		}

		Convey("Then the definition is excluded, not an error", func() {
			So(func() { rules.Evaluate(map[string]any{}, defs) }, ShouldNotPanic)
			So(rules.Evaluate(map[string]any{}, defs), ShouldBeEmpty)
		})
	})
}

func TestValidate(t *testing.T) {
	Convey("Given definitions to register", t, func() {
		Convey("A well-formed definition passes", func() {
			err := rules.Validate(rules.Definition{
				Name: "ok",
				Conditions: []rules.Condition{
					{Field: "amount", Op: rules.OpGte, Value: 1.0},
					{Field: "country", Op: rules.OpExists},
				},
			})
			So(err, ShouldBeNil)
		})

		Convey("An unknown operator is rejected", func() {
			err := rules.Validate(rules.Definition{
				Name:       "bad",
				Conditions: []rules.Condition{{Field: "a", Op: "matches", Value: 1}},
			})
			So(err, ShouldWrap, rules.ErrUnknownOperator)
		})

		Convey("An empty field name is rejected", func() {
			err := rules.Validate(rules.Definition{
				Name:       "bad",
				Conditions: []rules.Condition{{Field: " ", Op: rules.OpEq, Value: 1}},
			})
			So(err, ShouldWrap, rules.ErrEmptyField)
		})

		Convey("A missing operand is rejected", func() {
			err := rules.Validate(rules.Definition{
				Name:       "bad",
				Conditions: []rules.Condition{{Field: "a", Op: rules.OpEq}},
			})
			So(err, ShouldWrap, rules.ErrMissingOperand)
		})

		Convey("A non-list operand for in is rejected", func() {
			err := rules.Validate(rules.Definition{
				Name:       "bad",
				Conditions: []rules.Condition{{Field: "a", Op: rules.OpIn, Value: "x"}},
			})
			So(err, ShouldWrap, rules.ErrNotAList)
		})

		Convey("An empty definition name is rejected", func() {
			err := rules.Validate(rules.Definition{Name: ""})
			So(err, ShouldWrap, rules.ErrEmptyField)
		})
	})
}
