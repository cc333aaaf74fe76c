package scoring_test

import (
	"math"
	"testing"

	"github.com/foundlab/reputation/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCompute(t *testing.T) {
	Convey("Given a calculator with default configuration", t, func() {
		calc := scoring.New()

		Convey("The weights of active flags are added to the base", func() {
			value, contributing, skipped := calc.Compute(0.5, []scoring.ActiveFlag{
				{Name: "sanctioned", Weight: -0.6},
				{Name: "verified_kyc", Weight: 0.2},
			})

			So(value, ShouldAlmostEqual, 0.1)
			So(contributing, ShouldHaveLength, 2)
			So(contributing[0].Name, ShouldEqual, "sanctioned")
			So(contributing[1].Name, ShouldEqual, "verified_kyc")
			So(skipped, ShouldBeEmpty)
		})

		Convey("The result is clamped once, after the full sum", func() {
			value, _, _ := calc.Compute(0.9, []scoring.ActiveFlag{
				{Name: "high_volume", Weight: 0.5},
			})
			So(value, ShouldEqual, 1.0)

			// Transiently out-of-bounds partial sums recover before clamping.
			value, _, _ = calc.Compute(0.9, []scoring.ActiveFlag{
				{Name: "high_volume", Weight: 0.5},
				{Name: "sanctioned", Weight: -0.9},
			})
			So(value, ShouldAlmostEqual, 0.5)
		})

		Convey("Negative overflow clamps to the lower bound", func() {
			value, _, _ := calc.Compute(0.2, []scoring.ActiveFlag{
				{Name: "sanctioned", Weight: -0.6},
			})
			So(value, ShouldEqual, 0.0)
		})

		Convey("No active flags returns the clamped base", func() {
			value, contributing, skipped := calc.Compute(0.7, nil)
			So(value, ShouldEqual, 0.7)
			So(contributing, ShouldBeEmpty)
			So(skipped, ShouldBeEmpty)

			value, _, _ = calc.Compute(1.8, nil)
			So(value, ShouldEqual, 1.0)
		})

		Convey("A zero-weight flag contributes but never changes the value", func() {
			with, _, _ := calc.Compute(0.5, []scoring.ActiveFlag{{Name: "noop", Weight: 0}})
			without, _, _ := calc.Compute(0.5, nil)
			So(with, ShouldEqual, without)
		})

		Convey("NaN and infinite weights are skipped and reported", func() {
			value, contributing, skipped := calc.Compute(0.5, []scoring.ActiveFlag{
				{Name: "broken_nan", Weight: math.NaN()},
				{Name: "verified_kyc", Weight: 0.2},
				{Name: "broken_inf", Weight: math.Inf(1)},
			})

			So(value, ShouldAlmostEqual, 0.7)
			So(contributing, ShouldHaveLength, 1)
			So(contributing[0].Name, ShouldEqual, "verified_kyc")
			So(skipped, ShouldResemble, []string{"broken_nan", "broken_inf"})
		})

		Convey("Compute is a pure function of its inputs", func() {
			flags := []scoring.ActiveFlag{{Name: "a", Weight: 0.1}, {Name: "b", Weight: -0.3}}
			v1, c1, _ := calc.Compute(0.5, flags)
			v2, c2, _ := calc.Compute(0.5, flags)
			So(v1, ShouldEqual, v2)
			So(c1, ShouldResemble, c2)
		})
	})
}

func TestOptions(t *testing.T) {
	Convey("Given calculator options", t, func() {
		Convey("WithBaseScore changes the default base", func() {
			calc := scoring.New(scoring.WithBaseScore(0.8))
			So(calc.BaseScore(), ShouldEqual, 0.8)
		})

		Convey("WithBaseScore rejects non-finite values", func() {
			calc := scoring.New(scoring.WithBaseScore(math.NaN()))
			So(calc.BaseScore(), ShouldEqual, 0.5)
		})

		Convey("WithBounds changes the clamp interval", func() {
			calc := scoring.New(scoring.WithBounds(0, 100))
			value, _, _ := calc.Compute(50, []scoring.ActiveFlag{{Name: "boost", Weight: 75}})
			So(value, ShouldEqual, 100.0)
		})

		Convey("WithBounds ignores an inverted interval", func() {
			calc := scoring.New(scoring.WithBounds(1, 0))
			value, _, _ := calc.Compute(0.5, nil)
			So(value, ShouldEqual, 0.5)
		})
	})
}

func TestRawSum(t *testing.T) {
	Convey("RawSum reports the unclamped sum", t, func() {
		calc := scoring.New()
		raw := calc.RawSum(0.9, []scoring.ActiveFlag{{Name: "high_volume", Weight: 0.5}})
		So(raw, ShouldAlmostEqual, 1.4)

		Convey("And excludes non-finite weights like Compute", func() {
			raw := calc.RawSum(0.5, []scoring.ActiveFlag{{Name: "bad", Weight: math.Inf(-1)}})
			So(raw, ShouldEqual, 0.5)
		})
	})
}
