package service

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/foundlab/reputation/internal/adapters/repository"
	"github.com/foundlab/reputation/internal/domain/compliance"
	"github.com/foundlab/reputation/internal/domain/gas"
	"github.com/foundlab/reputation/internal/domain/model"
	"github.com/foundlab/reputation/internal/domain/nft"
	"github.com/foundlab/reputation/internal/domain/risk"
	"github.com/foundlab/reputation/internal/domain/rules"
	"github.com/foundlab/reputation/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// startedService builds a service on the in-memory store and starts it.
func startedService(ctx context.Context, opts ...Option) *Service {
	svc := New(append([]Option{WithWorkerCount(2), WithQueueSize(100)}, opts...)...)
	if err := svc.Start(ctx); err != nil {
		panic(err)
	}
	return svc
}

// waitFor polls cond until it is true or the deadline passes.
func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		ctx := context.Background()
		svc := New(WithWorkerCount(2), WithQueueSize(100))

		Convey("When started", func() {
			err := svc.Start(ctx)
			defer svc.Stop()
			So(err, ShouldBeNil)

			Convey("Then stats report it running", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldBeTrue)
				So(stats["workerCount"], ShouldEqual, 2)
				So(stats["queueSize"], ShouldEqual, 100)
				So(stats, ShouldContainKey, "auditQueueLength")
				So(stats, ShouldContainKey, "store")
			})

			Convey("And starting again is a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})
		})

		Convey("When stopped without starting", func() {
			So(func() { svc.Stop() }, ShouldNotPanic)
		})
	})
}

func TestComputeScore(t *testing.T) {
	Convey("Given a started service with flag definitions", t, func() {
		ctx := context.Background()
		svc := startedService(ctx)
		defer svc.Stop()

		_, err := svc.CreateFlag(ctx, model.FlagDefinition{
			Name:   "high_risk_country",
			Type:   model.FlagBoolean,
			Weight: -0.6,
			Conditions: []rules.Condition{
				{Field: "country", Op: rules.OpIn, Value: []any{"IR", "KP"}},
			},
		})
		So(err, ShouldBeNil)
		_, err = svc.CreateFlag(ctx, model.FlagDefinition{
			Name:   "verified_identity",
			Type:   model.FlagBoolean,
			Weight: 0.2,
			Conditions: []rules.Condition{
				{Field: "kyc_verified", Op: rules.OpEq, Value: true},
			},
		})
		So(err, ShouldBeNil)

		Convey("When both flags match", func() {
			record, err := svc.ComputeScore(ctx, "entity-1", map[string]any{
				"country":      "IR",
				"kyc_verified": true,
			}, nil)
			So(err, ShouldBeNil)

			Convey("Then the score combines base and weights", func() {
				So(record.Value, ShouldAlmostEqual, 0.1)
				So(record.Base, ShouldAlmostEqual, 0.5)
				So(len(record.ContributingFlag), ShouldEqual, 2)
				So(record.ID, ShouldNotBeEmpty)
				So(record.AlgorithmVersion, ShouldNotBeEmpty)
			})

			Convey("And the record is persisted and retrievable", func() {
				got, err := svc.GetScore(ctx, record.ID)
				So(err, ShouldBeNil)
				So(got.Value, ShouldAlmostEqual, record.Value)

				history, err := svc.ListScoresByEntity(ctx, "entity-1", 10, 0)
				So(err, ShouldBeNil)
				So(len(history), ShouldEqual, 1)
			})
		})

		Convey("When a caller supplies a base score", func() {
			base := 0.9
			record, err := svc.ComputeScore(ctx, "entity-2", map[string]any{
				"kyc_verified": true,
			}, &base)
			So(err, ShouldBeNil)

			Convey("Then the sum clamps to the upper bound", func() {
				So(record.Value, ShouldAlmostEqual, 1.0)
				So(record.RawSum, ShouldAlmostEqual, 1.1)
			})
		})

		Convey("When no flags match", func() {
			record, err := svc.ComputeScore(ctx, "entity-3", map[string]any{
				"country": "BR",
			}, nil)
			So(err, ShouldBeNil)
			So(record.Value, ShouldAlmostEqual, 0.5)
			So(record.ContributingFlag, ShouldBeEmpty)
		})
	})
}

func TestFlagManagement(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := startedService(ctx)
		defer svc.Stop()

		Convey("When creating a flag with an unknown operator", func() {
			_, err := svc.CreateFlag(ctx, model.FlagDefinition{
				Name:       "bad",
				Type:       model.FlagBoolean,
				Conditions: []rules.Condition{{Field: "x", Op: "matches", Value: 1}},
			})
			So(err, ShouldWrap, rules.ErrUnknownOperator)
		})

		Convey("When creating the same flag twice", func() {
			def := model.FlagDefinition{
				Name:       "dup",
				Type:       model.FlagBoolean,
				Conditions: []rules.Condition{{Field: "x", Op: rules.OpExists}},
			}
			_, err := svc.CreateFlag(ctx, def)
			So(err, ShouldBeNil)
			_, err = svc.CreateFlag(ctx, def)
			So(err, ShouldWrap, repository.ErrDuplicate)
		})

		Convey("When updating a flag with a malformed condition", func() {
			def := model.FlagDefinition{
				Name:       "upd",
				Type:       model.FlagBoolean,
				Conditions: []rules.Condition{{Field: "x", Op: rules.OpExists}},
			}
			_, err := svc.CreateFlag(ctx, def)
			So(err, ShouldBeNil)

			bad := []rules.Condition{{Field: "", Op: rules.OpExists}}
			_, err = svc.UpdateFlag(ctx, "upd", model.FlagUpdate{Conditions: &bad})
			So(err, ShouldWrap, rules.ErrEmptyField)
		})
	})
}

func TestApplyFlags(t *testing.T) {
	Convey("Given a started service with mixed flag definitions", t, func() {
		ctx := context.Background()
		svc := startedService(ctx)
		defer svc.Stop()

		_, err := svc.CreateFlag(ctx, model.FlagDefinition{
			Name:   "sanctions_hit",
			Type:   model.FlagBoolean,
			Weight: -0.9,
			Conditions: []rules.Condition{
				{Field: "sanctions", Op: rules.OpEq, Value: true},
			},
		})
		So(err, ShouldBeNil)
		_, err = svc.CreateFlag(ctx, model.FlagDefinition{
			Name:         "region",
			Type:         model.FlagCategory,
			DefaultValue: "latam",
		})
		So(err, ShouldBeNil)

		Convey("When applying flags to matching metadata", func() {
			evals, err := svc.ApplyFlags(ctx, "entity-1", map[string]any{"sanctions": true})
			So(err, ShouldBeNil)
			So(len(evals), ShouldEqual, 2)

			Convey("Then the conditional flag is active with reason", func() {
				So(evals[0].Name, ShouldEqual, "sanctions_hit")
				So(evals[0].IsActive, ShouldBeTrue)
				So(evals[0].Value, ShouldEqual, true)
				So(evals[0].Reason, ShouldContainSubstring, "sanctions")
			})

			Convey("And the default-value flag is active with its default", func() {
				So(evals[1].Name, ShouldEqual, "region")
				So(evals[1].IsActive, ShouldBeTrue)
				So(evals[1].Value, ShouldEqual, "latam")
			})
		})

		Convey("When applying flags to non-matching metadata", func() {
			evals, err := svc.ApplyFlags(ctx, "entity-1", map[string]any{"sanctions": false})
			So(err, ShouldBeNil)
			So(evals[0].IsActive, ShouldBeFalse)
		})
	})
}

func TestAssessRisk(t *testing.T) {
	Convey("Given a started service with a low-score trigger", t, func() {
		ctx := context.Background()
		svc := startedService(ctx)
		defer svc.Stop()

		_, err := svc.CreateTrigger(ctx, risk.TriggerDefinition{
			Name:     "low_score",
			Severity: risk.SeverityHigh,
			Enabled:  true,
			Conditions: []rules.Condition{
				{Field: "score", Op: rules.OpLte, Value: 0.2},
			},
		})
		So(err, ShouldBeNil)

		base := 0.15
		record, err := svc.ComputeScore(ctx, "entity-1", nil, &base)
		So(err, ShouldBeNil)

		Convey("When assessing with an explicit score id", func() {
			assessment, err := svc.AssessRisk(ctx, "entity-1", record.ID, nil)
			So(err, ShouldBeNil)

			Convey("Then the trigger fires and demands human review", func() {
				So(len(assessment.Triggers), ShouldEqual, 1)
				So(assessment.OverallLevel, ShouldEqual, risk.SeverityHigh)
				So(assessment.RequiresHuman, ShouldBeTrue)
				So(assessment.ScoreValue, ShouldAlmostEqual, 0.15)
			})

			Convey("And the assessment is persisted", func() {
				list, err := svc.ListAssessmentsByEntity(ctx, "entity-1", 10)
				So(err, ShouldBeNil)
				So(len(list), ShouldEqual, 1)
			})
		})

		Convey("When assessing without a score id", func() {
			assessment, err := svc.AssessRisk(ctx, "entity-1", "", nil)
			So(err, ShouldBeNil)
			So(assessment.ScoreID, ShouldEqual, record.ID)
		})

		Convey("When the score belongs to another entity", func() {
			_, err := svc.AssessRisk(ctx, "entity-2", record.ID, nil)
			So(err, ShouldWrap, model.ErrEntityMismatch)
		})

		Convey("When the score id is unknown", func() {
			_, err := svc.AssessRisk(ctx, "entity-1", "missing", nil)
			So(err, ShouldWrap, repository.ErrNotFound)
		})

		Convey("When the entity has no scores at all", func() {
			_, err := svc.AssessRisk(ctx, "fresh-entity", "", nil)
			So(err, ShouldWrap, repository.ErrNotFound)
		})

		Convey("When creating a trigger with an unknown severity", func() {
			_, err := svc.CreateTrigger(ctx, risk.TriggerDefinition{
				Name:       "bad",
				Severity:   "extreme",
				Conditions: []rules.Condition{{Field: "score", Op: rules.OpGt, Value: 0.5}},
			})
			So(err, ShouldWrap, risk.ErrUnknownSeverity)
		})
	})
}

func TestValidateEntity(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := startedService(ctx)
		defer svc.Stop()

		Convey("When validating a sanctioned entity", func() {
			result, err := svc.ValidateEntity(ctx, "0xsanctioned_entity", "wallet")
			So(err, ShouldBeNil)

			Convey("Then the verdict blocks and carries an id", func() {
				So(result.SanctionStatus, ShouldEqual, compliance.Sanctioned)
				So(result.SuggestedAction, ShouldEqual, compliance.ActionBlock)
				So(result.ID, ShouldNotBeEmpty)
			})

			Convey("And the result is persisted", func() {
				list, err := svc.ListValidationsByEntity(ctx, "0xsanctioned_entity")
				So(err, ShouldBeNil)
				So(len(list), ShouldEqual, 1)
			})
		})

		Convey("When validating a clean entity", func() {
			result, err := svc.ValidateEntity(ctx, "0xclean", "wallet")
			So(err, ShouldBeNil)
			So(result.SanctionStatus, ShouldEqual, compliance.SanctionClean)
			So(result.SuggestedAction, ShouldEqual, compliance.ActionProceed)
		})
	})
}

func TestGenerateSigil(t *testing.T) {
	Convey("Given a started service with a computed score", t, func() {
		ctx := context.Background()
		svc := startedService(ctx)
		defer svc.Stop()

		base := 0.85
		record, err := svc.ComputeScore(ctx, "0xabcdef1234567890", nil, &base)
		So(err, ShouldBeNil)

		Convey("When generating a sigil for an entity never assessed", func() {
			sigil, err := svc.GenerateSigil(ctx, "0xabcdef1234567890", record.ID, nft.Customization{})
			So(err, ShouldBeNil)

			Convey("Then the metadata reflects the score and the low default tier", func() {
				So(sigil.ID, ShouldNotBeEmpty)
				So(sigil.Metadata.Name, ShouldContainSubstring, "0xabcdef12")
				So(sigil.Metadata.Description, ShouldContainSubstring, "0.8500")
			})
		})

		Convey("When the score belongs to another entity", func() {
			_, err := svc.GenerateSigil(ctx, "someone-else", record.ID, nft.Customization{})
			So(err, ShouldWrap, model.ErrEntityMismatch)
		})

		Convey("When the score id is unknown", func() {
			_, err := svc.GenerateSigil(ctx, "0xabcdef1234567890", "missing", nft.Customization{})
			So(err, ShouldWrap, repository.ErrNotFound)
		})
	})
}

func TestGasMonitoring(t *testing.T) {
	Convey("Given a started service with gas records", t, func() {
		ctx := context.Background()
		svc := startedService(ctx)
		defer svc.Stop()

		for i := 0; i < 5; i++ {
			_, err := svc.IngestGasRecord(ctx, gas.Record{
				EntityID:        "entity-1",
				TransactionHash: "0xbase",
				GasUsed:         50_000,
			})
			So(err, ShouldBeNil)
		}
		spike, err := svc.IngestGasRecord(ctx, gas.Record{
			EntityID:        "entity-1",
			TransactionHash: "0xspike",
			GasUsed:         1_000_000,
		})
		So(err, ShouldBeNil)
		So(spike.ID, ShouldNotBeEmpty)
		So(spike.Timestamp.IsZero(), ShouldBeFalse)

		Convey("When analyzing the lookback window", func() {
			result, err := svc.AnalyzeGas(ctx, "entity-1", 30)
			So(err, ShouldBeNil)

			Convey("Then the spike is flagged", func() {
				So(result.TransactionCount, ShouldEqual, 6)
				So(len(result.Anomalies), ShouldEqual, 1)
				So(result.Anomalies[0].Transactions, ShouldContain, "0xspike")
			})
		})

		Convey("When listing records", func() {
			records, err := svc.ListGasRecords(ctx, "entity-1", 3, 0)
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 3)
		})

		Convey("When analyzing an entity without records", func() {
			_, err := svc.AnalyzeGas(ctx, "empty-entity", 30)
			So(err, ShouldWrap, gas.ErrNoRecords)
		})
	})
}

func TestListLimitsAndLookback(t *testing.T) {
	Convey("Given a service with a tight history limit and a short lookback", t, func() {
		ctx := context.Background()
		svc := startedService(ctx, WithHistoryLimit(2), WithGasLookback(1))
		defer svc.Stop()

		for i := 0; i < 4; i++ {
			_, err := svc.IngestGasRecord(ctx, gas.Record{
				EntityID:        "entity-1",
				TransactionHash: fmt.Sprintf("0x%d", i),
				GasUsed:         50_000,
			})
			So(err, ShouldBeNil)
		}

		Convey("Then oversized page requests are capped", func() {
			records, err := svc.ListGasRecords(ctx, "entity-1", 100, 0)
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 2)
		})

		Convey("And score history obeys the same cap", func() {
			for i := 0; i < 3; i++ {
				_, err := svc.ComputeScore(ctx, "entity-1", nil, nil)
				So(err, ShouldBeNil)
			}
			history, err := svc.ListScoresByEntity(ctx, "entity-1", 50, 0)
			So(err, ShouldBeNil)
			So(len(history), ShouldEqual, 2)
		})

		Convey("And analysis without a window uses the configured lookback", func() {
			_, err := svc.IngestGasRecord(ctx, gas.Record{
				EntityID:        "stale-entity",
				TransactionHash: "0xold",
				GasUsed:         50_000,
				Timestamp:       time.Now().UTC().AddDate(0, 0, -3),
			})
			So(err, ShouldBeNil)

			_, err = svc.AnalyzeGas(ctx, "stale-entity", 0)
			So(err, ShouldWrap, gas.ErrNoRecords)

			result, err := svc.AnalyzeGas(ctx, "stale-entity", 7)
			So(err, ShouldBeNil)
			So(result.TransactionCount, ShouldEqual, 1)
		})
	})
}

func TestAuditPipeline(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := startedService(ctx)
		defer svc.Stop()

		Convey("When an audit event is recorded", func() {
			event := model.AuditEvent{
				DecisionID: "decision-1",
				Action:     "POST /scores",
				EntityID:   "entity-1",
				StatusCode: 201,
				Timestamp:  time.Now().UTC(),
			}
			event.Sign()
			So(svc.RecordAudit(ctx, event), ShouldBeTrue)

			Convey("Then it is drained into the audit trail", func() {
				drained := waitFor(func() bool {
					events, err := svc.ListAudit(ctx, "", 10)
					return err == nil && len(events) == 1
				}, 2*time.Second)
				So(drained, ShouldBeTrue)

				events, err := svc.ListAudit(ctx, "", 10)
				So(err, ShouldBeNil)
				So(events[0].DecisionID, ShouldEqual, "decision-1")
				ok, err := events[0].Verify()
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)

				filtered, err := svc.ListAudit(ctx, "entity-1", 10)
				So(err, ShouldBeNil)
				So(len(filtered), ShouldEqual, 1)

				none, err := svc.ListAudit(ctx, "someone-else", 10)
				So(err, ShouldBeNil)
				So(none, ShouldBeEmpty)
			})
		})
	})
}
