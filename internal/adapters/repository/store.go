// Package repository provides persistence for flag definitions, risk
// triggers, scores, assessments, compliance validations, sigils, gas records
// and the audit trail. Two implementations ship: an in-memory store for
// development and tests, and a Postgres store for durable deployments.
package repository

import (
	"context"
	"time"

	"github.com/foundlab/reputation/internal/domain/compliance"
	"github.com/foundlab/reputation/internal/domain/gas"
	"github.com/foundlab/reputation/internal/domain/model"
	"github.com/foundlab/reputation/internal/domain/nft"
	"github.com/foundlab/reputation/internal/domain/risk"
	"github.com/foundlab/reputation/internal/domain/scoring"
)

// FlagStore persists dynamic flag definitions. List returns definitions in
// registration order; evaluation order follows it.
type FlagStore interface {
	CreateFlag(ctx context.Context, def model.FlagDefinition) (model.FlagDefinition, error)
	GetFlag(ctx context.Context, name string) (model.FlagDefinition, error)
	ListFlags(ctx context.Context) ([]model.FlagDefinition, error)
	UpdateFlag(ctx context.Context, name string, update model.FlagUpdate) (model.FlagDefinition, error)
	DeleteFlag(ctx context.Context, name string) error
}

// TriggerStore persists risk trigger definitions, in registration order.
type TriggerStore interface {
	CreateTrigger(ctx context.Context, def risk.TriggerDefinition) (risk.TriggerDefinition, error)
	GetTrigger(ctx context.Context, name string) (risk.TriggerDefinition, error)
	ListTriggers(ctx context.Context) ([]risk.TriggerDefinition, error)
	UpdateTrigger(ctx context.Context, def risk.TriggerDefinition) (risk.TriggerDefinition, error)
	DeleteTrigger(ctx context.Context, name string) error
}

// ScoreStore persists immutable score records and serves per-entity history,
// newest first.
type ScoreStore interface {
	SaveScore(ctx context.Context, record scoring.Record) error
	GetScore(ctx context.Context, id string) (scoring.Record, error)
	ListScoresByEntity(ctx context.Context, entityID string, limit, skip int) ([]scoring.Record, error)
	LatestScore(ctx context.Context, entityID string) (scoring.Record, error)
}

// AssessmentStore persists risk assessments, newest first per entity.
type AssessmentStore interface {
	SaveAssessment(ctx context.Context, assessment risk.Assessment) error
	ListAssessmentsByEntity(ctx context.Context, entityID string, limit int) ([]risk.Assessment, error)
	LatestAssessment(ctx context.Context, entityID string) (risk.Assessment, error)
}

// ValidationStore persists compliance validation results, newest first.
type ValidationStore interface {
	SaveValidation(ctx context.Context, result compliance.ValidationResult) error
	ListValidationsByEntity(ctx context.Context, entityID string) ([]compliance.ValidationResult, error)
}

// SigilStore persists generated sigil metadata.
type SigilStore interface {
	SaveSigil(ctx context.Context, sigil nft.GeneratedSigil) error
	ListSigilsByEntity(ctx context.Context, entityID string) ([]nft.GeneratedSigil, error)
}

// GasStore persists gas consumption records. ListGasRecords serves pages
// newest first; GasRecordsInWindow returns ascending-by-time records for
// analysis.
type GasStore interface {
	SaveGasRecord(ctx context.Context, record gas.Record) error
	ListGasRecords(ctx context.Context, entityID string, limit, skip int) ([]gas.Record, error)
	GasRecordsInWindow(ctx context.Context, entityID string, start, end time.Time) ([]gas.Record, error)
}

// AuditStore is the append-only audit trail.
type AuditStore interface {
	AppendAudit(ctx context.Context, event model.AuditEvent) error
	ListAudit(ctx context.Context, entityID string, limit int) ([]model.AuditEvent, error)
}

// Stats summarizes store contents for the stats endpoint.
type Stats struct {
	Flags       int `json:"flags"`
	Triggers    int `json:"triggers"`
	Scores      int `json:"scores"`
	Assessments int `json:"assessments"`
	Validations int `json:"validations"`
	Sigils      int `json:"sigils"`
	GasRecords  int `json:"gas_records"`
	AuditEvents int `json:"audit_events"`
}

// Total sums all record counts.
func (s Stats) Total() int {
	return s.Flags + s.Triggers + s.Scores + s.Assessments + s.Validations + s.Sigils + s.GasRecords + s.AuditEvents
}

// Store is the combined persistence surface the service layer wires against.
type Store interface {
	FlagStore
	TriggerStore
	ScoreStore
	AssessmentStore
	ValidationStore
	SigilStore
	GasStore
	AuditStore

	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}
