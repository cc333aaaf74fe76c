package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/foundlab/reputation/internal/domain/compliance"
	"github.com/foundlab/reputation/internal/domain/gas"
	"github.com/foundlab/reputation/internal/domain/model"
	"github.com/foundlab/reputation/internal/domain/nft"
	"github.com/foundlab/reputation/internal/domain/risk"
	"github.com/foundlab/reputation/internal/domain/scoring"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS flags (
	position   BIGSERIAL,
	name       TEXT PRIMARY KEY,
	doc        JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS triggers (
	position   BIGSERIAL,
	name       TEXT PRIMARY KEY,
	doc        JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS scores (
	id          TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL,
	doc         JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scores_entity ON scores (entity_id, computed_at DESC);
CREATE TABLE IF NOT EXISTS assessments (
	seq         BIGSERIAL PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	assessed_at TIMESTAMPTZ NOT NULL,
	doc         JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assessments_entity ON assessments (entity_id, seq DESC);
CREATE TABLE IF NOT EXISTS validations (
	seq        BIGSERIAL PRIMARY KEY,
	entity_id  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	doc        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_validations_entity ON validations (entity_id, seq DESC);
CREATE TABLE IF NOT EXISTS sigils (
	seq          BIGSERIAL PRIMARY KEY,
	entity_id    TEXT NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL,
	doc          JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sigils_entity ON sigils (entity_id, seq DESC);
CREATE TABLE IF NOT EXISTS gas_records (
	seq        BIGSERIAL PRIMARY KEY,
	entity_id  TEXT NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	doc        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gas_records_entity ON gas_records (entity_id, ts);
CREATE TABLE IF NOT EXISTS audit_events (
	seq BIGSERIAL PRIMARY KEY,
	ts  TIMESTAMPTZ NOT NULL,
	doc JSONB NOT NULL
);
`

// PostgresStore is the durable Store. Documents are kept as JSONB with the
// columns needed for ordering and lookup extracted alongside.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against dsn and applies the
// schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateFlag(ctx context.Context, def model.FlagDefinition) (model.FlagDefinition, error) {
	defer observeWrite(time.Now())
	doc, err := json.Marshal(def)
	if err != nil {
		return model.FlagDefinition{}, fmt.Errorf("encode flag: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO flags (name, doc) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		def.Name, doc)
	if err != nil {
		return model.FlagDefinition{}, fmt.Errorf("insert flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.FlagDefinition{}, fmt.Errorf("%w: flag %q", ErrDuplicate, def.Name)
	}
	return def, nil
}

func (s *PostgresStore) GetFlag(ctx context.Context, name string) (model.FlagDefinition, error) {
	defer observeRead(time.Now())
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM flags WHERE name = $1`, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FlagDefinition{}, fmt.Errorf("%w: flag %q", ErrNotFound, name)
	}
	if err != nil {
		return model.FlagDefinition{}, fmt.Errorf("select flag: %w", err)
	}
	var def model.FlagDefinition
	if err := json.Unmarshal(doc, &def); err != nil {
		return model.FlagDefinition{}, fmt.Errorf("decode flag: %w", err)
	}
	return def, nil
}

func (s *PostgresStore) ListFlags(ctx context.Context) ([]model.FlagDefinition, error) {
	defer observeRead(time.Now())
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM flags ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	defer rows.Close()

	var defs []model.FlagDefinition
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		var def model.FlagDefinition
		if err := json.Unmarshal(doc, &def); err != nil {
			return nil, fmt.Errorf("decode flag: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *PostgresStore) UpdateFlag(ctx context.Context, name string, update model.FlagUpdate) (model.FlagDefinition, error) {
	defer observeWrite(time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.FlagDefinition{}, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	var doc []byte
	err = tx.QueryRowContext(ctx, `SELECT doc FROM flags WHERE name = $1 FOR UPDATE`, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FlagDefinition{}, fmt.Errorf("%w: flag %q", ErrNotFound, name)
	}
	if err != nil {
		return model.FlagDefinition{}, fmt.Errorf("select flag: %w", err)
	}
	var def model.FlagDefinition
	if err := json.Unmarshal(doc, &def); err != nil {
		return model.FlagDefinition{}, fmt.Errorf("decode flag: %w", err)
	}

	if update.Description != nil {
		def.Description = *update.Description
	}
	if update.Type != nil {
		def.Type = *update.Type
	}
	if update.DefaultValue != nil {
		def.DefaultValue = update.DefaultValue
	}
	if update.Conditions != nil {
		def.Conditions = *update.Conditions
	}
	if update.Weight != nil {
		def.Weight = *update.Weight
	}
	if update.Category != nil {
		def.Category = *update.Category
	}
	def.UpdatedAt = time.Now().UTC()

	doc, err = json.Marshal(def)
	if err != nil {
		return model.FlagDefinition{}, fmt.Errorf("encode flag: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE flags SET doc = $2 WHERE name = $1`, name, doc); err != nil {
		return model.FlagDefinition{}, fmt.Errorf("update flag: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.FlagDefinition{}, fmt.Errorf("commit update: %w", err)
	}
	return def, nil
}

func (s *PostgresStore) DeleteFlag(ctx context.Context, name string) error {
	defer observeWrite(time.Now())
	res, err := s.db.ExecContext(ctx, `DELETE FROM flags WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: flag %q", ErrNotFound, name)
	}
	return nil
}

func (s *PostgresStore) CreateTrigger(ctx context.Context, def risk.TriggerDefinition) (risk.TriggerDefinition, error) {
	defer observeWrite(time.Now())
	doc, err := json.Marshal(def)
	if err != nil {
		return risk.TriggerDefinition{}, fmt.Errorf("encode trigger: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO triggers (name, doc) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		def.Name, doc)
	if err != nil {
		return risk.TriggerDefinition{}, fmt.Errorf("insert trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return risk.TriggerDefinition{}, fmt.Errorf("%w: trigger %q", ErrDuplicate, def.Name)
	}
	return def, nil
}

func (s *PostgresStore) GetTrigger(ctx context.Context, name string) (risk.TriggerDefinition, error) {
	defer observeRead(time.Now())
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM triggers WHERE name = $1`, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return risk.TriggerDefinition{}, fmt.Errorf("%w: trigger %q", ErrNotFound, name)
	}
	if err != nil {
		return risk.TriggerDefinition{}, fmt.Errorf("select trigger: %w", err)
	}
	var def risk.TriggerDefinition
	if err := json.Unmarshal(doc, &def); err != nil {
		return risk.TriggerDefinition{}, fmt.Errorf("decode trigger: %w", err)
	}
	return def, nil
}

func (s *PostgresStore) ListTriggers(ctx context.Context) ([]risk.TriggerDefinition, error) {
	defer observeRead(time.Now())
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM triggers ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var defs []risk.TriggerDefinition
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		var def risk.TriggerDefinition
		if err := json.Unmarshal(doc, &def); err != nil {
			return nil, fmt.Errorf("decode trigger: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *PostgresStore) UpdateTrigger(ctx context.Context, def risk.TriggerDefinition) (risk.TriggerDefinition, error) {
	defer observeWrite(time.Now())
	stored, err := s.GetTrigger(ctx, def.Name)
	if err != nil {
		return risk.TriggerDefinition{}, err
	}
	def.CreatedAt = stored.CreatedAt
	def.UpdatedAt = time.Now().UTC()

	doc, err := json.Marshal(def)
	if err != nil {
		return risk.TriggerDefinition{}, fmt.Errorf("encode trigger: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE triggers SET doc = $2 WHERE name = $1`, def.Name, doc); err != nil {
		return risk.TriggerDefinition{}, fmt.Errorf("update trigger: %w", err)
	}
	return def, nil
}

func (s *PostgresStore) DeleteTrigger(ctx context.Context, name string) error {
	defer observeWrite(time.Now())
	res, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: trigger %q", ErrNotFound, name)
	}
	return nil
}

func (s *PostgresStore) SaveScore(ctx context.Context, record scoring.Record) error {
	defer observeWrite(time.Now())
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode score: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scores (id, entity_id, computed_at, doc) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		record.ID, record.EntityID, record.ComputedAt, doc)
	if err != nil {
		return fmt.Errorf("insert score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: score %q", ErrDuplicate, record.ID)
	}
	return nil
}

func (s *PostgresStore) GetScore(ctx context.Context, id string) (scoring.Record, error) {
	defer observeRead(time.Now())
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM scores WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return scoring.Record{}, fmt.Errorf("%w: score %q", ErrNotFound, id)
	}
	if err != nil {
		return scoring.Record{}, fmt.Errorf("select score: %w", err)
	}
	var record scoring.Record
	if err := json.Unmarshal(doc, &record); err != nil {
		return scoring.Record{}, fmt.Errorf("decode score: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) ListScoresByEntity(ctx context.Context, entityID string, limit, skip int) ([]scoring.Record, error) {
	defer observeRead(time.Now())
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM scores WHERE entity_id = $1 ORDER BY computed_at DESC LIMIT $2 OFFSET $3`,
		entityID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	defer rows.Close()
	return decodeRows[scoring.Record](rows, "score")
}

func (s *PostgresStore) LatestScore(ctx context.Context, entityID string) (scoring.Record, error) {
	defer observeRead(time.Now())
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM scores WHERE entity_id = $1 ORDER BY computed_at DESC LIMIT 1`,
		entityID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return scoring.Record{}, fmt.Errorf("%w: no scores for entity %q", ErrNotFound, entityID)
	}
	if err != nil {
		return scoring.Record{}, fmt.Errorf("select latest score: %w", err)
	}
	var record scoring.Record
	if err := json.Unmarshal(doc, &record); err != nil {
		return scoring.Record{}, fmt.Errorf("decode score: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) SaveAssessment(ctx context.Context, assessment risk.Assessment) error {
	defer observeWrite(time.Now())
	doc, err := json.Marshal(assessment)
	if err != nil {
		return fmt.Errorf("encode assessment: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assessments (entity_id, assessed_at, doc) VALUES ($1, $2, $3)`,
		assessment.EntityID, assessment.AssessedAt, doc)
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAssessmentsByEntity(ctx context.Context, entityID string, limit int) ([]risk.Assessment, error) {
	defer observeRead(time.Now())
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM assessments WHERE entity_id = $1 ORDER BY seq DESC LIMIT $2`,
		entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	defer rows.Close()
	return decodeRows[risk.Assessment](rows, "assessment")
}

func (s *PostgresStore) LatestAssessment(ctx context.Context, entityID string) (risk.Assessment, error) {
	defer observeRead(time.Now())
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM assessments WHERE entity_id = $1 ORDER BY seq DESC LIMIT 1`,
		entityID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return risk.Assessment{}, fmt.Errorf("%w: no assessments for entity %q", ErrNotFound, entityID)
	}
	if err != nil {
		return risk.Assessment{}, fmt.Errorf("select latest assessment: %w", err)
	}
	var assessment risk.Assessment
	if err := json.Unmarshal(doc, &assessment); err != nil {
		return risk.Assessment{}, fmt.Errorf("decode assessment: %w", err)
	}
	return assessment, nil
}

func (s *PostgresStore) SaveValidation(ctx context.Context, result compliance.ValidationResult) error {
	defer observeWrite(time.Now())
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode validation: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO validations (entity_id, created_at, doc) VALUES ($1, $2, $3)`,
		result.EntityID, result.CreatedAt, doc)
	if err != nil {
		return fmt.Errorf("insert validation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListValidationsByEntity(ctx context.Context, entityID string) ([]compliance.ValidationResult, error) {
	defer observeRead(time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM validations WHERE entity_id = $1 ORDER BY seq DESC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list validations: %w", err)
	}
	defer rows.Close()
	return decodeRows[compliance.ValidationResult](rows, "validation")
}

func (s *PostgresStore) SaveSigil(ctx context.Context, sigil nft.GeneratedSigil) error {
	defer observeWrite(time.Now())
	doc, err := json.Marshal(sigil)
	if err != nil {
		return fmt.Errorf("encode sigil: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sigils (entity_id, generated_at, doc) VALUES ($1, $2, $3)`,
		sigil.EntityID, sigil.GeneratedAt, doc)
	if err != nil {
		return fmt.Errorf("insert sigil: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSigilsByEntity(ctx context.Context, entityID string) ([]nft.GeneratedSigil, error) {
	defer observeRead(time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM sigils WHERE entity_id = $1 ORDER BY seq DESC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list sigils: %w", err)
	}
	defer rows.Close()
	return decodeRows[nft.GeneratedSigil](rows, "sigil")
}

func (s *PostgresStore) SaveGasRecord(ctx context.Context, record gas.Record) error {
	defer observeWrite(time.Now())
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode gas record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO gas_records (entity_id, ts, doc) VALUES ($1, $2, $3)`,
		record.EntityID, record.Timestamp, doc)
	if err != nil {
		return fmt.Errorf("insert gas record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListGasRecords(ctx context.Context, entityID string, limit, skip int) ([]gas.Record, error) {
	defer observeRead(time.Now())
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM gas_records WHERE entity_id = $1 ORDER BY ts DESC LIMIT $2 OFFSET $3`,
		entityID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("list gas records: %w", err)
	}
	defer rows.Close()
	return decodeRows[gas.Record](rows, "gas record")
}

func (s *PostgresStore) GasRecordsInWindow(ctx context.Context, entityID string, start, end time.Time) ([]gas.Record, error) {
	defer observeRead(time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM gas_records WHERE entity_id = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts`,
		entityID, start, end)
	if err != nil {
		return nil, fmt.Errorf("window gas records: %w", err)
	}
	defer rows.Close()
	return decodeRows[gas.Record](rows, "gas record")
}

func (s *PostgresStore) AppendAudit(ctx context.Context, event model.AuditEvent) error {
	defer observeWrite(time.Now())
	doc, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (ts, doc) VALUES ($1, $2)`, event.Timestamp, doc)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, entityID string, limit int) ([]model.AuditEvent, error) {
	defer observeRead(time.Now())
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM audit_events
		 WHERE $1 = '' OR doc->>'entity_id' = $1
		 ORDER BY seq DESC LIMIT $2`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()
	return decodeRows[model.AuditEvent](rows, "audit event")
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT count(*) FROM flags),
		(SELECT count(*) FROM triggers),
		(SELECT count(*) FROM scores),
		(SELECT count(*) FROM assessments),
		(SELECT count(*) FROM validations),
		(SELECT count(*) FROM sigils),
		(SELECT count(*) FROM gas_records),
		(SELECT count(*) FROM audit_events)`)
	err := row.Scan(&stats.Flags, &stats.Triggers, &stats.Scores, &stats.Assessments,
		&stats.Validations, &stats.Sigils, &stats.GasRecords, &stats.AuditEvents)
	if err != nil {
		return Stats{}, fmt.Errorf("count records: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// decodeRows unmarshals every doc column of the result set.
func decodeRows[T any](rows *sql.Rows, kind string) ([]T, error) {
	var out []T
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		var item T
		if err := json.Unmarshal(doc, &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
