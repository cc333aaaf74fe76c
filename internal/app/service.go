// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	auditqueue "github.com/foundlab/reputation/internal/adapters/mq/queue"
	workerpool "github.com/foundlab/reputation/internal/adapters/mq/worker"
	"github.com/foundlab/reputation/internal/adapters/repository"
	"github.com/foundlab/reputation/internal/domain/compliance"
	"github.com/foundlab/reputation/internal/domain/gas"
	"github.com/foundlab/reputation/internal/domain/model"
	"github.com/foundlab/reputation/internal/domain/nft"
	"github.com/foundlab/reputation/internal/domain/risk"
	"github.com/foundlab/reputation/internal/domain/rules"
	"github.com/foundlab/reputation/internal/domain/scoring"
	"github.com/foundlab/reputation/pkg/logger"
	"github.com/foundlab/reputation/pkg/metrics"
)

// Service implements the API dependencies for the reputation system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	calculator *scoring.Calculator
	analyzer   *gas.Analyzer
	validator  *compliance.Validator
	auditQueue auditqueue.Queue
	workerPool *workerpool.Pool

	// Configuration
	workerCount     int
	queueSize       int
	baseScore       float64
	scoreMin        float64
	scoreMax        float64
	spikeMultiplier float64
	spikeMinGas     float64
	historyLimit    int
	gasLookbackDays int
	postgresDSN     string

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of audit worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the audit queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithBaseScore sets the default base score for computations that do not
// supply one.
func WithBaseScore(base float64) Option {
	return func(s *Service) {
		s.baseScore = base
	}
}

// WithScoreBounds sets the clamp interval for computed scores.
func WithScoreBounds(min, max float64) Option {
	return func(s *Service) {
		if min < max {
			s.scoreMin = min
			s.scoreMax = max
		}
	}
}

// WithGasThresholds sets the gas spike multiplier and absolute floor.
func WithGasThresholds(multiplier, minGas float64) Option {
	return func(s *Service) {
		if multiplier > 1 {
			s.spikeMultiplier = multiplier
		}
		if minGas > 0 {
			s.spikeMinGas = minGas
		}
	}
}

// WithHistoryLimit caps the page size accepted by list operations.
func WithHistoryLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.historyLimit = limit
		}
	}
}

// WithGasLookback sets the default analysis window, in days, for callers
// that do not supply one.
func WithGasLookback(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.gasLookbackDays = days
		}
	}
}

// WithPostgresDSN selects the durable store. An empty DSN keeps the
// in-memory store.
func WithPostgresDSN(dsn string) Option {
	return func(s *Service) {
		s.postgresDSN = dsn
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:     runtime.NumCPU() * 2,
		queueSize:       100000,
		baseScore:       0.5,
		scoreMin:        0.0,
		scoreMax:        1.0,
		spikeMultiplier: gas.DefaultSpikeMultiplier,
		spikeMinGas:     gas.DefaultSpikeMinGas,
		historyLimit:    100,
		gasLookbackDays: 30,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting reputation service...")

	if s.postgresDSN != "" {
		store, err := repository.NewPostgresStore(ctx, s.postgresDSN)
		if err != nil {
			return fmt.Errorf("postgres store: %w", err)
		}
		s.store = store
		s.logger.Info(ctx, "using postgres store")
	} else {
		s.store = repository.NewMemoryStore()
		s.logger.Info(ctx, "using in-memory store")
	}

	s.calculator = scoring.New(
		scoring.WithBaseScore(s.baseScore),
		scoring.WithBounds(s.scoreMin, s.scoreMax),
	)
	s.analyzer = gas.NewAnalyzer(
		gas.WithSpikeMultiplier(s.spikeMultiplier),
		gas.WithSpikeMinGas(s.spikeMinGas),
	)
	s.validator = compliance.NewValidator()
	s.auditQueue = auditqueue.NewInMemoryQueue(
		auditqueue.WithCapacity(s.queueSize),
		auditqueue.WithBufferSize(s.queueSize),
	)

	s.workerPool = workerpool.NewPool(s.workerCount, s.auditQueue, s.store)
	s.workerPool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "reputation service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Float64("baseScore", s.baseScore),
	)

	return nil
}

// Stop gracefully shuts down the service, draining the audit queue first.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping reputation service...")

	if s.workerPool != nil {
		_ = s.workerPool.Shutdown(ctx)
	}
	if s.store != nil {
		_ = s.store.Close()
	}

	s.started = false
	s.logger.Info(ctx, "reputation service stopped")
}

// ComputeScore evaluates the registered flags against metadata, combines the
// active weights with the base score and persists the immutable record.
func (s *Service) ComputeScore(ctx context.Context, entityID string, metadata map[string]any, baseScore *float64) (scoring.Record, error) {
	defs, err := s.store.ListFlags(ctx)
	if err != nil {
		metrics.RecordScoringError()
		return scoring.Record{}, err
	}

	evaluations := evaluateFlags(defs, metadata)
	metrics.RecordFlagsEvaluated(len(defs))

	active := make([]scoring.ActiveFlag, 0, len(evaluations))
	for _, e := range evaluations {
		if e.IsActive {
			active = append(active, scoring.ActiveFlag{Name: e.Name, Weight: e.Weight})
		}
	}
	metrics.RecordFlagsMatched(len(active))

	base := s.calculator.BaseScore()
	if baseScore != nil {
		base = *baseScore
	}

	value, contributing, skipped := s.calculator.Compute(base, active)
	for range skipped {
		metrics.RecordFlagSkipped()
	}

	record := scoring.Record{
		ID:               uuid.NewString(),
		EntityID:         entityID,
		Value:            value,
		RawSum:           s.calculator.RawSum(base, active),
		Base:             base,
		ContributingFlag: contributing,
		SkippedFlags:     skipped,
		AlgorithmVersion: scoring.Version,
		Summary: fmt.Sprintf("score %.4f from base %.2f with %d active flag(s)",
			value, base, len(contributing)),
		ComputedAt: time.Now().UTC(),
	}
	if err := s.store.SaveScore(ctx, record); err != nil {
		metrics.RecordScoringError()
		return scoring.Record{}, err
	}

	metrics.RecordScoreComputed(value)
	s.logger.Debug(ctx, "score computed",
		logger.String("entityID", entityID),
		logger.Float64("value", value),
		logger.Int("activeFlags", len(contributing)),
	)
	return record, nil
}

// GetScore returns a score record by id.
func (s *Service) GetScore(ctx context.Context, id string) (scoring.Record, error) {
	return s.store.GetScore(ctx, id)
}

// ListScoresByEntity returns an entity's score history, newest first.
func (s *Service) ListScoresByEntity(ctx context.Context, entityID string, limit, skip int) ([]scoring.Record, error) {
	return s.store.ListScoresByEntity(ctx, entityID, s.clampLimit(limit), skip)
}

// CreateFlag validates and registers a dynamic flag definition.
func (s *Service) CreateFlag(ctx context.Context, def model.FlagDefinition) (model.FlagDefinition, error) {
	if err := rules.Validate(rules.Definition{Name: def.Name, Conditions: def.Conditions}); err != nil {
		metrics.RecordDefinitionRejected()
		return model.FlagDefinition{}, err
	}
	now := time.Now().UTC()
	def.ID = uuid.NewString()
	def.CreatedAt = now
	def.UpdatedAt = now
	return s.store.CreateFlag(ctx, def)
}

// GetFlag returns a flag definition by name.
func (s *Service) GetFlag(ctx context.Context, name string) (model.FlagDefinition, error) {
	return s.store.GetFlag(ctx, name)
}

// ListFlags returns all flag definitions in registration order.
func (s *Service) ListFlags(ctx context.Context) ([]model.FlagDefinition, error) {
	return s.store.ListFlags(ctx)
}

// UpdateFlag validates and applies a partial update to a flag definition.
func (s *Service) UpdateFlag(ctx context.Context, name string, update model.FlagUpdate) (model.FlagDefinition, error) {
	if update.Conditions != nil {
		for i, cond := range *update.Conditions {
			if err := rules.ValidateCondition(cond); err != nil {
				metrics.RecordDefinitionRejected()
				return model.FlagDefinition{}, fmt.Errorf("condition %d: %w", i, err)
			}
		}
	}
	return s.store.UpdateFlag(ctx, name, update)
}

// DeleteFlag removes a flag definition by name.
func (s *Service) DeleteFlag(ctx context.Context, name string) error {
	return s.store.DeleteFlag(ctx, name)
}

// ApplyFlags evaluates every registered definition against metadata without
// computing a score.
func (s *Service) ApplyFlags(ctx context.Context, entityID string, metadata map[string]any) ([]model.FlagEvaluation, error) {
	defs, err := s.store.ListFlags(ctx)
	if err != nil {
		return nil, err
	}
	evaluations := evaluateFlags(defs, metadata)
	metrics.RecordFlagsEvaluated(len(defs))

	activeCount := 0
	for _, e := range evaluations {
		if e.IsActive {
			activeCount++
		}
	}
	metrics.RecordFlagsMatched(activeCount)

	s.logger.Debug(ctx, "flags applied",
		logger.String("entityID", entityID),
		logger.Int("evaluated", len(evaluations)),
		logger.Int("active", activeCount),
	)
	return evaluations, nil
}

// CreateTrigger validates and registers a risk trigger definition.
func (s *Service) CreateTrigger(ctx context.Context, def risk.TriggerDefinition) (risk.TriggerDefinition, error) {
	if err := risk.ValidateTrigger(def); err != nil {
		metrics.RecordDefinitionRejected()
		return risk.TriggerDefinition{}, err
	}
	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now
	return s.store.CreateTrigger(ctx, def)
}

// GetTrigger returns a trigger definition by name.
func (s *Service) GetTrigger(ctx context.Context, name string) (risk.TriggerDefinition, error) {
	return s.store.GetTrigger(ctx, name)
}

// ListTriggers returns all trigger definitions in registration order.
func (s *Service) ListTriggers(ctx context.Context) ([]risk.TriggerDefinition, error) {
	return s.store.ListTriggers(ctx)
}

// UpdateTrigger validates and replaces a trigger definition.
func (s *Service) UpdateTrigger(ctx context.Context, def risk.TriggerDefinition) (risk.TriggerDefinition, error) {
	if err := risk.ValidateTrigger(def); err != nil {
		metrics.RecordDefinitionRejected()
		return risk.TriggerDefinition{}, err
	}
	return s.store.UpdateTrigger(ctx, def)
}

// DeleteTrigger removes a trigger definition by name.
func (s *Service) DeleteTrigger(ctx context.Context, name string) error {
	return s.store.DeleteTrigger(ctx, name)
}

// AssessRisk evaluates the registered triggers against an entity's score and
// metadata. An explicit scoreID must belong to the entity; when omitted the
// entity's latest score is used.
func (s *Service) AssessRisk(ctx context.Context, entityID, scoreID string, metadata map[string]any) (risk.Assessment, error) {
	var (
		record scoring.Record
		err    error
	)
	if scoreID != "" {
		record, err = s.store.GetScore(ctx, scoreID)
		if err != nil {
			return risk.Assessment{}, err
		}
		if record.EntityID != entityID {
			return risk.Assessment{}, fmt.Errorf("%w: score %q is not owned by entity %q",
				model.ErrEntityMismatch, scoreID, entityID)
		}
	} else {
		record, err = s.store.LatestScore(ctx, entityID)
		if err != nil {
			return risk.Assessment{}, err
		}
	}

	triggers, err := s.store.ListTriggers(ctx)
	if err != nil {
		return risk.Assessment{}, err
	}

	fired, overall := risk.Assess(record.Value, metadata, triggers)
	for _, f := range fired {
		metrics.RecordTriggerFired(string(f.Severity))
	}

	assessment := risk.Assessment{
		ID:            uuid.NewString(),
		EntityID:      entityID,
		ScoreID:       record.ID,
		ScoreValue:    record.Value,
		Triggers:      fired,
		OverallLevel:  overall,
		RequiresHuman: risk.RequiresHumanReview(overall),
		AssessedAt:    time.Now().UTC(),
	}
	if err := s.store.SaveAssessment(ctx, assessment); err != nil {
		return risk.Assessment{}, err
	}

	s.logger.Debug(ctx, "risk assessed",
		logger.String("entityID", entityID),
		logger.String("summary", risk.Summary(fired, overall)),
	)
	return assessment, nil
}

// ListAssessmentsByEntity returns an entity's assessments, newest first.
func (s *Service) ListAssessmentsByEntity(ctx context.Context, entityID string, limit int) ([]risk.Assessment, error) {
	return s.store.ListAssessmentsByEntity(ctx, entityID, s.clampLimit(limit))
}

// ValidateEntity screens an entity against the compliance providers and
// persists the aggregated result.
func (s *Service) ValidateEntity(ctx context.Context, entityID, entityType string) (compliance.ValidationResult, error) {
	result, err := s.validator.Validate(ctx, entityID, entityType)
	if err != nil {
		return compliance.ValidationResult{}, err
	}
	result.ID = uuid.NewString()
	if err := s.store.SaveValidation(ctx, result); err != nil {
		return compliance.ValidationResult{}, err
	}
	metrics.RecordValidation()
	return result, nil
}

// ListValidationsByEntity returns an entity's validation history, newest
// first.
func (s *Service) ListValidationsByEntity(ctx context.Context, entityID string) ([]compliance.ValidationResult, error) {
	return s.store.ListValidationsByEntity(ctx, entityID)
}

// GenerateSigil derives sigil metadata from a score record and the entity's
// latest risk tier, then persists it.
func (s *Service) GenerateSigil(ctx context.Context, entityID, scoreID string, custom nft.Customization) (nft.GeneratedSigil, error) {
	record, err := s.store.GetScore(ctx, scoreID)
	if err != nil {
		return nft.GeneratedSigil{}, err
	}
	if record.EntityID != entityID {
		return nft.GeneratedSigil{}, fmt.Errorf("%w: score %q is not owned by entity %q",
			model.ErrEntityMismatch, scoreID, entityID)
	}

	// The latest assessment sets the risk tier; entities never assessed
	// default to low.
	var tier risk.Severity
	if latest, err := s.store.LatestAssessment(ctx, entityID); err == nil {
		tier = latest.OverallLevel
	}

	sigil := nft.GeneratedSigil{
		ID:          uuid.NewString(),
		EntityID:    entityID,
		ScoreID:     scoreID,
		Metadata:    nft.Build(record, tier, custom),
		GeneratedAt: time.Now().UTC(),
	}
	if err := s.store.SaveSigil(ctx, sigil); err != nil {
		return nft.GeneratedSigil{}, err
	}
	metrics.RecordNFTMetadata()
	return sigil, nil
}

// IngestGasRecord persists one gas consumption observation.
func (s *Service) IngestGasRecord(ctx context.Context, record gas.Record) (gas.Record, error) {
	record.ID = uuid.NewString()
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if err := s.store.SaveGasRecord(ctx, record); err != nil {
		return gas.Record{}, err
	}
	return record, nil
}

// ListGasRecords returns an entity's gas records, newest first.
func (s *Service) ListGasRecords(ctx context.Context, entityID string, limit, skip int) ([]gas.Record, error) {
	return s.store.ListGasRecords(ctx, entityID, s.clampLimit(limit), skip)
}

// AnalyzeGas inspects an entity's gas consumption over the lookback window,
// falling back to the configured default window when none is given.
func (s *Service) AnalyzeGas(ctx context.Context, entityID string, lookbackDays int) (gas.AnalysisResult, error) {
	if lookbackDays <= 0 {
		lookbackDays = s.gasLookbackDays
	}
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -lookbackDays)

	records, err := s.store.GasRecordsInWindow(ctx, entityID, start, end)
	if err != nil {
		return gas.AnalysisResult{}, err
	}
	result, err := s.analyzer.Analyze(entityID, records, start, end)
	if err != nil {
		return gas.AnalysisResult{}, err
	}
	for range result.Anomalies {
		metrics.RecordGasAnomaly()
	}
	return result, nil
}

// RecordAudit enqueues an audit event for asynchronous persistence. Returns
// false on backpressure.
func (s *Service) RecordAudit(ctx context.Context, event model.AuditEvent) bool {
	return s.auditQueue.Enqueue(ctx, event)
}

// ListAudit returns the newest audit events, optionally filtered by entity.
func (s *Service) ListAudit(ctx context.Context, entityID string, limit int) ([]model.AuditEvent, error) {
	return s.store.ListAudit(ctx, entityID, s.clampLimit(limit))
}

// clampLimit caps a caller-supplied page size at the configured maximum.
func (s *Service) clampLimit(limit int) int {
	if limit <= 0 || limit > s.historyLimit {
		return s.historyLimit
	}
	return limit
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
	}

	if s.started {
		stats["auditQueueLength"] = s.auditQueue.Len(ctx)
		if storeStats, err := s.store.Stats(ctx); err == nil {
			stats["store"] = storeStats
			metrics.UpdateStoreRecordsTotal(storeStats.Total())
		}
	}

	return stats
}

// evaluateFlags evaluates every definition against metadata. A definition
// with conditions is active when its conjunction matches; one without
// conditions is active when it carries a default value.
func evaluateFlags(defs []model.FlagDefinition, metadata map[string]any) []model.FlagEvaluation {
	ruleDefs := make([]rules.Definition, 0, len(defs))
	for _, def := range defs {
		ruleDefs = append(ruleDefs, rules.Definition{Name: def.Name, Conditions: def.Conditions})
	}
	matches := rules.Evaluate(metadata, ruleDefs)
	reasons := make(map[string]string, len(matches))
	for _, m := range matches {
		reasons[m.Name] = m.Reason
	}

	evaluations := make([]model.FlagEvaluation, 0, len(defs))
	for _, def := range defs {
		eval := model.FlagEvaluation{
			Name:   def.Name,
			Type:   def.Type,
			Weight: def.Weight,
		}
		if reason, matched := reasons[def.Name]; matched {
			eval.IsActive = true
			eval.Reason = reason
			eval.Value = activeValue(def)
		} else if len(def.Conditions) == 0 && def.DefaultValue != nil {
			eval.IsActive = true
			eval.Reason = "default value"
			eval.Value = def.DefaultValue
		} else {
			eval.Value = def.DefaultValue
		}
		evaluations = append(evaluations, eval)
	}
	return evaluations
}

// activeValue picks the value an active flag carries: the default value when
// set, otherwise true for the boolean type and the weight for numeric.
func activeValue(def model.FlagDefinition) any {
	if def.DefaultValue != nil {
		return def.DefaultValue
	}
	switch def.Type {
	case model.FlagBoolean:
		return true
	case model.FlagNumeric:
		return def.Weight
	default:
		return def.Category
	}
}
