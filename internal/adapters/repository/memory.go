package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/foundlab/reputation/internal/domain/compliance"
	"github.com/foundlab/reputation/internal/domain/gas"
	"github.com/foundlab/reputation/internal/domain/model"
	"github.com/foundlab/reputation/internal/domain/nft"
	"github.com/foundlab/reputation/internal/domain/risk"
	"github.com/foundlab/reputation/internal/domain/scoring"
	"github.com/foundlab/reputation/pkg/metrics"
)

// MemoryStore is the in-memory Store used for development and tests. All
// methods are safe for concurrent use. Definition listings preserve
// registration order; history listings come back newest first.
type MemoryStore struct {
	mu sync.RWMutex

	flags     map[string]model.FlagDefinition
	flagOrder []string

	triggers     map[string]risk.TriggerDefinition
	triggerOrder []string

	scores        map[string]scoring.Record
	scoresByOwner map[string][]string

	assessments map[string][]risk.Assessment
	validations map[string][]compliance.ValidationResult
	sigils      map[string][]nft.GeneratedSigil
	gasRecords  map[string][]gas.Record
	audit       []model.AuditEvent
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flags:         make(map[string]model.FlagDefinition),
		triggers:      make(map[string]risk.TriggerDefinition),
		scores:        make(map[string]scoring.Record),
		scoresByOwner: make(map[string][]string),
		assessments:   make(map[string][]risk.Assessment),
		validations:   make(map[string][]compliance.ValidationResult),
		sigils:        make(map[string][]nft.GeneratedSigil),
		gasRecords:    make(map[string][]gas.Record),
	}
}

func observeWrite(start time.Time) {
	metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds()))
}

func observeRead(start time.Time) {
	metrics.RecordStoreReadLatency(float64(time.Since(start).Milliseconds()))
}

// CreateFlag registers a new definition; duplicate names are rejected.
func (s *MemoryStore) CreateFlag(_ context.Context, def model.FlagDefinition) (model.FlagDefinition, error) {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flags[def.Name]; exists {
		return model.FlagDefinition{}, fmt.Errorf("%w: flag %q", ErrDuplicate, def.Name)
	}
	s.flags[def.Name] = def
	s.flagOrder = append(s.flagOrder, def.Name)
	return def, nil
}

func (s *MemoryStore) GetFlag(_ context.Context, name string) (model.FlagDefinition, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.flags[name]
	if !ok {
		return model.FlagDefinition{}, fmt.Errorf("%w: flag %q", ErrNotFound, name)
	}
	return def, nil
}

func (s *MemoryStore) ListFlags(_ context.Context) ([]model.FlagDefinition, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]model.FlagDefinition, 0, len(s.flagOrder))
	for _, name := range s.flagOrder {
		defs = append(defs, s.flags[name])
	}
	return defs, nil
}

func (s *MemoryStore) UpdateFlag(_ context.Context, name string, update model.FlagUpdate) (model.FlagDefinition, error) {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.flags[name]
	if !ok {
		return model.FlagDefinition{}, fmt.Errorf("%w: flag %q", ErrNotFound, name)
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
	s.flags[name] = def
	return def, nil
}

func (s *MemoryStore) DeleteFlag(_ context.Context, name string) error {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flags[name]; !ok {
		return fmt.Errorf("%w: flag %q", ErrNotFound, name)
	}
	delete(s.flags, name)
	for i, n := range s.flagOrder {
		if n == name {
			s.flagOrder = append(s.flagOrder[:i], s.flagOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) CreateTrigger(_ context.Context, def risk.TriggerDefinition) (risk.TriggerDefinition, error) {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.triggers[def.Name]; exists {
		return risk.TriggerDefinition{}, fmt.Errorf("%w: trigger %q", ErrDuplicate, def.Name)
	}
	s.triggers[def.Name] = def
	s.triggerOrder = append(s.triggerOrder, def.Name)
	return def, nil
}

func (s *MemoryStore) GetTrigger(_ context.Context, name string) (risk.TriggerDefinition, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.triggers[name]
	if !ok {
		return risk.TriggerDefinition{}, fmt.Errorf("%w: trigger %q", ErrNotFound, name)
	}
	return def, nil
}

func (s *MemoryStore) ListTriggers(_ context.Context) ([]risk.TriggerDefinition, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]risk.TriggerDefinition, 0, len(s.triggerOrder))
	for _, name := range s.triggerOrder {
		defs = append(defs, s.triggers[name])
	}
	return defs, nil
}

// UpdateTrigger replaces the stored definition wholesale, keyed by name.
func (s *MemoryStore) UpdateTrigger(_ context.Context, def risk.TriggerDefinition) (risk.TriggerDefinition, error) {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.triggers[def.Name]
	if !ok {
		return risk.TriggerDefinition{}, fmt.Errorf("%w: trigger %q", ErrNotFound, def.Name)
	}
	def.CreatedAt = stored.CreatedAt
	def.UpdatedAt = time.Now().UTC()
	s.triggers[def.Name] = def
	return def, nil
}

func (s *MemoryStore) DeleteTrigger(_ context.Context, name string) error {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.triggers[name]; !ok {
		return fmt.Errorf("%w: trigger %q", ErrNotFound, name)
	}
	delete(s.triggers, name)
	for i, n := range s.triggerOrder {
		if n == name {
			s.triggerOrder = append(s.triggerOrder[:i], s.triggerOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) SaveScore(_ context.Context, record scoring.Record) error {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.scores[record.ID]; exists {
		return fmt.Errorf("%w: score %q", ErrDuplicate, record.ID)
	}
	s.scores[record.ID] = record
	s.scoresByOwner[record.EntityID] = append(s.scoresByOwner[record.EntityID], record.ID)
	return nil
}

func (s *MemoryStore) GetScore(_ context.Context, id string) (scoring.Record, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.scores[id]
	if !ok {
		return scoring.Record{}, fmt.Errorf("%w: score %q", ErrNotFound, id)
	}
	return record, nil
}

func (s *MemoryStore) ListScoresByEntity(_ context.Context, entityID string, limit, skip int) ([]scoring.Record, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.scoresByOwner[entityID]
	records := make([]scoring.Record, 0, len(ids))
	// Insertion order is chronological; walk backwards for newest first.
	for i := len(ids) - 1; i >= 0; i-- {
		records = append(records, s.scores[ids[i]])
	}
	return page(records, limit, skip), nil
}

func (s *MemoryStore) LatestScore(_ context.Context, entityID string) (scoring.Record, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.scoresByOwner[entityID]
	if len(ids) == 0 {
		return scoring.Record{}, fmt.Errorf("%w: no scores for entity %q", ErrNotFound, entityID)
	}
	return s.scores[ids[len(ids)-1]], nil
}

func (s *MemoryStore) SaveAssessment(_ context.Context, assessment risk.Assessment) error {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assessments[assessment.EntityID] = append(s.assessments[assessment.EntityID], assessment)
	return nil
}

func (s *MemoryStore) ListAssessmentsByEntity(_ context.Context, entityID string, limit int) ([]risk.Assessment, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.assessments[entityID]
	assessments := make([]risk.Assessment, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		assessments = append(assessments, stored[i])
	}
	return page(assessments, limit, 0), nil
}

func (s *MemoryStore) LatestAssessment(_ context.Context, entityID string) (risk.Assessment, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.assessments[entityID]
	if len(stored) == 0 {
		return risk.Assessment{}, fmt.Errorf("%w: no assessments for entity %q", ErrNotFound, entityID)
	}
	return stored[len(stored)-1], nil
}

func (s *MemoryStore) SaveValidation(_ context.Context, result compliance.ValidationResult) error {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	s.validations[result.EntityID] = append(s.validations[result.EntityID], result)
	return nil
}

func (s *MemoryStore) ListValidationsByEntity(_ context.Context, entityID string) ([]compliance.ValidationResult, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.validations[entityID]
	results := make([]compliance.ValidationResult, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		results = append(results, stored[i])
	}
	return results, nil
}

func (s *MemoryStore) SaveSigil(_ context.Context, sigil nft.GeneratedSigil) error {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sigils[sigil.EntityID] = append(s.sigils[sigil.EntityID], sigil)
	return nil
}

func (s *MemoryStore) ListSigilsByEntity(_ context.Context, entityID string) ([]nft.GeneratedSigil, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.sigils[entityID]
	sigils := make([]nft.GeneratedSigil, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		sigils = append(sigils, stored[i])
	}
	return sigils, nil
}

func (s *MemoryStore) SaveGasRecord(_ context.Context, record gas.Record) error {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gasRecords[record.EntityID] = append(s.gasRecords[record.EntityID], record)
	return nil
}

func (s *MemoryStore) ListGasRecords(_ context.Context, entityID string, limit, skip int) ([]gas.Record, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.gasRecords[entityID]
	records := make([]gas.Record, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		records = append(records, stored[i])
	}
	return page(records, limit, skip), nil
}

func (s *MemoryStore) GasRecordsInWindow(_ context.Context, entityID string, start, end time.Time) ([]gas.Record, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []gas.Record
	for _, r := range s.gasRecords[entityID] {
		if r.Timestamp.Before(start) || r.Timestamp.After(end) {
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, event model.AuditEvent) error {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, event)
	return nil
}

func (s *MemoryStore) ListAudit(_ context.Context, entityID string, limit int) ([]model.AuditEvent, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]model.AuditEvent, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		if entityID != "" && s.audit[i].EntityID != entityID {
			continue
		}
		events = append(events, s.audit[i])
	}
	return page(events, limit, 0), nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Flags:       len(s.flags),
		Triggers:    len(s.triggers),
		Scores:      len(s.scores),
		AuditEvents: len(s.audit),
	}
	for _, a := range s.assessments {
		stats.Assessments += len(a)
	}
	for _, v := range s.validations {
		stats.Validations += len(v)
	}
	for _, n := range s.sigils {
		stats.Sigils += len(n)
	}
	for _, g := range s.gasRecords {
		stats.GasRecords += len(g)
	}
	return stats, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// page applies newest-first pagination. limit <= 0 means no limit.
func page[T any](items []T, limit, skip int) []T {
	if skip > 0 {
		if skip >= len(items) {
			return []T{}
		}
		items = items[skip:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
