package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soochol/stagecond/internal/db"
	"github.com/soochol/stagecond/internal/stagecond"
)

// PersistentMappingRepository writes trigger mappings through to PostgreSQL.
// Replace is the one write that must succeed in the database: the partial
// unique index is what keeps two valid Task or Question mappings out.
type PersistentMappingRepository struct {
	mem *MemoryMappingRepository
	db  *db.DB
}

func NewPersistentMappingRepository(mem *MemoryMappingRepository, database *db.DB) *PersistentMappingRepository {
	return &PersistentMappingRepository{mem: mem, db: database}
}

func (r *PersistentMappingRepository) Save(ctx context.Context, m *stagecond.ActionTriggerMapping) error {
	if err := r.db.SaveTriggerMapping(ctx, m); err != nil {
		if isConflict(err) {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		slog.Warn("db save trigger mapping failed, in-memory only", "err", err)
		return r.mem.Save(ctx, m)
	}
	return r.mem.put(ctx, m)
}

func (r *PersistentMappingRepository) Get(ctx context.Context, id string) (*stagecond.ActionTriggerMapping, error) {
	m, err := r.mem.Get(ctx, id)
	if err == nil {
		return m, nil
	}
	row, dbErr := r.db.GetTriggerMapping(ctx, id)
	if dbErr != nil {
		return nil, err
	}
	_ = r.mem.put(ctx, row)
	return row, nil
}

func (r *PersistentMappingRepository) List(ctx context.Context) ([]*stagecond.ActionTriggerMapping, error) {
	rows, err := r.db.ListTriggerMappings(ctx)
	if err == nil {
		return rows, nil
	}
	slog.Warn("db list trigger mappings failed, falling back to in-memory", "err", err)
	return r.mem.List(ctx)
}

func (r *PersistentMappingRepository) ListBySource(ctx context.Context, triggerType stagecond.TriggerType, sourceID string) ([]*stagecond.ActionTriggerMapping, error) {
	rows, err := r.db.ListMappingsBySource(ctx, triggerType, sourceID)
	if err == nil {
		return rows, nil
	}
	slog.Warn("db list mappings by source failed, falling back to in-memory", "source_id", sourceID, "err", err)
	return r.mem.ListBySource(ctx, triggerType, sourceID)
}

func (r *PersistentMappingRepository) ListByDefinition(ctx context.Context, definitionID string) ([]*stagecond.ActionTriggerMapping, error) {
	rows, err := r.db.ListMappingsByDefinition(ctx, definitionID)
	if err == nil {
		return rows, nil
	}
	slog.Warn("db list mappings by definition failed, falling back to in-memory", "definition_id", definitionID, "err", err)
	return r.mem.ListByDefinition(ctx, definitionID)
}

func (r *PersistentMappingRepository) Replace(ctx context.Context, oldID string, m *stagecond.ActionTriggerMapping) error {
	if err := r.db.ReplaceTriggerMapping(ctx, oldID, m); err != nil {
		if isConflict(err) || errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return fmt.Errorf("replace trigger mapping: %w", err)
	}
	if err := r.mem.Replace(ctx, oldID, m); err != nil {
		// Memory lags the database here; mirror what was committed.
		r.mem.resync(ctx, m)
	}
	return nil
}

func (r *PersistentMappingRepository) InvalidateByDefinition(ctx context.Context, definitionID string, at time.Time) (int, error) {
	n, memErr := r.mem.InvalidateByDefinition(ctx, definitionID, at)
	dbN, err := r.db.InvalidateMappingsByDefinition(ctx, definitionID, at)
	if err != nil {
		slog.Warn("db invalidate mappings failed", "definition_id", definitionID, "err", err)
		return n, memErr
	}
	return max(n, dbN), nil
}
