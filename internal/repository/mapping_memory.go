package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	memstore "github.com/soochol/stagecond/internal/repository/memory"
	"github.com/soochol/stagecond/internal/stagecond"
)

// MemoryMappingRepository stores trigger mappings in memory. Like the
// database's partial unique index, it refuses a second valid mapping for a
// Task or Question source with ErrConflict.
type MemoryMappingRepository struct {
	store *memstore.Store[*stagecond.ActionTriggerMapping]
}

func NewMemoryMappingRepository() *MemoryMappingRepository {
	return &MemoryMappingRepository{
		store: memstore.New(func(m *stagecond.ActionTriggerMapping) string { return m.ID }, cloneMapping),
	}
}

type mappingView = func(pred func(*stagecond.ActionTriggerMapping) bool) []*stagecond.ActionTriggerMapping

func (r *MemoryMappingRepository) Save(ctx context.Context, m *stagecond.ActionTriggerMapping) error {
	return r.store.Swap(ctx, func(_ func(string) (*stagecond.ActionTriggerMapping, bool), scan mappingView) ([]*stagecond.ActionTriggerMapping, error) {
		if err := checkSingleMapping(scan, m, ""); err != nil {
			return nil, err
		}
		return []*stagecond.ActionTriggerMapping{m}, nil
	})
}

// put stores m without the uniqueness check. The persistent repository uses
// it to mirror rows the database already accepted.
func (r *MemoryMappingRepository) put(ctx context.Context, m *stagecond.ActionTriggerMapping) error {
	return r.store.Set(ctx, m)
}

// resync stores m and invalidates any other valid mapping for the same Task
// or Question source.
func (r *MemoryMappingRepository) resync(ctx context.Context, m *stagecond.ActionTriggerMapping) {
	if m.TriggerType.SingleMapping() {
		stale, _ := r.ListBySource(ctx, m.TriggerType, m.TriggerSourceID)
		for _, cur := range stale {
			if cur.ID == m.ID {
				continue
			}
			_, _ = r.store.Update(ctx, cur.ID, func(v *stagecond.ActionTriggerMapping) (*stagecond.ActionTriggerMapping, error) {
				v.IsValid = false
				v.UpdatedAt = m.CreatedAt
				return v, nil
			})
		}
	}
	_ = r.put(ctx, m)
}

// checkSingleMapping fails when m would become a second valid mapping for a
// Task or Question source. replacing is excluded from the check.
func checkSingleMapping(scan mappingView, m *stagecond.ActionTriggerMapping, replacing string) error {
	if !m.IsValid || !m.TriggerType.SingleMapping() {
		return nil
	}
	clash := scan(func(cur *stagecond.ActionTriggerMapping) bool {
		return cur.IsValid && cur.ID != m.ID && cur.ID != replacing &&
			cur.TriggerType == m.TriggerType && cur.TriggerSourceID == m.TriggerSourceID
	})
	if len(clash) > 0 {
		return fmt.Errorf("%w: %s %s already mapped by %s", ErrConflict, m.TriggerType, m.TriggerSourceID, clash[0].ID)
	}
	return nil
}

func (r *MemoryMappingRepository) Get(ctx context.Context, id string) (*stagecond.ActionTriggerMapping, error) {
	m, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: trigger mapping %s", ErrNotFound, id)
	}
	return m, err
}

func (r *MemoryMappingRepository) List(ctx context.Context) ([]*stagecond.ActionTriggerMapping, error) {
	return r.store.Filter(ctx, nil, mappingsByOrder)
}

func (r *MemoryMappingRepository) ListBySource(ctx context.Context, triggerType stagecond.TriggerType, sourceID string) ([]*stagecond.ActionTriggerMapping, error) {
	return r.store.Filter(ctx, func(m *stagecond.ActionTriggerMapping) bool {
		return m.IsValid && m.TriggerType == triggerType && m.TriggerSourceID == sourceID
	}, mappingsByOrder)
}

func (r *MemoryMappingRepository) ListByDefinition(ctx context.Context, definitionID string) ([]*stagecond.ActionTriggerMapping, error) {
	return r.store.Filter(ctx, func(m *stagecond.ActionTriggerMapping) bool {
		return m.IsValid && m.ActionDefinitionID == definitionID
	}, mappingsByOrder)
}

func (r *MemoryMappingRepository) Replace(ctx context.Context, oldID string, m *stagecond.ActionTriggerMapping) error {
	return r.store.Swap(ctx, func(get func(string) (*stagecond.ActionTriggerMapping, bool), scan mappingView) ([]*stagecond.ActionTriggerMapping, error) {
		old, ok := get(oldID)
		if !ok {
			return nil, fmt.Errorf("%w: trigger mapping %s", ErrNotFound, oldID)
		}
		if !old.IsValid {
			return nil, fmt.Errorf("%w: trigger mapping %s already replaced", ErrConflict, oldID)
		}
		if err := checkSingleMapping(scan, m, oldID); err != nil {
			return nil, err
		}
		old.IsValid = false
		old.UpdatedAt = m.CreatedAt
		return []*stagecond.ActionTriggerMapping{old, m}, nil
	})
}

func (r *MemoryMappingRepository) InvalidateByDefinition(ctx context.Context, definitionID string, at time.Time) (int, error) {
	valid, err := r.ListByDefinition(ctx, definitionID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range valid {
		_, err := r.store.Update(ctx, m.ID, func(cur *stagecond.ActionTriggerMapping) (*stagecond.ActionTriggerMapping, error) {
			cur.IsValid = false
			cur.UpdatedAt = at
			return cur, nil
		})
		if err == nil {
			n++
		}
	}
	return n, nil
}

func mappingsByOrder(a, b *stagecond.ActionTriggerMapping) bool {
	if a.ExecutionOrder != b.ExecutionOrder {
		return a.ExecutionOrder < b.ExecutionOrder
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
