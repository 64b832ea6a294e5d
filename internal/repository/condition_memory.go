package repository

import (
	"context"
	"errors"
	"fmt"

	memstore "github.com/soochol/stagecond/internal/repository/memory"
	"github.com/soochol/stagecond/internal/stagecond"
)

// MemoryConditionRepository is a thread-safe in-memory ConditionRepository.
type MemoryConditionRepository struct {
	store *memstore.Store[*stagecond.StageCondition]
}

func NewMemoryConditionRepository() *MemoryConditionRepository {
	return &MemoryConditionRepository{
		store: memstore.New(func(c *stagecond.StageCondition) string { return c.ID }, cloneCondition),
	}
}

func (r *MemoryConditionRepository) Save(ctx context.Context, c *stagecond.StageCondition) error {
	return r.store.Set(ctx, c)
}

func (r *MemoryConditionRepository) Get(ctx context.Context, id string) (*stagecond.StageCondition, error) {
	c, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: condition %s", ErrNotFound, id)
	}
	return c, err
}

func (r *MemoryConditionRepository) List(ctx context.Context) ([]*stagecond.StageCondition, error) {
	return r.store.Filter(ctx, nil, conditionsByCreation)
}

func (r *MemoryConditionRepository) ListByStage(ctx context.Context, stageID string) ([]*stagecond.StageCondition, error) {
	return r.store.Filter(ctx, func(c *stagecond.StageCondition) bool { return c.StageID == stageID }, conditionsByCreation)
}

func conditionsByCreation(a, b *stagecond.StageCondition) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
