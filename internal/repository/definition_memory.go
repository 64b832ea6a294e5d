package repository

import (
	"context"
	"errors"
	"fmt"

	memstore "github.com/soochol/stagecond/internal/repository/memory"
	"github.com/soochol/stagecond/internal/stagecond"
)

// MemoryDefinitionRepository stores action definitions in memory.
type MemoryDefinitionRepository struct {
	store *memstore.Store[*stagecond.ActionDefinition]
}

func NewMemoryDefinitionRepository() *MemoryDefinitionRepository {
	return &MemoryDefinitionRepository{
		store: memstore.New(func(d *stagecond.ActionDefinition) string { return d.ID }, cloneDefinition),
	}
}

func (r *MemoryDefinitionRepository) Save(ctx context.Context, d *stagecond.ActionDefinition) error {
	return r.store.Set(ctx, d)
}

func (r *MemoryDefinitionRepository) Get(ctx context.Context, id string) (*stagecond.ActionDefinition, error) {
	d, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: action definition %s", ErrNotFound, id)
	}
	return d, err
}

func (r *MemoryDefinitionRepository) List(ctx context.Context) ([]*stagecond.ActionDefinition, error) {
	return r.store.Filter(ctx, nil, func(a, b *stagecond.ActionDefinition) bool {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
