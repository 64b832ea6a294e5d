package repository

import (
	"context"
	"errors"
	"fmt"

	memstore "github.com/soochol/stagecond/internal/repository/memory"
	"github.com/soochol/stagecond/internal/stagecond"
)

// MemoryExecutionRepository stores action executions in memory.
type MemoryExecutionRepository struct {
	store *memstore.Store[*stagecond.ActionExecution]
}

func NewMemoryExecutionRepository() *MemoryExecutionRepository {
	return &MemoryExecutionRepository{
		store: memstore.New(func(e *stagecond.ActionExecution) string { return e.ID }, cloneExecution),
	}
}

func (r *MemoryExecutionRepository) Create(ctx context.Context, e *stagecond.ActionExecution) error {
	return r.store.Set(ctx, e)
}

func (r *MemoryExecutionRepository) Complete(ctx context.Context, e *stagecond.ActionExecution) error {
	_, err := r.store.Update(ctx, e.ID, func(cur *stagecond.ActionExecution) (*stagecond.ActionExecution, error) {
		if cur.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, cur.ID, cur.Status)
		}
		cur.Status = e.Status
		cur.CompletedAt = e.CompletedAt
		cur.Output = e.Output
		cur.Error = e.Error
		return cur, nil
	})
	if errors.Is(err, memstore.ErrNotFound) {
		return fmt.Errorf("%w: execution %s", ErrNotFound, e.ID)
	}
	return err
}

func (r *MemoryExecutionRepository) Get(ctx context.Context, id string) (*stagecond.ActionExecution, error) {
	e, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: execution %s", ErrNotFound, id)
	}
	return e, err
}

func (r *MemoryExecutionRepository) ListByDefinition(ctx context.Context, definitionID string, limit int) ([]*stagecond.ActionExecution, error) {
	out, err := r.store.Filter(ctx, func(e *stagecond.ActionExecution) bool {
		return e.ActionDefinitionID == definitionID
	}, func(a, b *stagecond.ActionExecution) bool {
		return a.StartedAt.After(b.StartedAt)
	})
	return limitSlice(out, limit), err
}
