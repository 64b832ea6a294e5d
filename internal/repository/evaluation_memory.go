package repository

import (
	"context"
	"time"

	memstore "github.com/soochol/stagecond/internal/repository/memory"
	"github.com/soochol/stagecond/internal/stagecond"
)

// MemoryEvaluationLogRepository stores evaluation logs in memory.
type MemoryEvaluationLogRepository struct {
	store *memstore.Store[*stagecond.EvaluationLog]
}

func NewMemoryEvaluationLogRepository() *MemoryEvaluationLogRepository {
	return &MemoryEvaluationLogRepository{
		store: memstore.New(func(l *stagecond.EvaluationLog) string { return l.ID }, cloneLog),
	}
}

func (r *MemoryEvaluationLogRepository) Append(ctx context.Context, l *stagecond.EvaluationLog) error {
	return r.store.Set(ctx, l)
}

func (r *MemoryEvaluationLogRepository) ListByInstance(ctx context.Context, instanceID string, limit int) ([]*stagecond.EvaluationLog, error) {
	out, err := r.store.Filter(ctx, func(l *stagecond.EvaluationLog) bool {
		return l.InstanceID == instanceID
	}, func(a, b *stagecond.EvaluationLog) bool {
		return a.CreatedAt.After(b.CreatedAt)
	})
	return limitSlice(out, limit), err
}

func (r *MemoryEvaluationLogRepository) PurgeBefore(ctx context.Context, before time.Time) (int, error) {
	return r.store.DeleteWhere(ctx, func(l *stagecond.EvaluationLog) bool {
		return l.CreatedAt.Before(before)
	}), nil
}
