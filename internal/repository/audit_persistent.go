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

// PersistentExecutionRepository writes action executions through to PostgreSQL.
type PersistentExecutionRepository struct {
	mem *MemoryExecutionRepository
	db  *db.DB
}

func NewPersistentExecutionRepository(mem *MemoryExecutionRepository, database *db.DB) *PersistentExecutionRepository {
	return &PersistentExecutionRepository{mem: mem, db: database}
}

func (r *PersistentExecutionRepository) Create(ctx context.Context, e *stagecond.ActionExecution) error {
	_ = r.mem.Create(ctx, e)
	if err := r.db.InsertExecution(ctx, e); err != nil {
		slog.Warn("db insert execution failed, in-memory only", "err", err)
	}
	return nil
}

func (r *PersistentExecutionRepository) Complete(ctx context.Context, e *stagecond.ActionExecution) error {
	memErr := r.mem.Complete(ctx, e)
	if errors.Is(memErr, ErrTerminal) {
		return memErr
	}
	if err := r.db.CompleteExecution(ctx, e); err != nil {
		if errors.Is(err, db.ErrAlreadyFinished) {
			return fmt.Errorf("%w: %s", ErrTerminal, e.ID)
		}
		slog.Warn("db complete execution failed, in-memory only", "err", err)
	}
	return nil
}

func (r *PersistentExecutionRepository) Get(ctx context.Context, id string) (*stagecond.ActionExecution, error) {
	e, err := r.mem.Get(ctx, id)
	if err == nil {
		return e, nil
	}
	row, dbErr := r.db.GetExecution(ctx, id)
	if dbErr != nil {
		return nil, err
	}
	return row, nil
}

func (r *PersistentExecutionRepository) ListByDefinition(ctx context.Context, definitionID string, limit int) ([]*stagecond.ActionExecution, error) {
	rows, err := r.db.ListExecutionsByDefinition(ctx, definitionID, limit)
	if err == nil {
		return rows, nil
	}
	slog.Warn("db list executions failed, falling back to in-memory", "err", err)
	return r.mem.ListByDefinition(ctx, definitionID, limit)
}

// PersistentEvaluationLogRepository writes evaluation logs to PostgreSQL and
// keeps a memory copy for reads when the database is unavailable.
type PersistentEvaluationLogRepository struct {
	mem *MemoryEvaluationLogRepository
	db  *db.DB
}

func NewPersistentEvaluationLogRepository(mem *MemoryEvaluationLogRepository, database *db.DB) *PersistentEvaluationLogRepository {
	return &PersistentEvaluationLogRepository{mem: mem, db: database}
}

func (r *PersistentEvaluationLogRepository) Append(ctx context.Context, l *stagecond.EvaluationLog) error {
	_ = r.mem.Append(ctx, l)
	if err := r.db.InsertEvaluationLog(ctx, l); err != nil {
		return fmt.Errorf("persist evaluation log: %w", err)
	}
	return nil
}

func (r *PersistentEvaluationLogRepository) ListByInstance(ctx context.Context, instanceID string, limit int) ([]*stagecond.EvaluationLog, error) {
	rows, err := r.db.ListEvaluationLogs(ctx, instanceID, limit)
	if err == nil {
		return rows, nil
	}
	slog.Warn("db list evaluation logs failed, falling back to in-memory", "err", err)
	return r.mem.ListByInstance(ctx, instanceID, limit)
}

func (r *PersistentEvaluationLogRepository) PurgeBefore(ctx context.Context, before time.Time) (int, error) {
	n, _ := r.mem.PurgeBefore(ctx, before)
	dbN, err := r.db.PurgeEvaluationLogs(ctx, before)
	if err != nil {
		return n, fmt.Errorf("purge evaluation logs: %w", err)
	}
	return max(n, dbN), nil
}
