package repository

import (
	"context"
	"log/slog"

	"github.com/soochol/stagecond/internal/db"
	"github.com/soochol/stagecond/internal/stagecond"
)

// PersistentConditionRepository wraps a MemoryConditionRepository with a
// PostgreSQL backend. Writes go to both stores (DB failure is logged but
// non-fatal). Reads try memory first, falling back to the database.
type PersistentConditionRepository struct {
	mem *MemoryConditionRepository
	db  *db.DB
}

func NewPersistentConditionRepository(mem *MemoryConditionRepository, database *db.DB) *PersistentConditionRepository {
	return &PersistentConditionRepository{mem: mem, db: database}
}

func (r *PersistentConditionRepository) Save(ctx context.Context, c *stagecond.StageCondition) error {
	_ = r.mem.Save(ctx, c)
	if err := r.db.SaveCondition(ctx, c); err != nil {
		slog.Warn("db save condition failed, in-memory only", "err", err)
	}
	return nil
}

func (r *PersistentConditionRepository) Get(ctx context.Context, id string) (*stagecond.StageCondition, error) {
	c, err := r.mem.Get(ctx, id)
	if err == nil {
		return c, nil
	}
	row, dbErr := r.db.GetCondition(ctx, id)
	if dbErr != nil {
		return nil, err
	}
	_ = r.mem.Save(ctx, row)
	return row, nil
}

func (r *PersistentConditionRepository) List(ctx context.Context) ([]*stagecond.StageCondition, error) {
	rows, err := r.db.ListConditions(ctx, "")
	if err == nil {
		return rows, nil
	}
	slog.Warn("db list conditions failed, falling back to in-memory", "err", err)
	return r.mem.List(ctx)
}

func (r *PersistentConditionRepository) ListByStage(ctx context.Context, stageID string) ([]*stagecond.StageCondition, error) {
	rows, err := r.db.ListConditions(ctx, stageID)
	if err == nil {
		return rows, nil
	}
	slog.Warn("db list conditions by stage failed, falling back to in-memory", "stage_id", stageID, "err", err)
	return r.mem.ListByStage(ctx, stageID)
}
