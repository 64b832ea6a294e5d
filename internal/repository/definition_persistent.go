package repository

import (
	"context"
	"log/slog"

	"github.com/soochol/stagecond/internal/db"
	"github.com/soochol/stagecond/internal/stagecond"
)

// PersistentDefinitionRepository writes action definitions through to PostgreSQL.
type PersistentDefinitionRepository struct {
	mem *MemoryDefinitionRepository
	db  *db.DB
}

func NewPersistentDefinitionRepository(mem *MemoryDefinitionRepository, database *db.DB) *PersistentDefinitionRepository {
	return &PersistentDefinitionRepository{mem: mem, db: database}
}

func (r *PersistentDefinitionRepository) Save(ctx context.Context, d *stagecond.ActionDefinition) error {
	_ = r.mem.Save(ctx, d)
	if err := r.db.SaveActionDefinition(ctx, d); err != nil {
		slog.Warn("db save action definition failed, in-memory only", "err", err)
	}
	return nil
}

func (r *PersistentDefinitionRepository) Get(ctx context.Context, id string) (*stagecond.ActionDefinition, error) {
	d, err := r.mem.Get(ctx, id)
	if err == nil {
		return d, nil
	}
	row, dbErr := r.db.GetActionDefinition(ctx, id)
	if dbErr != nil {
		return nil, err
	}
	_ = r.mem.Save(ctx, row)
	return row, nil
}

func (r *PersistentDefinitionRepository) List(ctx context.Context) ([]*stagecond.ActionDefinition, error) {
	rows, err := r.db.ListActionDefinitions(ctx)
	if err == nil {
		return rows, nil
	}
	slog.Warn("db list action definitions failed, falling back to in-memory", "err", err)
	return r.mem.List(ctx)
}
