package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/soochol/stagecond/internal/db"
	"github.com/soochol/stagecond/internal/stagecond"
)

func TestPersistentMappingRepository_ConflictIsNotSwallowed(t *testing.T) {
	pool, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	mem := NewMemoryMappingRepository()
	repo := NewPersistentMappingRepository(mem, db.NewWithPool(pool))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO action_trigger_mappings")).
		WillReturnError(&pq.Error{Code: "23505"})

	err = repo.Save(context.Background(), &stagecond.ActionTriggerMapping{ID: "m-1", TriggerType: stagecond.TriggerTask, IsValid: true})
	if !errors.Is(err, ErrConflict) || !errors.Is(err, db.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	if _, getErr := mem.Get(context.Background(), "m-1"); !errors.Is(getErr, ErrNotFound) {
		t.Errorf("conflicting mapping reached memory, Get err = %v", getErr)
	}
}

func TestPersistentMappingRepository_ReplaceOfGoneMappingConflicts(t *testing.T) {
	pool, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	repo := NewPersistentMappingRepository(NewMemoryMappingRepository(), db.NewWithPool(pool))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE action_trigger_mappings SET is_valid = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = repo.Replace(context.Background(), "m-1", &stagecond.ActionTriggerMapping{ID: "m-2", TriggerType: stagecond.TriggerTask, IsValid: true})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPersistentDefinitionRepository_FallsBackToMemory(t *testing.T) {
	pool, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	repo := NewPersistentDefinitionRepository(NewMemoryDefinitionRepository(), db.NewWithPool(pool))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO action_definitions")).WillReturnError(errors.New("connection refused"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM action_definitions")).WillReturnError(errors.New("connection refused"))

	ctx := context.Background()
	if err := repo.Save(ctx, &stagecond.ActionDefinition{ID: "d-1", ActionType: stagecond.ActionTypeSendEmail}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != "d-1" {
		t.Errorf("List = %+v, want [d-1]", list)
	}
}
