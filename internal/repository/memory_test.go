package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soochol/stagecond/internal/stagecond"
)

func TestMemoryConditionRepository_CloneIsolation(t *testing.T) {
	repo := NewMemoryConditionRepository()
	ctx := context.Background()
	c := &stagecond.StageCondition{ID: "c-1", StageID: "s-1", Actions: []stagecond.ConditionAction{{Type: "GoToStage", TargetStageID: "s-2"}}}
	if err := repo.Save(ctx, c); err != nil {
		t.Fatal(err)
	}
	c.Actions[0].TargetStageID = "mutated"

	got, err := repo.Get(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Actions[0].TargetStageID != "s-2" {
		t.Errorf("TargetStageID = %q, want %q", got.Actions[0].TargetStageID, "s-2")
	}

	byStage, _ := repo.ListByStage(ctx, "s-1")
	if len(byStage) != 1 {
		t.Errorf("ListByStage returned %d, want 1", len(byStage))
	}
	if _, err := repo.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(nope) err = %v, want ErrNotFound", err)
	}
}

func TestMemoryMappingRepository_Replace(t *testing.T) {
	repo := NewMemoryMappingRepository()
	ctx := context.Background()
	now := time.Now()
	old := &stagecond.ActionTriggerMapping{ID: "m-1", ActionDefinitionID: "d-1", TriggerType: stagecond.TriggerTask, TriggerSourceID: "t-1", IsValid: true}
	repo.Save(ctx, old)

	next := &stagecond.ActionTriggerMapping{ID: "m-2", ActionDefinitionID: "d-2", TriggerType: stagecond.TriggerTask, TriggerSourceID: "t-1", IsValid: true, CreatedAt: now}
	if err := repo.Replace(ctx, "m-1", next); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	valid, _ := repo.ListBySource(ctx, stagecond.TriggerTask, "t-1")
	if len(valid) != 1 || valid[0].ID != "m-2" {
		t.Fatalf("valid mappings = %+v, want only m-2", valid)
	}
	prev, _ := repo.Get(ctx, "m-1")
	if prev.IsValid {
		t.Error("old mapping still valid after Replace")
	}

	if err := repo.Replace(ctx, "missing", &stagecond.ActionTriggerMapping{ID: "m-3"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Replace(missing) err = %v, want ErrNotFound", err)
	}
	if _, err := repo.Get(ctx, "m-3"); err == nil {
		t.Error("failed Replace still stored the new mapping")
	}
}

func TestMemoryMappingRepository_SecondTaskMappingConflicts(t *testing.T) {
	repo := NewMemoryMappingRepository()
	ctx := context.Background()
	first := &stagecond.ActionTriggerMapping{ID: "m-1", ActionDefinitionID: "d-1", TriggerType: stagecond.TriggerTask, TriggerSourceID: "t-1", IsValid: true}
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("Save(m-1): %v", err)
	}

	second := &stagecond.ActionTriggerMapping{ID: "m-2", ActionDefinitionID: "d-2", TriggerType: stagecond.TriggerTask, TriggerSourceID: "t-1", IsValid: true}
	if err := repo.Save(ctx, second); !errors.Is(err, ErrConflict) {
		t.Fatalf("Save(m-2) err = %v, want ErrConflict", err)
	}
	if _, err := repo.Get(ctx, "m-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("conflicting mapping was stored, Get err = %v", err)
	}

	// Re-saving the holder itself is fine, as is a Stage source.
	first.ExecutionOrder = 4
	if err := repo.Save(ctx, first); err != nil {
		t.Errorf("Save(m-1) again: %v", err)
	}
	for _, id := range []string{"m-3", "m-4"} {
		if err := repo.Save(ctx, &stagecond.ActionTriggerMapping{ID: id, TriggerType: stagecond.TriggerStage, TriggerSourceID: "s-1", IsValid: true}); err != nil {
			t.Errorf("Save(%s): %v", id, err)
		}
	}
}

func TestMemoryMappingRepository_ReplaceOfReplacedMappingConflicts(t *testing.T) {
	repo := NewMemoryMappingRepository()
	ctx := context.Background()
	repo.Save(ctx, &stagecond.ActionTriggerMapping{ID: "m-1", ActionDefinitionID: "d-1", TriggerType: stagecond.TriggerTask, TriggerSourceID: "t-1", IsValid: true})

	// Two writers both saw m-1 as the current mapping.
	if err := repo.Replace(ctx, "m-1", &stagecond.ActionTriggerMapping{ID: "m-2", ActionDefinitionID: "d-2", TriggerType: stagecond.TriggerTask, TriggerSourceID: "t-1", IsValid: true}); err != nil {
		t.Fatalf("first Replace: %v", err)
	}
	err := repo.Replace(ctx, "m-1", &stagecond.ActionTriggerMapping{ID: "m-3", ActionDefinitionID: "d-3", TriggerType: stagecond.TriggerTask, TriggerSourceID: "t-1", IsValid: true})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second Replace err = %v, want ErrConflict", err)
	}

	valid, _ := repo.ListBySource(ctx, stagecond.TriggerTask, "t-1")
	if len(valid) != 1 || valid[0].ID != "m-2" {
		t.Errorf("valid mappings = %+v, want only m-2", valid)
	}
}

func TestMemoryMappingRepository_InvalidateByDefinition(t *testing.T) {
	repo := NewMemoryMappingRepository()
	ctx := context.Background()
	for i, id := range []string{"m-1", "m-2", "m-3"} {
		def := "d-1"
		if i == 2 {
			def = "d-2"
		}
		repo.Save(ctx, &stagecond.ActionTriggerMapping{ID: id, ActionDefinitionID: def, TriggerType: stagecond.TriggerStage, TriggerSourceID: "s-1", IsValid: true, ExecutionOrder: i})
	}

	n, err := repo.InvalidateByDefinition(ctx, "d-1", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("invalidated %d, want 2", n)
	}
	left, _ := repo.ListBySource(ctx, stagecond.TriggerStage, "s-1")
	if len(left) != 1 || left[0].ID != "m-3" {
		t.Errorf("remaining = %+v, want m-3", left)
	}
}

func TestMemoryExecutionRepository_CompleteOnce(t *testing.T) {
	repo := NewMemoryExecutionRepository()
	ctx := context.Background()
	started := time.Now()
	repo.Create(ctx, &stagecond.ActionExecution{ID: "e-1", ActionDefinitionID: "d-1", Status: stagecond.ExecutionRunning, StartedAt: started})

	done := started.Add(time.Second)
	if err := repo.Complete(ctx, &stagecond.ActionExecution{ID: "e-1", Status: stagecond.ExecutionFailed, CompletedAt: &done, Error: "boom"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	err := repo.Complete(ctx, &stagecond.ActionExecution{ID: "e-1", Status: stagecond.ExecutionCompleted, CompletedAt: &done})
	if !errors.Is(err, ErrTerminal) {
		t.Errorf("second Complete err = %v, want ErrTerminal", err)
	}

	got, _ := repo.Get(ctx, "e-1")
	if got.Status != stagecond.ExecutionFailed || got.Error != "boom" {
		t.Errorf("execution = %+v, want Failed with error boom", got)
	}
}

func TestMemoryExecutionRepository_ListNewestFirst(t *testing.T) {
	repo := NewMemoryExecutionRepository()
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"e-1", "e-2", "e-3"} {
		repo.Create(ctx, &stagecond.ActionExecution{ID: id, ActionDefinitionID: "d-1", StartedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	got, _ := repo.ListByDefinition(ctx, "d-1", 2)
	if len(got) != 2 || got[0].ID != "e-3" || got[1].ID != "e-2" {
		t.Errorf("ListByDefinition = %v, want [e-3 e-2]", ids(got))
	}
}

func ids(execs []*stagecond.ActionExecution) []string {
	out := make([]string, len(execs))
	for i, e := range execs {
		out[i] = e.ID
	}
	return out
}

func TestMemoryEvaluationLogRepository_Purge(t *testing.T) {
	repo := NewMemoryEvaluationLogRepository()
	ctx := context.Background()
	now := time.Now()
	repo.Append(ctx, &stagecond.EvaluationLog{ID: "l-1", InstanceID: "i-1", CreatedAt: now.Add(-48 * time.Hour)})
	repo.Append(ctx, &stagecond.EvaluationLog{ID: "l-2", InstanceID: "i-1", CreatedAt: now})

	n, _ := repo.PurgeBefore(ctx, now.Add(-24*time.Hour))
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	left, _ := repo.ListByInstance(ctx, "i-1", 0)
	if len(left) != 1 || left[0].ID != "l-2" {
		t.Errorf("remaining logs = %+v, want l-2", left)
	}
}
