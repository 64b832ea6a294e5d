package services

import (
	"context"
	"testing"

	"github.com/soochol/stagecond/internal/repository"
	"github.com/soochol/stagecond/internal/stagecond"
)

func validInput() ConditionInput {
	return ConditionInput{
		StageID: "s1",
		Rules:   amountRule(">=", "1000"),
		Actions: []stagecond.ConditionAction{{Type: stagecond.ActionGoToStage, Order: 1, TargetStageID: "s3"}},
	}
}

func TestConditionService_SingleActivePerStage(t *testing.T) {
	svc := NewConditionService(repository.NewMemoryConditionRepository(), nil)
	ctx := context.Background()

	first, _, err := svc.Create(ctx, testCaller, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !first.IsActive {
		t.Error("new condition is not active")
	}
	if first.Name != "Condition for s1" {
		t.Errorf("Name = %q, want %q", first.Name, "Condition for s1")
	}

	second, _, err := svc.Create(ctx, testCaller, validInput())
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}

	active, err := svc.ActiveForStage(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != second.ID {
		t.Errorf("active = %s, want %s", active.ID, second.ID)
	}

	old, err := svc.Get(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if old.IsActive {
		t.Error("superseded condition is still active")
	}

	all, err := svc.List(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("List = %d conditions, want 2", len(all))
	}
}

func TestConditionService_ValidationAndWarnings(t *testing.T) {
	svc := NewConditionService(repository.NewMemoryConditionRepository(), nil)
	ctx := context.Background()

	bad := validInput()
	bad.Rules.Rules[0].Operator = "regex"
	if _, _, err := svc.Create(ctx, testCaller, bad); !stagecond.IsValidation(err) {
		t.Errorf("unknown operator err = %v, want validation error", err)
	}

	missingStage := validInput()
	missingStage.StageID = ""
	if _, err := svc.Validate(missingStage); !stagecond.IsValidation(err) {
		t.Errorf("missing stage err = %v, want validation error", err)
	}

	warn := validInput()
	warn.Actions = append(warn.Actions, stagecond.ConditionAction{Type: stagecond.ActionEndWorkflow, Order: 2})
	warnings, err := svc.Validate(warn)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(warnings) == 0 {
		t.Error("conflicting routing actions produced no warnings")
	}

	list, err := svc.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("invalid conditions were stored: %+v", list)
	}
}

func TestConditionService_UpdateAndDelete(t *testing.T) {
	svc := NewConditionService(repository.NewMemoryConditionRepository(), nil)
	ctx := context.Background()

	c, _, err := svc.Create(ctx, testCaller, validInput())
	if err != nil {
		t.Fatal(err)
	}

	in := validInput()
	in.FallbackStageID = "s2"
	updated, _, err := svc.Update(ctx, testCaller, c.ID, in)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.FallbackStageID != "s2" {
		t.Errorf("FallbackStageID = %q, want %q", updated.FallbackStageID, "s2")
	}
	if updated.Name != c.Name {
		t.Errorf("Name = %q, want %q", updated.Name, c.Name)
	}

	if _, _, err := svc.Update(ctx, testCaller, "missing", in); !stagecond.IsNotFound(err) {
		t.Errorf("Update(missing) err = %v, want not found", err)
	}

	for _, id := range []string{c.ID, c.ID, "missing"} {
		if err := svc.Delete(ctx, testCaller, id); err != nil {
			t.Errorf("Delete(%s): %v", id, err)
		}
	}

	if _, err := svc.ActiveForStage(ctx, "s1"); !stagecond.IsNotFound(err) {
		t.Errorf("ActiveForStage after delete err = %v, want not found", err)
	}
}
