package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/soochol/stagecond/internal/registry"
	"github.com/soochol/stagecond/internal/stagecond"
)

func TestActionRunner_RunRecordsExecution(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	def := h.definition(t, registry.CreateDefinitionInput{
		Name:       "Mail",
		ActionType: "SendEmail",
		Config:     map[string]any{"subject": "Hi", "body": "Body"},
	})

	exec, err := h.runner.Run(ctx, testCaller, def.ID, map[string]any{"email": "ana@example.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status != stagecond.ExecutionCompleted {
		t.Errorf("Status = %q, want %q", exec.Status, stagecond.ExecutionCompleted)
	}
	if exec.CompletedAt == nil {
		t.Error("CompletedAt is nil")
	}
	if exec.ExecutedBy != "u1" {
		t.Errorf("ExecutedBy = %q, want %q", exec.ExecutedBy, "u1")
	}

	stored, err := h.runner.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != stagecond.ExecutionCompleted {
		t.Errorf("stored Status = %q, want %q", stored.Status, stagecond.ExecutionCompleted)
	}

	if _, err := h.runner.GetExecution(ctx, "missing"); !stagecond.IsNotFound(err) {
		t.Errorf("GetExecution(missing) err = %v, want not found", err)
	}
}

func TestActionRunner_RunCapturesExecutorFailure(t *testing.T) {
	h := newHarness(t)
	h.mailer.failFor = "bounce@example.com"
	def := h.definition(t, registry.CreateDefinitionInput{
		Name:       "Mail",
		ActionType: "SendEmail",
		Config:     map[string]any{"to": "bounce@example.com", "subject": "Hi", "body": "Body"},
	})

	exec, err := h.runner.Run(context.Background(), testCaller, def.ID, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status != stagecond.ExecutionFailed {
		t.Errorf("Status = %q, want %q", exec.Status, stagecond.ExecutionFailed)
	}
	if !strings.Contains(exec.Error, "550") {
		t.Errorf("Error = %q, want the SMTP reply", exec.Error)
	}
}

func TestActionRunner_RejectsMissingAndDisabled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.runner.Run(ctx, testCaller, "missing", nil); !stagecond.IsNotFound(err) {
		t.Errorf("Run(missing) err = %v, want not found", err)
	}

	off := false
	def := h.definition(t, registry.CreateDefinitionInput{Name: "Off", ActionType: "SendEmail", IsEnabled: &off})
	if _, err := h.runner.Run(ctx, testCaller, def.ID, nil); !stagecond.IsValidation(err) {
		t.Errorf("Run(disabled) err = %v, want validation error", err)
	}

	execs, err := h.runner.ListExecutions(ctx, def.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(execs) != 0 {
		t.Errorf("rejected runs left %d audit rows, want 0", len(execs))
	}
}

func TestActionRunner_RejectsDefinitionDeletedOnAnotherReplica(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	def := h.definition(t, registry.CreateDefinitionInput{
		Name: "Mail", ActionType: "SendEmail",
		Config: map[string]any{"to": "ana@example.com", "subject": "Hi", "body": "Body"},
	})

	// This replica has the definition cached before another one deletes it.
	if _, err := h.registry.GetDefinition(ctx, def.ID); err != nil {
		t.Fatal(err)
	}
	other := registry.New(h.defs, h.mappings, registry.Options{CacheTTL: time.Hour})
	if err := other.DeleteDefinition(ctx, testCaller, def.ID); err != nil {
		t.Fatalf("DeleteDefinition on other replica: %v", err)
	}

	if _, err := h.runner.Run(ctx, testCaller, def.ID, nil); !stagecond.IsNotFound(err) {
		t.Fatalf("Run err = %v, want not found", err)
	}
	if sent := h.mailer.sent(); len(sent) != 0 {
		t.Errorf("deleted definition sent %d messages", len(sent))
	}
}

func TestActionRunner_FireIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	h.mailer.failFor = "bounce@example.com"
	ctx := context.Background()

	failing := h.definition(t, registry.CreateDefinitionInput{
		Name: "Bounce", ActionType: "SendEmail",
		Config: map[string]any{"to": "bounce@example.com", "subject": "x", "body": "y"},
	})
	complete := h.definition(t, registry.CreateDefinitionInput{
		Name: "Complete", ActionType: "System",
		Config: map[string]any{"actionName": "completestage"},
	})
	otherEvent := h.definition(t, registry.CreateDefinitionInput{
		Name: "Other", ActionType: "SendEmail",
		Config: map[string]any{"to": "ana@example.com"},
	})

	for i, in := range []registry.CreateMappingInput{
		{ActionDefinitionID: failing.ID, TriggerType: "Stage", TriggerSourceID: "s1", ExecutionOrder: 0},
		{ActionDefinitionID: complete.ID, TriggerType: "Stage", TriggerSourceID: "s1", ExecutionOrder: 1},
		{ActionDefinitionID: otherEvent.ID, TriggerType: "Stage", TriggerSourceID: "s1", TriggerEvent: "Started"},
	} {
		if _, _, err := h.registry.CreateMapping(ctx, testCaller, in); err != nil {
			t.Fatalf("mapping %d: %v", i, err)
		}
	}

	execs, err := h.runner.Fire(ctx, testCaller, stagecond.TriggerStage, "s1", "completed",
		map[string]any{"instanceId": "inst-1", "stageId": "s1"})
	if err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("Fire ran %d actions, want 2", len(execs))
	}
	if execs[0].ActionDefinitionID != failing.ID || execs[0].Status != stagecond.ExecutionFailed {
		t.Errorf("execs[0] = %s %s, want %s Failed", execs[0].ActionDefinitionID, execs[0].Status, failing.ID)
	}
	if execs[1].ActionDefinitionID != complete.ID || execs[1].Status != stagecond.ExecutionCompleted {
		t.Errorf("execs[1] = %s %s, want %s Completed", execs[1].ActionDefinitionID, execs[1].Status, complete.ID)
	}

	if cur, _ := h.store.CurrentStageID(ctx, "inst-1"); cur != "s2" {
		t.Errorf("CurrentStageID = %q, want %q", cur, "s2")
	}
}
