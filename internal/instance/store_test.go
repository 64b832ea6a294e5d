package instance

import (
	"context"
	"slices"
	"testing"

	"github.com/soochol/stagecond/internal/stagecond"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	s.AddWorkflow("wf-1",
		stagecond.Stage{ID: "s1", Name: "Intake", Order: 1},
		stagecond.Stage{ID: "s2", Name: "Review", Order: 2},
		stagecond.Stage{ID: "s3", Name: "Approve", Order: 3},
		stagecond.Stage{ID: "s4", Name: "Done", Order: 4},
	)
	if err := s.AddInstance(&Instance{ID: "inst-1", WorkflowID: "wf-1"}); err != nil {
		t.Fatalf("AddInstance: %v", err)
	}
	return s
}

var caller = stagecond.Caller{TenantID: "t1", UserID: "u1"}

func TestStore_AddInstanceStartsOnFirstStage(t *testing.T) {
	s := newTestStore(t)
	inst, err := s.Instance("inst-1")
	if err != nil {
		t.Fatal(err)
	}
	if inst.CurrentStageID != "s1" {
		t.Errorf("CurrentStageID = %q, want %q", inst.CurrentStageID, "s1")
	}
	if got := inst.StageStatus["s1"]; got != stagecond.StatusInProgress {
		t.Errorf("StageStatus[s1] = %q, want %q", got, stagecond.StatusInProgress)
	}

	if err := s.AddInstance(&Instance{ID: "x", WorkflowID: "missing"}); err == nil {
		t.Error("AddInstance with unknown workflow succeeded")
	}
}

func TestStore_NextStage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	next, err := s.NextStageID(ctx, "inst-1", "s2")
	if err != nil || next != "s3" {
		t.Errorf("NextStageID(s2) = %q, %v; want s3", next, err)
	}
	last, err := s.NextStageID(ctx, "inst-1", "s4")
	if err != nil || last != "" {
		t.Errorf("NextStageID(s4) = %q, %v; want empty", last, err)
	}
}

func TestStore_GoToStage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.GoToStage(ctx, caller, "inst-1", "s3"); err != nil {
		t.Fatalf("GoToStage: %v", err)
	}
	inst, _ := s.Instance("inst-1")
	if inst.CurrentStageID != "s3" {
		t.Errorf("CurrentStageID = %q, want %q", inst.CurrentStageID, "s3")
	}
	if got := inst.StageStatus["s1"]; got != stagecond.StatusCompleted {
		t.Errorf("StageStatus[s1] = %q, want %q", got, stagecond.StatusCompleted)
	}
	if inst.UpdatedBy != "u1" {
		t.Errorf("UpdatedBy = %q, want %q", inst.UpdatedBy, "u1")
	}

	if err := s.GoToStage(ctx, caller, "inst-1", "elsewhere"); err == nil {
		t.Error("GoToStage to an unknown stage succeeded")
	}
}

func TestStore_SkipStages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	landed, err := s.SkipStages(ctx, caller, "inst-1", "s1", 2)
	if err != nil || landed != "s4" {
		t.Fatalf("SkipStages(s1, 2) = %q, %v; want s4", landed, err)
	}
	inst, _ := s.Instance("inst-1")
	for _, id := range []string{"s2", "s3"} {
		if got := inst.StageStatus[id]; got != stagecond.StatusSkipped {
			t.Errorf("StageStatus[%s] = %q, want %q", id, got, stagecond.StatusSkipped)
		}
	}

	landed, err = s.SkipStages(ctx, caller, "inst-1", "s4", 1)
	if err != nil || landed != "" {
		t.Fatalf("SkipStages(s4, 1) = %q, %v; want empty", landed, err)
	}
	inst, _ = s.Instance("inst-1")
	if inst.Status != stagecond.StatusCompleted {
		t.Errorf("Status = %q, want %q", inst.Status, stagecond.StatusCompleted)
	}
}

func TestStore_CompleteStage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CompleteStage(ctx, caller, "inst-1", "s2", true); err == nil {
		t.Error("validation should reject completing a non-current stage")
	}
	if err := s.CompleteStage(ctx, caller, "inst-1", "s1", true); err != nil {
		t.Fatalf("CompleteStage(s1): %v", err)
	}

	done, err := s.IsStageCompleted(ctx, "inst-1", "s1")
	if err != nil || !done {
		t.Errorf("IsStageCompleted(s1) = %v, %v; want true", done, err)
	}
	if cur, _ := s.CurrentStageID(ctx, "inst-1"); cur != "s2" {
		t.Errorf("CurrentStageID = %q, want %q", cur, "s2")
	}
}

func TestStore_EndWorkflow(t *testing.T) {
	s := newTestStore(t)
	if err := s.EndWorkflow(context.Background(), caller, "inst-1", ""); err != nil {
		t.Fatalf("EndWorkflow: %v", err)
	}
	inst, _ := s.Instance("inst-1")
	if inst.Status != stagecond.StatusForceCompleted {
		t.Errorf("Status = %q, want %q", inst.Status, stagecond.StatusForceCompleted)
	}
}

func TestStore_ComponentData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpdateField(ctx, caller, "inst-1", "s1", "amount", 1500); err != nil {
		t.Fatal(err)
	}
	s.SetComponent("inst-1", "s1", stagecond.ComponentChecklist, "cl-1", map[string]any{"status": "Completed"})

	fields, err := s.GetComponentData(ctx, "inst-1", "s1", stagecond.ComponentField, "")
	if err != nil {
		t.Fatal(err)
	}
	if fields["amount"] != 1500 {
		t.Errorf("amount = %v, want 1500", fields["amount"])
	}

	cl, err := s.GetComponentData(ctx, "inst-1", "s1", stagecond.ComponentChecklist, "cl-1")
	if err != nil {
		t.Fatal(err)
	}
	if cl["status"] != "Completed" {
		t.Errorf("status = %v, want Completed", cl["status"])
	}

	missing, err := s.GetComponentData(ctx, "inst-1", "s1", stagecond.ComponentChecklist, "nope")
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 0 {
		t.Errorf("unknown component data = %v, want empty", missing)
	}

	if _, err := s.GetComponentData(ctx, "ghost", "s1", stagecond.ComponentField, ""); !stagecond.IsNotFound(err) {
		t.Errorf("unknown instance err = %v, want not found", err)
	}
}

func TestStore_ResolveEmails(t *testing.T) {
	s := newTestStore(t)
	s.AddUser(User{ID: "u1", Email: "ana@example.com"})
	s.AddUser(User{ID: "u2", Email: "ben@example.com"})
	s.AddUser(User{ID: "u3"})
	s.AddTeam("ops", "u1", "u2", "u3")

	emails, err := s.ResolveEmails(context.Background(), []string{"u1", "ghost"}, []string{"ops"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"ana@example.com", "ben@example.com"}
	if !slices.Equal(emails, want) {
		t.Errorf("ResolveEmails = %v, want %v", emails, want)
	}
}

func TestStore_ActionReferences(t *testing.T) {
	s := newTestStore(t)
	s.SetActionReference(stagecond.TriggerTask, "task-1", "def-1")
	s.SetActionReference(stagecond.TriggerQuestion, "q-1", "def-1")
	s.SetActionReference(stagecond.TriggerTask, "task-2", "def-2")

	n, err := s.ClearActionReferences(context.Background(), "def-1")
	if err != nil || n != 2 {
		t.Fatalf("ClearActionReferences = %d, %v; want 2", n, err)
	}
	if ref := s.ActionReference(stagecond.TriggerTask, "task-1"); ref != "" {
		t.Errorf("task-1 reference = %q, want cleared", ref)
	}
	if ref := s.ActionReference(stagecond.TriggerTask, "task-2"); ref != "def-2" {
		t.Errorf("task-2 reference = %q, want %q", ref, "def-2")
	}
}

func TestStore_SourceNames(t *testing.T) {
	s := newTestStore(t)
	s.SetSourceName(stagecond.TriggerTask, "task-1", "Upload ID")
	ctx := context.Background()

	tests := []struct {
		tt   stagecond.TriggerType
		id   string
		want string
	}{
		{stagecond.TriggerTask, "task-1", "Upload ID"},
		{stagecond.TriggerStage, "s2", "Review"},
		{stagecond.TriggerQuestion, "unknown", ""},
	}
	for _, tt := range tests {
		if name, _ := s.GetTriggerSourceName(ctx, tt.tt, tt.id); name != tt.want {
			t.Errorf("GetTriggerSourceName(%s, %s) = %q, want %q", tt.tt, tt.id, name, tt.want)
		}
	}
}

func TestStore_ApplySeed(t *testing.T) {
	seed := []byte(`
workflows:
  - id: onboarding
    stages:
      - {id: a, name: Start}
      - {id: b, name: Finish}
users:
  - {id: u1, name: Ana, email: ana@example.com}
teams:
  ops: [u1]
instances:
  - id: i1
    workflow_id: onboarding
    fields:
      amount: 1500
components:
  - {instance_id: i1, stage_id: a, type: tasks, component_id: cl-1, data: {status: Completed}}
sources:
  - {type: task, id: task-1, name: Upload ID}
`)
	s := NewStore()
	if err := s.ApplySeed(seed); err != nil {
		t.Fatalf("ApplySeed: %v", err)
	}

	inst, err := s.Instance("i1")
	if err != nil {
		t.Fatal(err)
	}
	if inst.CurrentStageID != "a" {
		t.Errorf("CurrentStageID = %q, want %q", inst.CurrentStageID, "a")
	}
	if inst.Fields["amount"] != 1500 {
		t.Errorf("amount = %v (%T), want 1500", inst.Fields["amount"], inst.Fields["amount"])
	}
	if next, _ := s.NextStageID(context.Background(), "i1", "a"); next != "b" {
		t.Errorf("NextStageID(a) = %q, want %q", next, "b")
	}
	cl, _ := s.GetComponentData(context.Background(), "i1", "a", stagecond.ComponentChecklist, "cl-1")
	if cl["status"] != "Completed" {
		t.Errorf("status = %v, want Completed", cl["status"])
	}

	if err := s.ApplySeed([]byte("components:\n  - {type: widget}\n")); err == nil {
		t.Error("ApplySeed accepted an unknown component type")
	}
}
