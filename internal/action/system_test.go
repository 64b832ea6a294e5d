package action

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/soochol/stagecond/internal/stagecond"
)

type fakeStages struct {
	mu        sync.Mutex
	moves     []string
	completed []string
	validated []bool
	assigned  []string
}

func (f *fakeStages) CurrentStageID(context.Context, string) (string, error) { return "", nil }
func (f *fakeStages) NextStageID(context.Context, string, string) (string, error) {
	return "", nil
}
func (f *fakeStages) Stage(_ context.Context, id string) (*stagecond.Stage, error) {
	return &stagecond.Stage{ID: id}, nil
}
func (f *fakeStages) GoToStage(_ context.Context, _ stagecond.Caller, instanceID, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, instanceID+"->"+target)
	return nil
}
func (f *fakeStages) SkipStages(context.Context, stagecond.Caller, string, string, int) (string, error) {
	return "", nil
}
func (f *fakeStages) EndWorkflow(context.Context, stagecond.Caller, string, string) error { return nil }
func (f *fakeStages) CompleteStage(_ context.Context, _ stagecond.Caller, instanceID, stageID string, validate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, instanceID+"/"+stageID)
	f.validated = append(f.validated, validate)
	return nil
}
func (f *fakeStages) Assign(_ context.Context, _ stagecond.Caller, instanceID, _ string, kind string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned = append(f.assigned, kind+":"+strings.Join(ids, ","))
	return nil
}

func TestSystemExecutor_CompleteStageUsesContext(t *testing.T) {
	stages := &fakeStages{}
	e, _ := NewFactory(Deps{Stages: stages}).Executor(stagecond.ActionTypeSystem)

	out, err := e.Execute(context.Background(), Invocation{
		Config: map[string]any{"actionName": "CompleteStage", "useValidationApi": "true"},
		Data:   map[string]any{"instanceId": "inst-1", "stageId": "s-2"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out["stageId"] != "s-2" {
		t.Errorf("stageId = %v, want s-2", out["stageId"])
	}
	if len(stages.completed) != 1 || stages.completed[0] != "inst-1/s-2" || !stages.validated[0] {
		t.Errorf("completed = %v validated = %v", stages.completed, stages.validated)
	}
}

func TestSystemExecutor_ConfigOverridesContext(t *testing.T) {
	stages := &fakeStages{}
	e, _ := NewFactory(Deps{Stages: stages}).Executor(stagecond.ActionTypeSystem)

	_, err := e.Execute(context.Background(), Invocation{
		Config: map[string]any{"actionName": "completestage", "stageId": "s-9"},
		Data:   map[string]any{"instanceId": "inst-1", "stageId": "s-2"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if stages.completed[0] != "inst-1/s-9" {
		t.Errorf("completed = %v, want inst-1/s-9", stages.completed)
	}
}

func TestSystemExecutor_Assign(t *testing.T) {
	stages := &fakeStages{}
	e, _ := NewFactory(Deps{Stages: stages, Assigner: stages}).Executor(stagecond.ActionTypeSystem)

	_, err := e.Execute(context.Background(), Invocation{
		Config: map[string]any{"actionName": "AssignOnboarding", "assigneeIds": []any{"u-1", "u-2"}, "assigneeType": "Team"},
		Data:   map[string]any{"onboardingId": "inst-7"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(stages.assigned) != 1 || stages.assigned[0] != "team:u-1,u-2" {
		t.Errorf("assigned = %v, want [team:u-1,u-2]", stages.assigned)
	}
}

func TestSystemExecutor_Errors(t *testing.T) {
	e, _ := NewFactory(Deps{Stages: &fakeStages{}}).Executor(stagecond.ActionTypeSystem)
	tests := []struct {
		name string
		cfg  map[string]any
		data map[string]any
		want string
	}{
		{"no instance", map[string]any{"actionName": "CompleteStage", "stageId": "s"}, nil, "instanceId"},
		{"no stage", map[string]any{"actionName": "CompleteStage"}, map[string]any{"instanceId": "i"}, "stageId"},
		{"no target", map[string]any{"actionName": "MoveToStage"}, map[string]any{"instanceId": "i"}, "targetStageId"},
		{"no assigner", map[string]any{"actionName": "AssignOnboarding", "assigneeIds": "u"}, map[string]any{"instanceId": "i"}, "assigner"},
		{"unknown", map[string]any{"actionName": "Reboot"}, map[string]any{"instanceId": "i"}, "not supported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Execute(context.Background(), Invocation{Config: tt.cfg, Data: tt.data})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
