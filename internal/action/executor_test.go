package action

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/soochol/stagecond/internal/stagecond"
)

func TestFactory_Executor(t *testing.T) {
	f := NewFactory(Deps{})
	for _, typ := range SupportedTypes() {
		e, err := f.Executor(typ)
		if err != nil {
			t.Fatalf("Executor(%q): %v", typ, err)
		}
		if e.Type() != typ {
			t.Errorf("Executor(%q).Type() = %q", typ, e.Type())
		}
	}

	e, err := f.Executor("httpapi")
	if err != nil || e.Type() != stagecond.ActionTypeHTTPAPI {
		t.Errorf("Executor(httpapi) = %v, %v, want HttpApi executor", e, err)
	}
}

func TestFactory_Unsupported(t *testing.T) {
	f := NewFactory(Deps{})
	_, err := f.Executor("Webhook")
	if !errors.Is(err, stagecond.ErrUnsupportedActionType) {
		t.Fatalf("err = %v, want ErrUnsupportedActionType", err)
	}
	for _, name := range []string{"Python", "HttpApi", "SendEmail", "System"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not list supported type %s", err, name)
		}
	}
}

func TestFactory_ExecuteDefinition(t *testing.T) {
	stages := &fakeStages{}
	f := NewFactory(Deps{Stages: stages})
	def := &stagecond.ActionDefinition{
		ActionType: stagecond.ActionTypeSystem,
		Config:     map[string]any{"actionName": "MoveToStage", "targetStageId": "s-3"},
	}
	out, err := f.Execute(context.Background(), def, map[string]any{"instanceId": "inst-1"}, stagecond.Caller{UserID: "u-1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out["targetStageId"] != "s-3" {
		t.Errorf("targetStageId = %v, want s-3", out["targetStageId"])
	}
	if len(stages.moves) != 1 || stages.moves[0] != "inst-1->s-3" {
		t.Errorf("moves = %v, want [inst-1->s-3]", stages.moves)
	}
}
