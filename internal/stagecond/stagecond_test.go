package stagecond

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestValueOf_Kinds(t *testing.T) {
	tests := []struct {
		in   any
		want Kind
	}{
		{nil, KindEmpty},
		{"x", KindString},
		{3, KindNumber},
		{int64(3), KindNumber},
		{2.5, KindNumber},
		{json.Number("12"), KindNumber},
		{json.Number("abc"), KindString},
		{true, KindBool},
		{[]string{"a"}, KindList},
		{[]any{"a", 1.0}, KindList},
		{map[string]any{"k": "v"}, KindString},
	}
	for _, tt := range tests {
		if got := ValueOf(tt.in).Kind(); got != tt.want {
			t.Errorf("ValueOf(%#v).Kind() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValue_Number(t *testing.T) {
	tests := []struct {
		v      Value
		want   float64
		wantOK bool
	}{
		{NumberValue(4), 4, true},
		{StringValue(" 1500.50 "), 1500.5, true},
		{StringValue("lots"), 0, false},
		{StringValue("NaN"), 0, false},
		{BoolValue(true), 0, false},
		{EmptyValue(), 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.v.Number()
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("%v.Number() = %v, %v, want %v, %v", tt.v, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestValue_BoolAndEmpty(t *testing.T) {
	if b, ok := StringValue("Completed").Bool(); !ok || !b {
		t.Errorf("Bool(Completed) = %v, %v, want true, true", b, ok)
	}
	if _, ok := StringValue("maybe").Bool(); ok {
		t.Error("Bool(maybe) should not coerce")
	}
	if !StringValue("   ").IsEmpty() {
		t.Error("blank string should be empty")
	}
	if ListValue(StringValue("a")).IsEmpty() {
		t.Error("non-empty list reported empty")
	}
	if BoolValue(false).IsEmpty() {
		t.Error("false is a value, not empty")
	}
}

func TestValue_StringAndJSON(t *testing.T) {
	v := ValueOf([]any{"a", 2.0, true})
	if got := v.String(); got != "a, 2, true" {
		t.Errorf("String() = %q, want %q", got, "a, 2, true")
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `["a",2,true]` {
		t.Errorf("MarshalJSON = %s, want [\"a\",2,true]", b)
	}
	if n := len(StringValue("x").Items()); n != 1 {
		t.Errorf("scalar Items() len = %d, want 1", n)
	}
}

func TestErrors(t *testing.T) {
	err := fmt.Errorf("create: %w", Invalid("name", "is required"))
	if !IsValidation(err) {
		t.Error("wrapped ValidationError should match ErrValidation")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "name" {
		t.Errorf("errors.As field = %v, want name", ve)
	}
	if !IsNotFound(NotFound("definition", "d-1")) {
		t.Error("NotFound should match ErrNotFound")
	}
	if IsNotFound(err) {
		t.Error("validation error matched ErrNotFound")
	}
}

func TestCallerAndIDs(t *testing.T) {
	if got := (Caller{}).Actor(); got != SystemUserID {
		t.Errorf("Actor() = %q, want %q", got, SystemUserID)
	}
	if got := (Caller{UserID: "u1"}).Actor(); got != "u1" {
		t.Errorf("Actor() = %q, want u1", got)
	}
	a, b := GenerateID("cond"), GenerateID("cond")
	if a == b || !strings.HasPrefix(a, "cond-") {
		t.Errorf("GenerateID = %q, %q, want distinct cond- ids", a, b)
	}
}

func TestParsers(t *testing.T) {
	if ct, ok := ParseComponentType("Tasks"); !ok || ct != ComponentChecklist {
		t.Errorf("ParseComponentType(Tasks) = %q, %v", ct, ok)
	}
	if at, ok := ParseConditionActionType("gotostage"); !ok || at != ActionGoToStage {
		t.Errorf("ParseConditionActionType(gotostage) = %q, %v", at, ok)
	}
	if !ActionSkipStage.IsBlocking() || ActionSendNotification.IsBlocking() {
		t.Error("only stage-control actions block")
	}
	if tt, ok := ParseTriggerType(" stage "); !ok || tt != TriggerStage {
		t.Errorf("ParseTriggerType(stage) = %q, %v", tt, ok)
	}
	if !TriggerTask.SingleMapping() || TriggerStage.SingleMapping() {
		t.Error("Task sources hold one mapping, Stage sources many")
	}
}
