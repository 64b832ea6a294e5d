package condition

import (
	"testing"

	"github.com/soochol/stagecond/internal/stagecond"
)

func newTestContext() *DataContext {
	d := NewDataContext("stage-1")
	d.SetComponent("stage-1", stagecond.ComponentField, "", map[string]any{
		"amount":   1500.0,
		"country":  "Germany",
		"tags":     []any{"vip", "Partner"},
		"blank":    "  ",
		"approved": true,
		"address":  map[string]any{"city": "Berlin"},
	})
	d.SetComponent("stage-1", stagecond.ComponentChecklist, "cl-1", map[string]any{
		"status":         "In Progress",
		"completedCount": 1,
		"totalCount":     2,
		"tasks": map[string]any{
			"t-1": map[string]any{"isCompleted": true, "name": "Upload ID"},
			"t-2": map[string]any{"isCompleted": false, "name": "Sign contract"},
		},
	})
	d.SetComponent("stage-1", stagecond.ComponentQuestionnaire, "q-1", map[string]any{
		"totalScore": 42,
		"answers":    map[string]any{"q-7": "Yes", "q-8": []any{"red", "blue"}},
	})
	d.SetStageCompleted("stage-0", true)
	return d
}

func fieldRule(path, op, value string) stagecond.ConditionRule {
	return stagecond.ConditionRule{ComponentType: stagecond.ComponentField, FieldPath: path, Operator: op, ComparisonValue: value}
}

func TestEvaluate_AmountThreshold(t *testing.T) {
	rs := stagecond.RuleSet{Logic: stagecond.LogicAnd, Rules: []stagecond.ConditionRule{
		fieldRule("amount", ">=", "1000"),
	}}

	got := Evaluate(rs, newTestContext())
	if !got.IsMatched {
		t.Fatalf("IsMatched = false, want true (rules: %+v)", got.Rules)
	}
	if len(got.Rules) != 1 || !got.Rules[0].Passed {
		t.Errorf("Rules = %+v, want one passing rule", got.Rules)
	}
	if got.Rules[0].Operator != OpGreaterOrEqual {
		t.Errorf("Operator = %q, want %q", got.Rules[0].Operator, OpGreaterOrEqual)
	}
}

func TestApply_Operators(t *testing.T) {
	data := newTestContext()
	tests := []struct {
		name string
		rule stagecond.ConditionRule
		want bool
	}{
		{"equals case-insensitive", fieldRule("country", "equals", "germany"), true},
		{"equals numeric", fieldRule("amount", "==", "1500.00"), true},
		{"not equals", fieldRule("country", "!=", "France"), true},
		{"gt", fieldRule("amount", "gt", "1499"), true},
		{"lt false", fieldRule("amount", "lt", "10"), false},
		{"lte equal", fieldRule("amount", "lte", "1500"), true},
		{"numeric on text is false", fieldRule("country", ">", "1"), false},
		{"numeric with text comparison is false", fieldRule("amount", "<", "lots"), false},
		{"contains", fieldRule("country", "contains", "RMAN"), true},
		{"contains on list", fieldRule("tags", "contains", "partner"), true},
		{"not contains", fieldRule("country", "not_contains", "spain"), true},
		{"starts with", fieldRule("country", "starts-with", "GER"), true},
		{"ends with", fieldRule("country", "ends_with", "ANY"), true},
		{"is empty on blank", fieldRule("blank", "is_empty", ""), true},
		{"is empty on missing", fieldRule("missing", "isnull", ""), true},
		{"is not empty", fieldRule("country", "is_not_empty", ""), true},
		{"in list", fieldRule("country", "in_list", "France, germany ,Spain"), true},
		{"not in list", fieldRule("country", "not_in_list", "France,Spain"), true},
		{"in list on list operand", fieldRule("tags", "in", "partner"), true},
		{"bool equals", fieldRule("approved", "equals", "TRUE"), true},
		{"nested path", fieldRule("address.city", "equals", "berlin"), true},
		{"jsonpath", fieldRule("$.address.city", "equals", "Berlin"), true},
		{"bracket path", fieldRule(`input.address["city"]`, "equals", "Berlin"), true},
		{"missing equals blank", fieldRule("missing", "equals", ""), true},
		{"missing equals value", fieldRule("missing", "equals", "x"), false},
		{"unknown operator", fieldRule("country", "matches", "G.*"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateRule(tt.rule, data)
			if got.Passed != tt.want {
				t.Errorf("Passed = %v, want %v (actual %q, err %q)", got.Passed, tt.want, got.Actual.String(), got.Error)
			}
		})
	}
}

func TestApply_ChecklistAndQuestionnaire(t *testing.T) {
	data := newTestContext()
	tests := []struct {
		name string
		rule stagecond.ConditionRule
		want bool
	}{
		{"task completed by id", stagecond.ConditionRule{ComponentType: "checklist", ComponentID: "cl-1", FieldPath: "t-1", Operator: "task_completed"}, true},
		{"task not completed", stagecond.ConditionRule{ComponentType: "checklist", ComponentID: "cl-1", FieldPath: "tasks.t-2", Operator: "completetask"}, false},
		{"whole checklist incomplete", stagecond.ConditionRule{ComponentType: "checklist", ComponentID: "cl-1", Operator: "task_completed"}, false},
		{"unknown checklist", stagecond.ConditionRule{ComponentType: "checklist", ComponentID: "cl-9", FieldPath: "t-1", Operator: "task_completed"}, false},
		{"completed count", stagecond.ConditionRule{ComponentType: "checklist", ComponentID: "cl-1", FieldPath: "completedCount", Operator: "gte", ComparisonValue: "1"}, true},
		{"answer equals", stagecond.ConditionRule{ComponentType: "questionnaire", ComponentID: "q-1", FieldPath: "answers.q-7", Operator: "equals", ComparisonValue: "yes"}, true},
		{"multi answer equals one", stagecond.ConditionRule{ComponentType: "questionnaire", ComponentID: "q-1", FieldPath: "answers.q-8", Operator: "equals", ComparisonValue: "Blue"}, true},
		{"score", stagecond.ConditionRule{ComponentType: "questionnaire", ComponentID: "q-1", FieldPath: "totalScore", Operator: "gt", ComparisonValue: "40"}, true},
		{"source stage completed", stagecond.ConditionRule{SourceStageID: "stage-0", Operator: "stage_completed"}, true},
		{"current stage not completed", stagecond.ConditionRule{Operator: "completestage"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateRule(tt.rule, data)
			if got.Passed != tt.want {
				t.Errorf("Passed = %v, want %v (actual %q)", got.Passed, tt.want, got.Actual.String())
			}
		})
	}
}

func TestEvaluate_Logic(t *testing.T) {
	pass := fieldRule("country", "equals", "Germany")
	fail := fieldRule("country", "equals", "France")

	tests := []struct {
		name  string
		logic stagecond.Logic
		rules []stagecond.ConditionRule
		want  bool
	}{
		{"and all pass", stagecond.LogicAnd, []stagecond.ConditionRule{pass, pass}, true},
		{"and one fails", stagecond.LogicAnd, []stagecond.ConditionRule{pass, fail}, false},
		{"or one passes", stagecond.LogicOr, []stagecond.ConditionRule{fail, pass}, true},
		{"or none pass", stagecond.LogicOr, []stagecond.ConditionRule{fail, fail}, false},
		{"empty logic is and", "", []stagecond.ConditionRule{pass, fail}, false},
		{"lowercase or", "or", []stagecond.ConditionRule{fail, pass}, true},
		{"no rules", stagecond.LogicAnd, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(stagecond.RuleSet{Logic: tt.logic, Rules: tt.rules}, newTestContext())
			if got.IsMatched != tt.want {
				t.Errorf("IsMatched = %v, want %v", got.IsMatched, tt.want)
			}
			if len(got.Rules) != len(tt.rules) {
				t.Errorf("evaluated %d rules, want %d", len(got.Rules), len(tt.rules))
			}
		})
	}
}

func TestEvaluate_DoesNotMutateContext(t *testing.T) {
	data := newTestContext()
	before := data.Snapshot()
	Evaluate(stagecond.RuleSet{Rules: []stagecond.ConditionRule{fieldRule("missing.deep.path", "equals", "x")}}, data)
	after := data.Snapshot()
	if len(before["fields"].(map[string]any)) != len(after["fields"].(map[string]any)) {
		t.Errorf("fields changed during evaluation")
	}
}

func TestRequirements_Deduplicates(t *testing.T) {
	rs := stagecond.RuleSet{Rules: []stagecond.ConditionRule{
		fieldRule("amount", "gt", "1"),
		fieldRule("country", "equals", "x"),
		{ComponentType: "checklist", ComponentID: "cl-1", FieldPath: "t-1", Operator: "task_completed"},
		{ComponentType: "tasks", ComponentID: "cl-1", FieldPath: "t-2", Operator: "task_completed"},
		{SourceStageID: "stage-0", Operator: "stage_completed"},
	}}

	reqs := Requirements(rs, "stage-1")
	if len(reqs) != 3 {
		t.Fatalf("Requirements returned %d entries, want 3: %+v", len(reqs), reqs)
	}
	if !reqs[2].StageCompletion || reqs[2].StageID != "stage-0" {
		t.Errorf("reqs[2] = %+v, want stage completion for stage-0", reqs[2])
	}
}

func TestParseOperator_Aliases(t *testing.T) {
	tests := map[string]Operator{
		"==": OpEquals, "Not-Equals": OpNotEquals, ">=": OpGreaterOrEqual, "Starts With": OpStartsWith,
		"IsNotNull": OpIsNotEmpty, "notinlist": OpNotInList, "CompleteStage": OpStageCompleted,
	}
	for in, want := range tests {
		got, ok := ParseOperator(in)
		if !ok || got != want {
			t.Errorf("ParseOperator(%q) = %q, %v, want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseOperator("regex"); ok {
		t.Error("ParseOperator(regex) succeeded, want failure")
	}
}
