package condition

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/soochol/stagecond/internal/stagecond"
)

// ValidateRuleSet checks a rule set structurally. Active conditions need at
// least one rule.
func ValidateRuleSet(rs stagecond.RuleSet, active bool) error {
	switch strings.ToUpper(strings.TrimSpace(string(rs.Logic))) {
	case "", "AND", "OR", "&&", "||", "ANY":
	default:
		return stagecond.Invalid("rules.logic", "must be AND or OR, got %q", rs.Logic)
	}
	if active && len(rs.Rules) == 0 {
		return stagecond.Invalid("rules", "at least one rule is required for an active condition")
	}
	for i, rule := range rs.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		op, ok := ParseOperator(rule.Operator)
		if !ok {
			return stagecond.Invalid(field+".operator", "unknown operator %q", rule.Operator)
		}
		if op == OpStageCompleted {
			continue
		}
		ct, ok := stagecond.ParseComponentType(string(rule.ComponentType))
		if !ok {
			return stagecond.Invalid(field+".componentType", "unknown component type %q", rule.ComponentType)
		}
		if ct.NeedsComponentID() && strings.TrimSpace(rule.ComponentID) == "" {
			return stagecond.Invalid(field+".componentId", "is required for %s rules", ct)
		}
		if ct == stagecond.ComponentField && strings.TrimSpace(rule.FieldPath) == "" {
			return stagecond.Invalid(field+".fieldPath", "is required for field rules")
		}
		if op == OpTaskCompleted && ct != stagecond.ComponentChecklist {
			return stagecond.Invalid(field+".componentType", "task_completed applies to checklist rules only")
		}
		switch op {
		case OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual:
			if _, ok := parseNumber(rule.ComparisonValue); !ok {
				return stagecond.Invalid(field+".value", "%q is not numeric", rule.ComparisonValue)
			}
		case OpInList, OpNotInList:
			if len(SplitList(rule.ComparisonValue)) == 0 {
				return stagecond.Invalid(field+".value", "list must not be empty")
			}
		}
	}
	return nil
}

// ValidateActions checks per-type parameters and that orders are unique and
// contiguous.
func ValidateActions(actions []stagecond.ConditionAction) error {
	orders := make([]int, 0, len(actions))
	for i, a := range actions {
		field := fmt.Sprintf("actions[%d]", i)
		t, ok := stagecond.ParseConditionActionType(string(a.Type))
		if !ok {
			return stagecond.Invalid(field+".type", "unknown action type %q", a.Type)
		}
		if err := validateAction(field, t, a); err != nil {
			return err
		}
		orders = append(orders, a.Order)
	}
	sort.Ints(orders)
	for i := 1; i < len(orders); i++ {
		if orders[i] == orders[i-1] {
			return stagecond.Invalid("actions", "duplicate order %d", orders[i])
		}
		if orders[i] != orders[i-1]+1 {
			return stagecond.Invalid("actions", "orders must be contiguous, gap after %d", orders[i-1])
		}
	}
	return nil
}

func validateAction(field string, t stagecond.ConditionActionType, a stagecond.ConditionAction) error {
	switch t {
	case stagecond.ActionGoToStage:
		if strings.TrimSpace(a.TargetStageID) == "" {
			return stagecond.Invalid(field+".targetStageId", "is required for GoToStage")
		}
	case stagecond.ActionSkipStage:
		if v := a.Param("skipCount"); v != nil {
			n, ok := stagecond.ValueOf(v).Number()
			if !ok || n < 1 || n != float64(int(n)) {
				return stagecond.Invalid(field+".parameters.skipCount", "must be a positive integer")
			}
		}
	case stagecond.ActionEndWorkflow:
		if v, ok := a.Param("endStatus").(string); ok && v != "" && !slices.Contains(stagecond.EndStatuses, v) {
			return stagecond.Invalid(field+".parameters.endStatus", "must be one of %s", strings.Join(stagecond.EndStatuses, ", "))
		}
	case stagecond.ActionSendNotification:
		if StringList(a.Param("recipients")) == nil && StringList(a.Param("users")) == nil && StringList(a.Param("teams")) == nil {
			return stagecond.Invalid(field+".parameters", "recipients, users or teams is required for SendNotification")
		}
	case stagecond.ActionUpdateField:
		if s, _ := a.Param("fieldId").(string); strings.TrimSpace(s) == "" {
			return stagecond.Invalid(field+".parameters.fieldId", "is required for UpdateField")
		}
		_, hasValue := a.Parameters["value"]
		_, hasExpr := a.Parameters["valueExpression"]
		if !hasValue && !hasExpr {
			return stagecond.Invalid(field+".parameters.value", "value or valueExpression is required for UpdateField")
		}
	case stagecond.ActionTriggerAction:
		if strings.TrimSpace(a.ActionDefinitionID) == "" {
			return stagecond.Invalid(field+".actionDefinitionId", "is required for TriggerAction")
		}
	case stagecond.ActionAssignUser:
		if StringList(a.Param("assigneeIds")) == nil {
			return stagecond.Invalid(field+".parameters.assigneeIds", "is required for AssignUser")
		}
		if kind, _ := a.Param("assigneeType").(string); kind != "" && !strings.EqualFold(kind, "user") && !strings.EqualFold(kind, "team") {
			return stagecond.Invalid(field+".parameters.assigneeType", "must be user or team")
		}
	}
	return nil
}

// ActionWarnings reports suspicious but legal combinations.
func ActionWarnings(actions []stagecond.ConditionAction) []string {
	var warnings []string
	targets := map[string]bool{}
	var endOrder *int
	for _, a := range actions {
		t, _ := stagecond.ParseConditionActionType(string(a.Type))
		switch t {
		case stagecond.ActionGoToStage:
			targets[a.TargetStageID] = true
		case stagecond.ActionEndWorkflow:
			o := a.Order
			endOrder = &o
		}
	}
	if len(targets) > 1 {
		warnings = append(warnings, "multiple GoToStage actions target different stages; the last one to run wins")
	}
	if endOrder != nil && len(targets) > 0 {
		warnings = append(warnings, "GoToStage and EndWorkflow are both configured")
	}
	if endOrder != nil {
		for _, a := range actions {
			if a.Order > *endOrder {
				warnings = append(warnings, fmt.Sprintf("action %s (order %d) runs after EndWorkflow", a.Type, a.Order))
			}
		}
	}
	return warnings
}

// ValidateCondition validates a whole StageCondition and returns warnings.
func ValidateCondition(c *stagecond.StageCondition) ([]string, error) {
	if strings.TrimSpace(c.StageID) == "" {
		return nil, stagecond.Invalid("stageId", "is required")
	}
	if err := ValidateRuleSet(c.Rules, c.IsActive); err != nil {
		return nil, err
	}
	if err := ValidateActions(c.Actions); err != nil {
		return nil, err
	}
	if c.FallbackStageID != "" && c.FallbackStageID == c.StageID {
		return nil, stagecond.Invalid("fallbackStageId", "must differ from the condition's own stage")
	}
	return ActionWarnings(c.Actions), nil
}

// StringList reads a parameter that may be a string, a comma list or an array.
// It returns nil when nothing usable is present.
func StringList(v any) []string {
	var out []string
	switch x := v.(type) {
	case string:
		out = SplitList(x)
	case []string:
		for _, s := range x {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, e := range x {
			if s := strings.TrimSpace(stagecond.ValueOf(e).String()); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
