package stagecond

import (
	"strings"
	"time"
)

// ComponentType identifies which stage component a rule reads from.
type ComponentType string

const (
	ComponentChecklist     ComponentType = "checklist"
	ComponentQuestionnaire ComponentType = "questionnaire"
	ComponentField         ComponentType = "field"
	ComponentFile          ComponentType = "file"
)

// NeedsComponentID reports whether rules on this component must name a component instance.
func (c ComponentType) NeedsComponentID() bool {
	return c == ComponentChecklist || c == ComponentQuestionnaire
}

// ParseComponentType normalizes the spellings accepted from configuration.
func ParseComponentType(s string) (ComponentType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "checklist", "task", "tasks":
		return ComponentChecklist, true
	case "questionnaire", "question", "questions":
		return ComponentQuestionnaire, true
	case "field", "fields", "dynamicfield":
		return ComponentField, true
	case "file", "files", "attachment", "attachments":
		return ComponentFile, true
	}
	return "", false
}

// Logic combines per-rule results.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// RuleSet is the boolean part of a StageCondition.
type RuleSet struct {
	Logic Logic           `json:"logic" yaml:"logic"`
	Rules []ConditionRule `json:"rules" yaml:"rules"`
}

// ConditionRule compares one value from the data context against ComparisonValue.
type ConditionRule struct {
	SourceStageID   string        `json:"sourceStageId,omitempty" yaml:"source_stage_id,omitempty"`
	ComponentType   ComponentType `json:"componentType" yaml:"component_type"`
	ComponentID     string        `json:"componentId,omitempty" yaml:"component_id,omitempty"`
	FieldPath       string        `json:"fieldPath,omitempty" yaml:"field_path,omitempty"`
	Operator        string        `json:"operator" yaml:"operator"`
	ComparisonValue string        `json:"value,omitempty" yaml:"value,omitempty"`
}

// ConditionActionType enumerates the actions a StageCondition can run.
type ConditionActionType string

const (
	ActionGoToStage        ConditionActionType = "GoToStage"
	ActionSkipStage        ConditionActionType = "SkipStage"
	ActionEndWorkflow      ConditionActionType = "EndWorkflow"
	ActionSendNotification ConditionActionType = "SendNotification"
	ActionUpdateField      ConditionActionType = "UpdateField"
	ActionTriggerAction    ConditionActionType = "TriggerAction"
	ActionAssignUser       ConditionActionType = "AssignUser"

	// ActionAutoToNextStage labels the synthetic GoToStage appended after a
	// matched condition that moved nothing.
	ActionAutoToNextStage ConditionActionType = "AutoToNextStage"
)

// AutoAdvanceOrder is the order given to the synthetic auto-advance action.
const AutoAdvanceOrder = 999

var conditionActionTypes = []ConditionActionType{
	ActionGoToStage, ActionSkipStage, ActionEndWorkflow, ActionSendNotification,
	ActionUpdateField, ActionTriggerAction, ActionAssignUser,
}

// ParseConditionActionType matches case-insensitively.
func ParseConditionActionType(s string) (ConditionActionType, bool) {
	for _, t := range conditionActionTypes {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, true
		}
	}
	return "", false
}

// IsStageControl reports whether the action changes the instance's stage.
func (t ConditionActionType) IsStageControl() bool {
	switch t {
	case ActionGoToStage, ActionSkipStage, ActionEndWorkflow, ActionAutoToNextStage:
		return true
	}
	return false
}

// IsBlocking reports whether a failure of this action aborts the rest of the list.
func (t ConditionActionType) IsBlocking() bool { return t.IsStageControl() }

// ConditionAction is one entry of a StageCondition's action list.
type ConditionAction struct {
	Type               ConditionActionType `json:"type" yaml:"type"`
	Order              int                 `json:"order" yaml:"order"`
	TargetStageID      string              `json:"targetStageId,omitempty" yaml:"target_stage_id,omitempty"`
	ActionDefinitionID string              `json:"actionDefinitionId,omitempty" yaml:"action_definition_id,omitempty"`
	Parameters         map[string]any      `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Param returns a parameter value or nil.
func (a ConditionAction) Param(key string) any {
	if a.Parameters == nil {
		return nil
	}
	return a.Parameters[key]
}

// StageCondition is the rule+action configuration attached to a stage.
type StageCondition struct {
	ID              string            `json:"id"`
	StageID         string            `json:"stageId"`
	WorkflowID      string            `json:"workflowId"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	Rules           RuleSet           `json:"rules"`
	Actions         []ConditionAction `json:"actions"`
	FallbackStageID string            `json:"fallbackStageId,omitempty"`
	IsActive        bool              `json:"isActive"`
	CreatedBy       string            `json:"createdBy,omitempty"`
	UpdatedBy       string            `json:"updatedBy,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}
