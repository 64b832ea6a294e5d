package stagecond

import (
	"strings"
	"time"
)

// ActionType identifies the executor an ActionDefinition runs on.
type ActionType string

const (
	ActionTypePython    ActionType = "Python"
	ActionTypeHTTPAPI   ActionType = "HttpApi"
	ActionTypeSendEmail ActionType = "SendEmail"
	ActionTypeSystem    ActionType = "System"
)

// ParseActionType matches case-insensitively.
func ParseActionType(s string) (ActionType, bool) {
	for _, t := range []ActionType{ActionTypePython, ActionTypeHTTPAPI, ActionTypeSendEmail, ActionTypeSystem} {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, true
		}
	}
	return "", false
}

// ActionDefinition is a reusable, validated action configuration.
type ActionDefinition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	ActionType  ActionType     `json:"actionType"`
	Config      map[string]any `json:"actionConfig"`
	IsEnabled   bool           `json:"isEnabled"`
	IsTools     bool           `json:"isTools"`
	IsValid     bool           `json:"-"`
	CreatedBy   string         `json:"createdBy,omitempty"`
	UpdatedBy   string         `json:"updatedBy,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// TriggerType identifies the kind of entity whose events invoke an action.
type TriggerType string

const (
	TriggerTask     TriggerType = "Task"
	TriggerQuestion TriggerType = "Question"
	TriggerStage    TriggerType = "Stage"
)

// ParseTriggerType matches case-insensitively.
func ParseTriggerType(s string) (TriggerType, bool) {
	for _, t := range []TriggerType{TriggerTask, TriggerQuestion, TriggerStage} {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, true
		}
	}
	return "", false
}

// SingleMapping reports whether at most one valid mapping may exist per source.
func (t TriggerType) SingleMapping() bool {
	return t == TriggerTask || t == TriggerQuestion
}

// DefaultTriggerEvent is used when a mapping does not name one.
const DefaultTriggerEvent = "Completed"

// ActionTriggerMapping binds an ActionDefinition to a trigger source and event.
type ActionTriggerMapping struct {
	ID                 string      `json:"id"`
	ActionDefinitionID string      `json:"actionDefinitionId"`
	TriggerType        TriggerType `json:"triggerType"`
	TriggerSourceID    string      `json:"triggerSourceId"`
	TriggerSourceName  string      `json:"triggerSourceName,omitempty"`
	WorkflowID         string      `json:"workflowId,omitempty"`
	StageID            string      `json:"stageId,omitempty"`
	TriggerEvent       string      `json:"triggerEvent"`
	ExecutionOrder     int         `json:"executionOrder"`
	IsEnabled          bool        `json:"isEnabled"`
	IsValid            bool        `json:"isValid"`
	CreatedBy          string      `json:"createdBy,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// ExecutionStatus is the lifecycle state of an ActionExecution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "Running"
	ExecutionCompleted ExecutionStatus = "Completed"
	ExecutionFailed    ExecutionStatus = "Failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// ActionExecution is the audit record of one executor run.
type ActionExecution struct {
	ID                 string          `json:"id"`
	ActionDefinitionID string          `json:"actionDefinitionId"`
	ActionName         string          `json:"actionName,omitempty"`
	ActionType         ActionType      `json:"actionType"`
	Status             ExecutionStatus `json:"executionStatus"`
	StartedAt          time.Time       `json:"startedAt"`
	CompletedAt        *time.Time      `json:"completedAt,omitempty"`
	TriggerContext     map[string]any  `json:"triggerContext,omitempty"`
	Output             map[string]any  `json:"executionOutput,omitempty"`
	Error              string          `json:"errorMessage,omitempty"`
	ExecutedBy         string          `json:"executedBy,omitempty"`
}
