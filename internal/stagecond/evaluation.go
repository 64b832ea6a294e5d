package stagecond

import "time"

// Outcome summarizes one orchestrator invocation.
type Outcome string

const (
	OutcomeMatched     Outcome = "matched"
	OutcomeUnmatched   Outcome = "unmatched"
	OutcomeNoCondition Outcome = "no_condition"
	OutcomeInProgress  Outcome = "in_progress"
	OutcomeSuperseded  Outcome = "superseded"
)

// ActionSummary is the audit view of one executed condition action.
type ActionSummary struct {
	Order   int                 `json:"order"`
	Type    ConditionActionType `json:"type"`
	Success bool                `json:"success"`
	Skipped bool                `json:"skipped,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// EvaluationLog is the fire-and-forget audit entry written after an evaluation.
type EvaluationLog struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenantId,omitempty"`
	InstanceID    string          `json:"instanceId"`
	StageID       string          `json:"stageId"`
	StageName     string          `json:"stageName,omitempty"`
	ConditionID   string          `json:"conditionId,omitempty"`
	ConditionName string          `json:"conditionName,omitempty"`
	Outcome       Outcome         `json:"outcome"`
	FallbackTaken bool            `json:"fallbackTaken"`
	NextStageID   string          `json:"nextStageId,omitempty"`
	Success       bool            `json:"success"`
	Aborted       bool            `json:"aborted"`
	Actions       []ActionSummary `json:"actions,omitempty"`
	TriggeredBy   string          `json:"triggeredBy"`
	CreatedAt     time.Time       `json:"createdAt"`
}
