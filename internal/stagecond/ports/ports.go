// Package ports declares the collaborators the engine reads from and applies
// effects through. Services depend on these interfaces, never on concrete
// instance stores.
package ports

import (
	"context"

	"github.com/soochol/stagecond/internal/stagecond"
)

// ComponentDataProvider exposes read-only snapshots of stage components.
type ComponentDataProvider interface {
	GetComponentData(ctx context.Context, instanceID, stageID string, componentType stagecond.ComponentType, componentID string) (map[string]any, error)
	IsStageCompleted(ctx context.Context, instanceID, stageID string) (bool, error)
}

// StageTransitioner applies stage-control effects. Each call is atomic on
// the collaborator's side.
type StageTransitioner interface {
	CurrentStageID(ctx context.Context, instanceID string) (string, error)
	NextStageID(ctx context.Context, instanceID, stageID string) (string, error)
	Stage(ctx context.Context, stageID string) (*stagecond.Stage, error)
	GoToStage(ctx context.Context, caller stagecond.Caller, instanceID, targetStageID string) error
	SkipStages(ctx context.Context, caller stagecond.Caller, instanceID, fromStageID string, count int) (string, error)
	EndWorkflow(ctx context.Context, caller stagecond.Caller, instanceID, status string) error
	CompleteStage(ctx context.Context, caller stagecond.Caller, instanceID, stageID string, validate bool) error
}

// FieldUpdater applies UpdateField effects.
type FieldUpdater interface {
	UpdateField(ctx context.Context, caller stagecond.Caller, instanceID, stageID, fieldID string, value any) error
}

// Assigner applies AssignUser effects.
type Assigner interface {
	Assign(ctx context.Context, caller stagecond.Caller, instanceID, stageID, assigneeType string, assigneeIDs []string) error
}

// RecipientResolver turns user and team ids into email addresses.
type RecipientResolver interface {
	ResolveEmails(ctx context.Context, userIDs, teamIDs []string) ([]string, error)
}

// TriggerSourceNamer returns display names for audit readability.
type TriggerSourceNamer interface {
	GetTriggerSourceName(ctx context.Context, triggerType stagecond.TriggerType, sourceID string) (string, error)
}

// ActionReferenceCleaner clears cached action references on tasks and
// questions when a definition is deleted. It returns how many entities changed.
type ActionReferenceCleaner interface {
	ClearActionReferences(ctx context.Context, actionDefinitionID string) (int, error)
}
