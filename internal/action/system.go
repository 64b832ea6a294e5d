package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/soochol/stagecond/internal/stagecond"
)

// SystemExecutor runs built-in workflow operations.
type SystemExecutor struct {
	deps Deps
}

func (s *SystemExecutor) Type() stagecond.ActionType { return stagecond.ActionTypeSystem }

func (s *SystemExecutor) Execute(ctx context.Context, inv Invocation) (map[string]any, error) {
	if err := validateSystem(inv.Config); err != nil {
		return nil, err
	}
	name := strings.ToLower(strings.TrimSpace(inv.Config["actionName"].(string)))
	instanceID := stringParam(inv.Config, inv.Data, []string{"instanceId", "onboardingId"}, "instanceId", "onboardingId")
	if instanceID == "" {
		return nil, fmt.Errorf("system %s: instanceId is required", name)
	}

	switch name {
	case SystemCompleteStage:
		return s.completeStage(ctx, inv, instanceID)
	case SystemMoveToStage:
		return s.moveToStage(ctx, inv, instanceID)
	case SystemAssignOnboarding:
		return s.assign(ctx, inv, instanceID)
	}
	return nil, fmt.Errorf("system action %q is not supported", name)
}

func (s *SystemExecutor) completeStage(ctx context.Context, inv Invocation, instanceID string) (map[string]any, error) {
	if s.deps.Stages == nil {
		return nil, fmt.Errorf("system completestage: no stage transitioner configured")
	}
	stageID := stringParam(inv.Config, inv.Data, []string{"stageId"}, "stageId", "currentStageId", "completedStageId")
	if stageID == "" {
		return nil, fmt.Errorf("system completestage: stageId is required")
	}
	validate, _ := boolParam(inv.Config["useValidationApi"])
	if err := s.deps.Stages.CompleteStage(ctx, inv.Caller, instanceID, stageID, validate); err != nil {
		return nil, fmt.Errorf("system completestage: %w", err)
	}
	s.deps.Logger.Info("system action completed stage", "instance_id", instanceID, "stage_id", stageID, "validated", validate, "by", inv.Caller.Actor())
	return map[string]any{
		"success":          true,
		"instanceId":       instanceID,
		"stageId":          stageID,
		"useValidationApi": validate,
	}, nil
}

func (s *SystemExecutor) moveToStage(ctx context.Context, inv Invocation, instanceID string) (map[string]any, error) {
	if s.deps.Stages == nil {
		return nil, fmt.Errorf("system movetostage: no stage transitioner configured")
	}
	target := stringParam(inv.Config, inv.Data, []string{"targetStageId"}, "targetStageId")
	if target == "" {
		return nil, fmt.Errorf("system movetostage: targetStageId is required")
	}
	if err := s.deps.Stages.GoToStage(ctx, inv.Caller, instanceID, target); err != nil {
		return nil, fmt.Errorf("system movetostage: %w", err)
	}
	return map[string]any{"success": true, "instanceId": instanceID, "targetStageId": target}, nil
}

func (s *SystemExecutor) assign(ctx context.Context, inv Invocation, instanceID string) (map[string]any, error) {
	if s.deps.Assigner == nil {
		return nil, fmt.Errorf("system assignonboarding: no assigner configured")
	}
	ids := listParam(inv.Config, "assigneeIds", "assigneeId")
	if ids == nil {
		ids = listParam(inv.Data, "assigneeIds", "assigneeId")
	}
	if ids == nil {
		return nil, fmt.Errorf("system assignonboarding: assigneeIds is required")
	}
	kind := strings.ToLower(stringParam(inv.Config, nil, []string{"assigneeType"}))
	if kind == "" {
		kind = "user"
	}
	stageID := stringParam(inv.Config, inv.Data, []string{"stageId"}, "stageId")
	if err := s.deps.Assigner.Assign(ctx, inv.Caller, instanceID, stageID, kind, ids); err != nil {
		return nil, fmt.Errorf("system assignonboarding: %w", err)
	}
	return map[string]any{"success": true, "instanceId": instanceID, "assigneeType": kind, "assigneeIds": ids}, nil
}
