package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/soochol/stagecond/internal/action"
	"github.com/soochol/stagecond/internal/registry"
	"github.com/soochol/stagecond/internal/repository"
	"github.com/soochol/stagecond/internal/stagecond"
)

// ActionRunner executes ActionDefinitions and records an ActionExecution
// for every run.
type ActionRunner struct {
	registry   *registry.Service
	executions repository.ExecutionRepository
	factory    *action.Factory
	logger     *slog.Logger
	now        func() time.Time
}

func NewActionRunner(reg *registry.Service, executions repository.ExecutionRepository, factory *action.Factory, logger *slog.Logger) *ActionRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionRunner{registry: reg, executions: executions, factory: factory, logger: logger, now: time.Now}
}

// Run executes one definition. Executor failures are captured in the
// returned execution (status Failed); the error return covers missing or
// disabled definitions and audit write failures.
func (r *ActionRunner) Run(ctx context.Context, caller stagecond.Caller, definitionID string, triggerContext map[string]any) (*stagecond.ActionExecution, error) {
	def, err := r.registry.LoadDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if !def.IsEnabled {
		return nil, stagecond.Invalid("actionDefinitionId", "action definition %q is disabled", definitionID)
	}

	exec := &stagecond.ActionExecution{
		ID:                 stagecond.GenerateID("aexe"),
		ActionDefinitionID: def.ID,
		ActionName:         def.Name,
		ActionType:         def.ActionType,
		Status:             stagecond.ExecutionRunning,
		StartedAt:          r.now(),
		TriggerContext:     maps.Clone(triggerContext),
		ExecutedBy:         caller.Actor(),
	}
	if err := r.executions.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("record execution start: %w", err)
	}

	output, runErr := r.execute(ctx, def, triggerContext, caller)

	completed := r.now()
	exec.CompletedAt = &completed
	if runErr != nil {
		exec.Status = stagecond.ExecutionFailed
		exec.Error = runErr.Error()
	} else {
		exec.Status = stagecond.ExecutionCompleted
		exec.Output = output
	}
	if err := r.executions.Complete(context.WithoutCancel(ctx), exec); err != nil {
		return exec, fmt.Errorf("record execution result: %w", err)
	}

	r.logger.Info("action executed",
		"execution_id", exec.ID, "definition_id", def.ID, "type", def.ActionType,
		"status", exec.Status, "duration", completed.Sub(exec.StartedAt))
	return exec, nil
}

func (r *ActionRunner) execute(ctx context.Context, def *stagecond.ActionDefinition, data map[string]any, caller stagecond.Caller) (out map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("executor panic: %v", rec)
		}
	}()
	if data == nil {
		data = map[string]any{}
	}
	return r.factory.Execute(ctx, def, data, caller)
}

// Fire runs every enabled mapping of a trigger source whose event matches,
// in execution order. One mapping failing does not stop the others.
func (r *ActionRunner) Fire(ctx context.Context, caller stagecond.Caller, triggerType stagecond.TriggerType, sourceID, event string, data map[string]any) ([]*stagecond.ActionExecution, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, stagecond.Invalid("triggerSourceId", "is required")
	}
	if event = strings.TrimSpace(event); event == "" {
		event = stagecond.DefaultTriggerEvent
	}
	mappings, err := r.registry.ListMappings(ctx, registry.MappingFilter{TriggerType: triggerType, SourceID: sourceID})
	if err != nil {
		return nil, err
	}

	var results []*stagecond.ActionExecution
	for _, m := range mappings {
		if !m.IsEnabled || !strings.EqualFold(m.TriggerEvent, event) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		triggerContext := maps.Clone(data)
		if triggerContext == nil {
			triggerContext = map[string]any{}
		}
		triggerContext["triggerType"] = string(triggerType)
		triggerContext["triggerSourceId"] = sourceID
		triggerContext["triggerEvent"] = event
		triggerContext["mappingId"] = m.ID

		exec, err := r.Run(ctx, caller, m.ActionDefinitionID, triggerContext)
		if err != nil {
			r.logger.Warn("trigger mapping failed", "mapping_id", m.ID, "definition_id", m.ActionDefinitionID, "err", err)
			if exec == nil {
				continue
			}
		}
		results = append(results, exec)
	}
	return results, nil
}

func (r *ActionRunner) GetExecution(ctx context.Context, id string) (*stagecond.ActionExecution, error) {
	e, err := r.executions.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, stagecond.NotFound("action execution", id)
	}
	return e, err
}

// ListExecutions returns a definition's executions, newest first.
func (r *ActionRunner) ListExecutions(ctx context.Context, definitionID string, limit int) ([]*stagecond.ActionExecution, error) {
	return r.executions.ListByDefinition(ctx, definitionID, limit)
}
