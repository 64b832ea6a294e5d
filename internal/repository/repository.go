// Package repository stores conditions, action definitions, trigger
// mappings and audit records. Each entity has an in-memory implementation
// and a persistent one that writes through to PostgreSQL.
package repository

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/soochol/stagecond/internal/db"
	"github.com/soochol/stagecond/internal/stagecond"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write lost a race with another writer,
	// such as a second valid mapping for a Task or Question, or a Replace
	// whose old mapping was already invalidated.
	ErrConflict = errors.New("conflicting write")

	// ErrTerminal is returned when completing an execution that already
	// reached a terminal status.
	ErrTerminal = errors.New("execution already finished")
)

// ConditionRepository persists StageConditions. Deactivated rows are kept.
type ConditionRepository interface {
	Save(ctx context.Context, c *stagecond.StageCondition) error
	Get(ctx context.Context, id string) (*stagecond.StageCondition, error)
	List(ctx context.Context) ([]*stagecond.StageCondition, error)
	ListByStage(ctx context.Context, stageID string) ([]*stagecond.StageCondition, error)
}

// ActionDefinitionRepository persists ActionDefinitions, including
// soft-deleted ones (IsValid=false).
type ActionDefinitionRepository interface {
	Save(ctx context.Context, d *stagecond.ActionDefinition) error
	Get(ctx context.Context, id string) (*stagecond.ActionDefinition, error)
	List(ctx context.Context) ([]*stagecond.ActionDefinition, error)
}

// TriggerMappingRepository persists ActionTriggerMappings.
type TriggerMappingRepository interface {
	Save(ctx context.Context, m *stagecond.ActionTriggerMapping) error
	Get(ctx context.Context, id string) (*stagecond.ActionTriggerMapping, error)
	List(ctx context.Context) ([]*stagecond.ActionTriggerMapping, error)
	// ListBySource returns valid mappings for one trigger source.
	ListBySource(ctx context.Context, triggerType stagecond.TriggerType, sourceID string) ([]*stagecond.ActionTriggerMapping, error)
	// ListByDefinition returns valid mappings referencing a definition.
	ListByDefinition(ctx context.Context, definitionID string) ([]*stagecond.ActionTriggerMapping, error)
	// Replace invalidates oldID and stores m as one unit.
	Replace(ctx context.Context, oldID string, m *stagecond.ActionTriggerMapping) error
	// InvalidateByDefinition invalidates every valid mapping of a definition.
	InvalidateByDefinition(ctx context.Context, definitionID string, at time.Time) (int, error)
}

// ExecutionRepository persists ActionExecution audit rows.
type ExecutionRepository interface {
	Create(ctx context.Context, e *stagecond.ActionExecution) error
	// Complete writes the terminal status once. A second call returns ErrTerminal.
	Complete(ctx context.Context, e *stagecond.ActionExecution) error
	Get(ctx context.Context, id string) (*stagecond.ActionExecution, error)
	ListByDefinition(ctx context.Context, definitionID string, limit int) ([]*stagecond.ActionExecution, error)
}

// EvaluationLogRepository persists orchestrator audit entries.
type EvaluationLogRepository interface {
	Append(ctx context.Context, l *stagecond.EvaluationLog) error
	ListByInstance(ctx context.Context, instanceID string, limit int) ([]*stagecond.EvaluationLog, error)
	PurgeBefore(ctx context.Context, before time.Time) (int, error)
}

func cloneCondition(c *stagecond.StageCondition) *stagecond.StageCondition {
	cp := *c
	cp.Rules.Rules = slices.Clone(c.Rules.Rules)
	cp.Actions = make([]stagecond.ConditionAction, len(c.Actions))
	for i, a := range c.Actions {
		a.Parameters = maps.Clone(a.Parameters)
		cp.Actions[i] = a
	}
	return &cp
}

func cloneDefinition(d *stagecond.ActionDefinition) *stagecond.ActionDefinition {
	cp := *d
	cp.Config = maps.Clone(d.Config)
	return &cp
}

func cloneMapping(m *stagecond.ActionTriggerMapping) *stagecond.ActionTriggerMapping {
	cp := *m
	return &cp
}

func cloneExecution(e *stagecond.ActionExecution) *stagecond.ActionExecution {
	cp := *e
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func cloneLog(l *stagecond.EvaluationLog) *stagecond.EvaluationLog {
	cp := *l
	cp.Actions = slices.Clone(l.Actions)
	return &cp
}

func limitSlice[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

func isConflict(err error) bool { return errors.Is(err, db.ErrConflict) }

var (
	_ ConditionRepository        = (*PersistentConditionRepository)(nil)
	_ ActionDefinitionRepository = (*PersistentDefinitionRepository)(nil)
	_ TriggerMappingRepository   = (*PersistentMappingRepository)(nil)
	_ ExecutionRepository        = (*PersistentExecutionRepository)(nil)
	_ EvaluationLogRepository    = (*PersistentEvaluationLogRepository)(nil)

	_ ConditionRepository        = (*MemoryConditionRepository)(nil)
	_ ActionDefinitionRepository = (*MemoryDefinitionRepository)(nil)
	_ TriggerMappingRepository   = (*MemoryMappingRepository)(nil)
	_ ExecutionRepository        = (*MemoryExecutionRepository)(nil)
	_ EvaluationLogRepository    = (*MemoryEvaluationLogRepository)(nil)
)
