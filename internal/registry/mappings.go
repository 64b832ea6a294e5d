package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soochol/stagecond/internal/repository"
	"github.com/soochol/stagecond/internal/stagecond"
)

// CreateMappingInput is the payload for CreateMapping.
type CreateMappingInput struct {
	ActionDefinitionID string `json:"actionDefinitionId" validate:"required"`
	TriggerType        string `json:"triggerType" validate:"required"`
	TriggerSourceID    string `json:"triggerSourceId" validate:"required"`
	WorkflowID         string `json:"workflowId"`
	StageID            string `json:"stageId"`
	TriggerEvent       string `json:"triggerEvent" validate:"max=100"`
	ExecutionOrder     int    `json:"executionOrder" validate:"gte=0"`
	IsEnabled          *bool  `json:"isEnabled"`
}

// UpdateMappingInput changes only the fields that are set.
type UpdateMappingInput struct {
	IsEnabled      *bool   `json:"isEnabled"`
	ExecutionOrder *int    `json:"executionOrder" validate:"omitempty,gte=0"`
	TriggerEvent   *string `json:"triggerEvent" validate:"omitempty,min=1,max=100"`
}

// MappingFilter narrows ListMappings. Only valid mappings are returned.
type MappingFilter struct {
	DefinitionID string
	TriggerType  stagecond.TriggerType
	SourceID     string
	WorkflowID   string
}

func (f MappingFilter) match(m *stagecond.ActionTriggerMapping) bool {
	switch {
	case !m.IsValid:
		return false
	case f.DefinitionID != "" && m.ActionDefinitionID != f.DefinitionID:
		return false
	case f.TriggerType != "" && m.TriggerType != f.TriggerType:
		return false
	case f.SourceID != "" && m.TriggerSourceID != f.SourceID:
		return false
	case f.WorkflowID != "" && m.WorkflowID != f.WorkflowID:
		return false
	}
	return true
}

// CreateMapping binds a definition to a trigger source.
//
// Task and Question sources hold at most one valid mapping: the same
// definition returns the existing mapping unchanged, a different one
// replaces it. Stage mappings are deduplicated on the exact
// (definition, type, source, workflow) tuple.
//
// mappingMu only orders writers in this process. When another replica wins
// the race the write fails with repository.ErrConflict; the source is then
// re-read once and the same rules applied to what is there now.
func (s *Service) CreateMapping(ctx context.Context, caller stagecond.Caller, in CreateMappingInput) (*stagecond.ActionTriggerMapping, bool, error) {
	if err := CheckStruct(s.validate, in); err != nil {
		return nil, false, err
	}
	tt, ok := stagecond.ParseTriggerType(in.TriggerType)
	if !ok {
		return nil, false, stagecond.Invalid("triggerType", "must be Task, Question or Stage, got %q", in.TriggerType)
	}
	if _, err := s.LoadDefinition(ctx, in.ActionDefinitionID); err != nil {
		return nil, false, err
	}
	event := strings.TrimSpace(in.TriggerEvent)
	if event == "" {
		event = stagecond.DefaultTriggerEvent
	}

	s.mappingMu.Lock()
	defer s.mappingMu.Unlock()

	m, created, err := s.createMapping(ctx, caller, in, tt, event)
	if errors.Is(err, repository.ErrConflict) {
		s.logger.Info("trigger mapping write conflicted, retrying",
			"trigger_type", tt, "source_id", in.TriggerSourceID, "err", err)
		m, created, err = s.createMapping(ctx, caller, in, tt, event)
	}
	if errors.Is(err, repository.ErrConflict) {
		return nil, false, fmt.Errorf("%w: trigger source %s is being changed concurrently", stagecond.ErrConflict, in.TriggerSourceID)
	}
	return m, created, err
}

func (s *Service) createMapping(ctx context.Context, caller stagecond.Caller, in CreateMappingInput, tt stagecond.TriggerType, event string) (*stagecond.ActionTriggerMapping, bool, error) {
	existing, err := s.mappings.ListBySource(ctx, tt, in.TriggerSourceID)
	if err != nil {
		return nil, false, err
	}

	var replace *stagecond.ActionTriggerMapping
	if tt.SingleMapping() {
		for _, m := range existing {
			if m.ActionDefinitionID == in.ActionDefinitionID {
				return m, false, nil
			}
			replace = m
		}
	} else {
		for _, m := range existing {
			if m.ActionDefinitionID == in.ActionDefinitionID && m.WorkflowID == in.WorkflowID {
				return m, false, nil
			}
		}
	}

	now := s.now()
	m := &stagecond.ActionTriggerMapping{
		ID:                 stagecond.GenerateID("atm"),
		ActionDefinitionID: in.ActionDefinitionID,
		TriggerType:        tt,
		TriggerSourceID:    in.TriggerSourceID,
		TriggerSourceName:  s.sourceName(ctx, tt, in.TriggerSourceID),
		WorkflowID:         in.WorkflowID,
		StageID:            in.StageID,
		TriggerEvent:       event,
		ExecutionOrder:     in.ExecutionOrder,
		IsEnabled:          in.IsEnabled == nil || *in.IsEnabled,
		IsValid:            true,
		CreatedBy:          caller.Actor(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if replace != nil {
		if err := s.mappings.Replace(ctx, replace.ID, m); err != nil {
			return nil, false, fmt.Errorf("replace trigger mapping %s: %w", replace.ID, err)
		}
		s.logger.Info("trigger mapping replaced", "old_id", replace.ID, "new_id", m.ID,
			"trigger_type", tt, "source_id", in.TriggerSourceID)
		return m, true, nil
	}
	if err := s.mappings.Save(ctx, m); err != nil {
		return nil, false, fmt.Errorf("save trigger mapping: %w", err)
	}
	return m, true, nil
}

func (s *Service) sourceName(ctx context.Context, tt stagecond.TriggerType, sourceID string) string {
	if s.namer == nil {
		return ""
	}
	name, err := s.namer.GetTriggerSourceName(ctx, tt, sourceID)
	if err != nil {
		s.logger.Warn("resolve trigger source name", "trigger_type", tt, "source_id", sourceID, "err", err)
		return ""
	}
	return name
}

// GetMapping returns a valid mapping.
func (s *Service) GetMapping(ctx context.Context, id string) (*stagecond.ActionTriggerMapping, error) {
	m, err := s.mappings.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, "trigger mapping", id)
	}
	if !m.IsValid {
		return nil, stagecond.NotFound("trigger mapping", id)
	}
	return m, nil
}

// ListMappings returns valid mappings matching f in execution order.
func (s *Service) ListMappings(ctx context.Context, f MappingFilter) ([]*stagecond.ActionTriggerMapping, error) {
	var (
		all []*stagecond.ActionTriggerMapping
		err error
	)
	switch {
	case f.TriggerType != "" && f.SourceID != "":
		all, err = s.mappings.ListBySource(ctx, f.TriggerType, f.SourceID)
	case f.DefinitionID != "":
		all, err = s.mappings.ListByDefinition(ctx, f.DefinitionID)
	default:
		all, err = s.mappings.List(ctx)
	}
	if err != nil {
		return nil, err
	}
	out := make([]*stagecond.ActionTriggerMapping, 0, len(all))
	for _, m := range all {
		if f.match(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// UpdateMapping changes isEnabled, executionOrder or triggerEvent.
func (s *Service) UpdateMapping(ctx context.Context, caller stagecond.Caller, id string, in UpdateMappingInput) (*stagecond.ActionTriggerMapping, error) {
	if err := CheckStruct(s.validate, in); err != nil {
		return nil, err
	}
	s.mappingMu.Lock()
	defer s.mappingMu.Unlock()

	m, err := s.GetMapping(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.IsEnabled != nil {
		m.IsEnabled = *in.IsEnabled
	}
	if in.ExecutionOrder != nil {
		m.ExecutionOrder = *in.ExecutionOrder
	}
	if in.TriggerEvent != nil {
		m.TriggerEvent = strings.TrimSpace(*in.TriggerEvent)
	}
	m.UpdatedAt = s.now()
	if err := s.mappings.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("save trigger mapping: %w", err)
	}
	s.logger.Debug("trigger mapping updated", "id", id, "by", caller.Actor())
	return m, nil
}

// DeleteMapping invalidates a mapping. Missing or already invalid mappings
// are not an error.
func (s *Service) DeleteMapping(ctx context.Context, caller stagecond.Caller, id string) error {
	s.mappingMu.Lock()
	defer s.mappingMu.Unlock()

	m, err := s.GetMapping(ctx, id)
	if stagecond.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	m.IsValid = false
	m.UpdatedAt = s.now()
	if err := s.mappings.Save(ctx, m); err != nil {
		return fmt.Errorf("save trigger mapping: %w", err)
	}
	s.logger.Info("trigger mapping deleted", "id", id, "by", caller.Actor())
	return nil
}
