package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/soochol/stagecond/internal/action"
	"github.com/soochol/stagecond/internal/repository"
	"github.com/soochol/stagecond/internal/stagecond"
)

// CreateDefinitionInput is the payload for CreateDefinition.
type CreateDefinitionInput struct {
	Name        string         `json:"name" validate:"required,max=200"`
	Description string         `json:"description" validate:"max=2000"`
	ActionType  string         `json:"actionType" validate:"required"`
	Config      map[string]any `json:"actionConfig"`
	IsEnabled   *bool          `json:"isEnabled"`
	IsTools     bool           `json:"isTools"`
}

// UpdateDefinitionInput changes only the fields that are set.
type UpdateDefinitionInput struct {
	Name        *string        `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string        `json:"description" validate:"omitempty,max=2000"`
	Config      map[string]any `json:"actionConfig"`
	IsEnabled   *bool          `json:"isEnabled"`
	IsTools     *bool          `json:"isTools"`
}

// DefinitionFilter narrows ListDefinitions. Zero values match everything.
type DefinitionFilter struct {
	ActionType stagecond.ActionType
	IsTools    *bool
	IsEnabled  *bool
}

func (f DefinitionFilter) match(d *stagecond.ActionDefinition) bool {
	if f.ActionType != "" && d.ActionType != f.ActionType {
		return false
	}
	if f.IsTools != nil && d.IsTools != *f.IsTools {
		return false
	}
	if f.IsEnabled != nil && d.IsEnabled != *f.IsEnabled {
		return false
	}
	return true
}

func parseActionType(s string) (stagecond.ActionType, error) {
	t, ok := stagecond.ParseActionType(s)
	if !ok {
		return "", fmt.Errorf("%w: %w", stagecond.ErrValidation, action.ValidateConfig(stagecond.ActionType(s), nil))
	}
	return t, nil
}

// CreateDefinition validates the config and stores a new definition. Nothing
// is persisted when validation fails.
func (s *Service) CreateDefinition(ctx context.Context, caller stagecond.Caller, in CreateDefinitionInput) (*stagecond.ActionDefinition, error) {
	if err := CheckStruct(s.validate, in); err != nil {
		return nil, err
	}
	t, err := parseActionType(in.ActionType)
	if err != nil {
		return nil, err
	}
	cfg := maps.Clone(in.Config)
	if cfg == nil {
		cfg = map[string]any{}
	}
	if err := action.ValidateConfig(t, cfg); err != nil {
		return nil, err
	}

	now := s.now()
	d := &stagecond.ActionDefinition{
		ID:          stagecond.GenerateID("adef"),
		Name:        in.Name,
		Description: in.Description,
		ActionType:  t,
		Config:      cfg,
		IsEnabled:   in.IsEnabled == nil || *in.IsEnabled,
		IsTools:     in.IsTools,
		IsValid:     true,
		CreatedBy:   caller.Actor(),
		UpdatedBy:   caller.Actor(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.defs.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("save action definition: %w", err)
	}
	s.cache.SetDefault(d.ID, cloneDefinition(d))
	s.logger.Info("action definition created", "id", d.ID, "type", d.ActionType, "by", caller.Actor())
	return d, nil
}

// GetDefinition returns a valid definition. Soft-deleted ones are not found.
// The result may come from the local cache and lag a change made on another
// replica by up to the cache TTL; use LoadDefinition where that matters.
func (s *Service) GetDefinition(ctx context.Context, id string) (*stagecond.ActionDefinition, error) {
	if v, ok := s.cache.Get(id); ok {
		return cloneDefinition(v.(*stagecond.ActionDefinition)), nil
	}
	return s.LoadDefinition(ctx, id)
}

// LoadDefinition reads a valid definition from the repository, bypassing the
// cache, and refreshes the cache with what it found.
func (s *Service) LoadDefinition(ctx context.Context, id string) (*stagecond.ActionDefinition, error) {
	d, err := s.defs.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		s.cache.Delete(id)
	}
	if err != nil {
		return nil, notFound(err, "action definition", id)
	}
	if !d.IsValid {
		s.cache.Delete(id)
		return nil, stagecond.NotFound("action definition", id)
	}
	s.cache.SetDefault(id, cloneDefinition(d))
	return d, nil
}

func cloneDefinition(d *stagecond.ActionDefinition) *stagecond.ActionDefinition {
	cp := *d
	cp.Config = maps.Clone(d.Config)
	return &cp
}

// ListDefinitions returns valid definitions matching f.
func (s *Service) ListDefinitions(ctx context.Context, f DefinitionFilter) ([]*stagecond.ActionDefinition, error) {
	all, err := s.defs.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*stagecond.ActionDefinition, 0, len(all))
	for _, d := range all {
		if d.IsValid && f.match(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// UpdateDefinition applies in. System definitions only take isEnabled and
// isTools; other changes to them are ignored. Other types re-validate the
// full resulting config.
func (s *Service) UpdateDefinition(ctx context.Context, caller stagecond.Caller, id string, in UpdateDefinitionInput) (*stagecond.ActionDefinition, error) {
	if err := CheckStruct(s.validate, in); err != nil {
		return nil, err
	}
	d, err := s.defs.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, "action definition", id)
	}
	if !d.IsValid {
		return nil, stagecond.NotFound("action definition", id)
	}

	if in.IsEnabled != nil {
		d.IsEnabled = *in.IsEnabled
	}
	if in.IsTools != nil {
		d.IsTools = *in.IsTools
	}
	if d.ActionType != stagecond.ActionTypeSystem {
		if in.Name != nil {
			d.Name = *in.Name
		}
		if in.Description != nil {
			d.Description = *in.Description
		}
		if in.Config != nil {
			d.Config = maps.Clone(in.Config)
		}
		if err := action.ValidateConfig(d.ActionType, d.Config); err != nil {
			return nil, err
		}
	}
	d.UpdatedBy = caller.Actor()
	d.UpdatedAt = s.now()

	if err := s.defs.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("save action definition: %w", err)
	}
	s.cache.Delete(id)
	return d, nil
}

// DeleteDefinition invalidates the definition's mappings, clears cached
// references on tasks and questions, then soft-deletes the definition.
// Deleting a missing or already deleted definition succeeds.
func (s *Service) DeleteDefinition(ctx context.Context, caller stagecond.Caller, id string) error {
	d, err := s.defs.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !d.IsValid {
		s.cache.Delete(id)
		return nil
	}

	now := s.now()
	n, err := s.mappings.InvalidateByDefinition(ctx, id, now)
	if err != nil {
		return fmt.Errorf("invalidate trigger mappings: %w", err)
	}
	if s.cleaner != nil {
		if _, err := s.cleaner.ClearActionReferences(ctx, id); err != nil {
			return fmt.Errorf("clear action references: %w", err)
		}
	}

	d.IsValid = false
	d.IsEnabled = false
	d.UpdatedBy = caller.Actor()
	d.UpdatedAt = now
	if err := s.defs.Save(ctx, d); err != nil {
		return fmt.Errorf("save action definition: %w", err)
	}
	s.cache.Delete(id)
	s.logger.Info("action definition deleted", "id", id, "mappings_invalidated", n, "by", caller.Actor())
	return nil
}
