package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/soochol/stagecond/internal/condition"
	"github.com/soochol/stagecond/internal/registry"
	"github.com/soochol/stagecond/internal/repository"
	"github.com/soochol/stagecond/internal/stagecond"
)

// ConditionInput is the payload for creating or replacing a StageCondition.
type ConditionInput struct {
	StageID         string                      `json:"stageId" validate:"required"`
	WorkflowID      string                      `json:"workflowId"`
	Name            string                      `json:"name" validate:"max=200"`
	Description     string                      `json:"description" validate:"max=2000"`
	Rules           stagecond.RuleSet           `json:"rules"`
	Actions         []stagecond.ConditionAction `json:"actions"`
	FallbackStageID string                      `json:"fallbackStageId"`
	IsActive        *bool                       `json:"isActive"`
}

func (in ConditionInput) apply(c *stagecond.StageCondition) {
	c.StageID = in.StageID
	c.WorkflowID = in.WorkflowID
	c.Name = in.Name
	c.Description = in.Description
	c.Rules = in.Rules
	c.Actions = in.Actions
	c.FallbackStageID = in.FallbackStageID
	c.IsActive = in.IsActive == nil || *in.IsActive
}

// ConditionService stores StageConditions. At most one condition per stage
// is active.
type ConditionService struct {
	repo     repository.ConditionRepository
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
	mu       sync.Mutex
}

func NewConditionService(repo repository.ConditionRepository, logger *slog.Logger) *ConditionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConditionService{repo: repo, validate: registry.NewValidator(), logger: logger, now: time.Now}
}

// Validate checks in without storing it and returns warnings.
func (s *ConditionService) Validate(in ConditionInput) ([]string, error) {
	if err := registry.CheckStruct(s.validate, in); err != nil {
		return nil, err
	}
	c := &stagecond.StageCondition{}
	in.apply(c)
	return condition.ValidateCondition(c)
}

func (s *ConditionService) Create(ctx context.Context, caller stagecond.Caller, in ConditionInput) (*stagecond.StageCondition, []string, error) {
	warnings, err := s.Validate(in)
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	c := &stagecond.StageCondition{
		ID:        stagecond.GenerateID("cond"),
		CreatedBy: caller.Actor(),
		UpdatedBy: caller.Actor(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.apply(c)
	if c.Name == "" {
		c.Name = "Condition for " + c.StageID
	}
	if err := s.save(ctx, c); err != nil {
		return nil, nil, err
	}
	s.logger.Info("stage condition created", "id", c.ID, "stage_id", c.StageID, "active", c.IsActive, "by", caller.Actor())
	return c, warnings, nil
}

func (s *ConditionService) Get(ctx context.Context, id string) (*stagecond.StageCondition, error) {
	c, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, stagecond.NotFound("stage condition", id)
	}
	return c, err
}

// ActiveForStage returns the active condition of a stage.
func (s *ConditionService) ActiveForStage(ctx context.Context, stageID string) (*stagecond.StageCondition, error) {
	list, err := s.repo.ListByStage(ctx, stageID)
	if err != nil {
		return nil, err
	}
	for _, c := range list {
		if c.IsActive {
			return c, nil
		}
	}
	return nil, stagecond.NotFound("active condition for stage", stageID)
}

// List returns every condition, or only those of stageID when set.
func (s *ConditionService) List(ctx context.Context, stageID string) ([]*stagecond.StageCondition, error) {
	if stageID != "" {
		return s.repo.ListByStage(ctx, stageID)
	}
	return s.repo.List(ctx)
}

func (s *ConditionService) Update(ctx context.Context, caller stagecond.Caller, id string, in ConditionInput) (*stagecond.StageCondition, []string, error) {
	warnings, err := s.Validate(in)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	name := c.Name
	in.apply(c)
	if c.Name == "" {
		c.Name = name
	}
	c.UpdatedBy = caller.Actor()
	c.UpdatedAt = s.now()
	if err := s.save(ctx, c); err != nil {
		return nil, nil, err
	}
	return c, warnings, nil
}

// Delete deactivates a condition. Missing conditions are not an error.
func (s *ConditionService) Delete(ctx context.Context, caller stagecond.Caller, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.Get(ctx, id)
	if stagecond.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !c.IsActive {
		return nil
	}
	c.IsActive = false
	c.UpdatedBy = caller.Actor()
	c.UpdatedAt = s.now()
	return s.repo.Save(ctx, c)
}

// save deactivates any other active condition of the stage before storing c.
func (s *ConditionService) save(ctx context.Context, c *stagecond.StageCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.IsActive {
		siblings, err := s.repo.ListByStage(ctx, c.StageID)
		if err != nil {
			return err
		}
		for _, other := range siblings {
			if other.ID == c.ID || !other.IsActive {
				continue
			}
			other.IsActive = false
			other.UpdatedBy = c.UpdatedBy
			other.UpdatedAt = c.UpdatedAt
			if err := s.repo.Save(ctx, other); err != nil {
				return fmt.Errorf("deactivate condition %s: %w", other.ID, err)
			}
			s.logger.Info("stage condition superseded", "id", other.ID, "by_condition", c.ID, "stage_id", c.StageID)
		}
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("save stage condition: %w", err)
	}
	return nil
}
