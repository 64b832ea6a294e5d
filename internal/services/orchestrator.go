package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soochol/stagecond/internal/condition"
	"github.com/soochol/stagecond/internal/stagecond"
	"github.com/soochol/stagecond/internal/stagecond/ports"
)

// OrchestratorConfig tunes evaluation.
type OrchestratorConfig struct {
	AutoAdvance          bool
	FetchConcurrency     int
	ActionTimeout        time.Duration
	NotificationTimeout  time.Duration
	TriggerActionTimeout time.Duration
}

// DefaultOrchestratorConfig returns the stock timeouts with auto-advance on.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		AutoAdvance:          true,
		FetchConcurrency:     4,
		ActionTimeout:        30 * time.Second,
		NotificationTimeout:  60 * time.Second,
		TriggerActionTimeout: 45 * time.Second,
	}
}

// EvaluateRequest identifies the stage to evaluate.
type EvaluateRequest struct {
	InstanceID string           `json:"instanceId"`
	StageID    string           `json:"stageId"`
	Caller     stagecond.Caller `json:"-"`
}

// ActionResult is the outcome of one planned action.
type ActionResult struct {
	Order      int                           `json:"order"`
	Type       stagecond.ConditionActionType `json:"type"`
	Blocking   bool                          `json:"blocking"`
	Success    bool                          `json:"success"`
	Skipped    bool                          `json:"skipped,omitempty"`
	Error      string                        `json:"error,omitempty"`
	Output     map[string]any                `json:"output,omitempty"`
	DurationMs int64                         `json:"durationMs"`
}

// EvaluationResult is what every Evaluate call returns unless the request
// or the condition is invalid.
type EvaluationResult struct {
	InstanceID    string                 `json:"instanceId"`
	StageID       string                 `json:"stageId"`
	ConditionID   string                 `json:"conditionId,omitempty"`
	Outcome       stagecond.Outcome      `json:"outcome"`
	IsMatched     bool                   `json:"isMatched"`
	InProgress    bool                   `json:"inProgress"`
	FallbackTaken bool                   `json:"fallbackTaken"`
	NextStageID   string                 `json:"nextStageId,omitempty"`
	Aborted       bool                   `json:"aborted"`
	Success       bool                   `json:"success"`
	Rules         []condition.RuleResult `json:"rules,omitempty"`
	Actions       []ActionResult         `json:"actions,omitempty"`
}

// Orchestrator evaluates a stage's active condition and applies its actions.
type Orchestrator struct {
	conditions *ConditionService
	data       ports.ComponentDataProvider
	stages     ports.StageTransitioner
	dispatcher *ActionDispatcher
	locker     EvaluationLocker
	audit      *AuditQueue
	cfg        OrchestratorConfig
	logger     *slog.Logger
	now        func() time.Time
}

func NewOrchestrator(
	conditions *ConditionService,
	data ports.ComponentDataProvider,
	stages ports.StageTransitioner,
	dispatcher *ActionDispatcher,
	locker EvaluationLocker,
	audit *AuditQueue,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	def := DefaultOrchestratorConfig()
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = def.FetchConcurrency
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = def.ActionTimeout
	}
	if cfg.NotificationTimeout <= 0 {
		cfg.NotificationTimeout = def.NotificationTimeout
	}
	if cfg.TriggerActionTimeout <= 0 {
		cfg.TriggerActionTimeout = def.TriggerActionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		conditions: conditions,
		data:       data,
		stages:     stages,
		dispatcher: dispatcher,
		locker:     locker,
		audit:      audit,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Evaluate runs the evaluate-and-execute cycle for one (instance, stage).
//
// A concurrent evaluation of the same pair yields outcome in_progress with
// no error. Invalid requests, invalid conditions and data fetch failures
// return an error before any action runs.
func (o *Orchestrator) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluationResult, error) {
	if strings.TrimSpace(req.InstanceID) == "" {
		return nil, stagecond.Invalid("instanceId", "is required")
	}
	if strings.TrimSpace(req.StageID) == "" {
		return nil, stagecond.Invalid("stageId", "is required")
	}

	lockCtx, release, err := o.locker.Acquire(ctx, EvaluationKey(req.InstanceID, req.StageID))
	if errors.Is(err, ErrLockHeld) {
		o.logger.Info("evaluation already in progress", "instance_id", req.InstanceID, "stage_id", req.StageID)
		return &EvaluationResult{
			InstanceID: req.InstanceID,
			StageID:    req.StageID,
			Outcome:    stagecond.OutcomeInProgress,
			InProgress: true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquire evaluation lock: %w", err)
	}

	res, cond, err := o.evaluateLocked(lockCtx, req)
	release()
	if err != nil {
		return nil, err
	}

	o.logger.Info("condition evaluated",
		"instance_id", req.InstanceID, "stage_id", req.StageID, "outcome", res.Outcome,
		"matched", res.IsMatched, "success", res.Success, "actions", len(res.Actions))
	o.enqueueAudit(ctx, req, cond, res)
	return res, nil
}

func (o *Orchestrator) evaluateLocked(ctx context.Context, req EvaluateRequest) (*EvaluationResult, *stagecond.StageCondition, error) {
	res := &EvaluationResult{InstanceID: req.InstanceID, StageID: req.StageID}

	current, err := o.stages.CurrentStageID(ctx, req.InstanceID)
	if err != nil {
		return nil, nil, err
	}
	if current != req.StageID {
		res.Outcome = stagecond.OutcomeSuperseded
		res.NextStageID = current
		res.Success = true
		return res, nil, nil
	}

	cond, err := o.conditions.ActiveForStage(ctx, req.StageID)
	if stagecond.IsNotFound(err) {
		next, err := o.stages.NextStageID(ctx, req.InstanceID, req.StageID)
		if err != nil {
			return nil, nil, err
		}
		res.Outcome = stagecond.OutcomeNoCondition
		res.NextStageID = next
		res.Success = true
		return res, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	res.ConditionID = cond.ID
	if _, err := condition.ValidateCondition(cond); err != nil {
		return nil, nil, fmt.Errorf("condition %s: %w", cond.ID, err)
	}

	dc, err := o.buildDataContext(ctx, req.InstanceID, req.StageID, cond.Rules)
	if err != nil {
		return nil, nil, err
	}
	match := condition.Evaluate(cond.Rules, dc)
	res.IsMatched = match.IsMatched
	res.Rules = match.Rules

	data := dc.Snapshot()
	data["instanceId"] = req.InstanceID
	data["stageId"] = req.StageID
	data["conditionId"] = cond.ID

	var plan []stagecond.ConditionAction
	switch {
	case match.IsMatched:
		res.Outcome = stagecond.OutcomeMatched
		plan = sortedActions(cond.Actions)
	case cond.FallbackStageID != "":
		res.Outcome = stagecond.OutcomeUnmatched
		res.FallbackTaken = true
		plan = []stagecond.ConditionAction{{Type: stagecond.ActionGoToStage, Order: 1, TargetStageID: cond.FallbackStageID}}
	default:
		res.Outcome = stagecond.OutcomeUnmatched
		next, err := o.stages.NextStageID(ctx, req.InstanceID, req.StageID)
		if err != nil {
			return nil, nil, err
		}
		res.NextStageID = next
		res.Success = true
		return res, cond, nil
	}

	res.Actions = o.execute(ctx, req, plan, data, res)

	if match.IsMatched && o.cfg.AutoAdvance && !res.Aborted && !movedStage(res.Actions) {
		if next, err := o.stages.NextStageID(ctx, req.InstanceID, req.StageID); err == nil && next != "" {
			auto := stagecond.ConditionAction{Type: stagecond.ActionAutoToNextStage, Order: stagecond.AutoAdvanceOrder, TargetStageID: next}
			res.Actions = append(res.Actions, o.execute(ctx, req, []stagecond.ConditionAction{auto}, data, res)...)
		}
	}

	if cur, err := o.stages.CurrentStageID(ctx, req.InstanceID); err == nil && cur != req.StageID {
		res.NextStageID = cur
	} else if res.FallbackTaken {
		res.NextStageID = cond.FallbackStageID
	}
	res.Success = overallSuccess(res)
	return res, cond, nil
}

// execute runs plan in order. A blocking failure or cancellation marks the
// result aborted and skips everything after it.
func (o *Orchestrator) execute(ctx context.Context, req EvaluateRequest, plan []stagecond.ConditionAction, data map[string]any, res *EvaluationResult) []ActionResult {
	out := make([]ActionResult, 0, len(plan))
	for _, a := range plan {
		ar := ActionResult{Order: a.Order, Type: a.Type, Blocking: a.Type.IsBlocking()}
		if t, ok := stagecond.ParseConditionActionType(string(a.Type)); ok {
			ar.Type = t
			ar.Blocking = t.IsBlocking()
		}
		if res.Aborted {
			ar.Skipped = true
			out = append(out, ar)
			continue
		}
		if ctx.Err() != nil {
			res.Aborted = true
			ar.Skipped = true
			ar.Error = context.Cause(ctx).Error()
			out = append(out, ar)
			continue
		}

		start := o.now()
		output, err := o.dispatch(ctx, ActionRequest{
			Caller:     req.Caller,
			InstanceID: req.InstanceID,
			StageID:    req.StageID,
			Action:     a,
			Data:       data,
		})
		ar.DurationMs = o.now().Sub(start).Milliseconds()
		ar.Output = output
		if err != nil {
			ar.Error = err.Error()
			o.logger.Warn("condition action failed",
				"instance_id", req.InstanceID, "stage_id", req.StageID, "type", ar.Type, "order", a.Order, "err", err)
			if ar.Blocking {
				res.Aborted = true
			}
		} else {
			ar.Success = true
		}
		out = append(out, ar)
	}
	return out
}

func (o *Orchestrator) dispatch(ctx context.Context, req ActionRequest) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v", r)
		}
	}()
	actx, cancel := context.WithTimeout(ctx, o.timeoutFor(req.Action.Type))
	defer cancel()
	return o.dispatcher.Dispatch(actx, req)
}

func (o *Orchestrator) timeoutFor(t stagecond.ConditionActionType) time.Duration {
	parsed, _ := stagecond.ParseConditionActionType(string(t))
	switch parsed {
	case stagecond.ActionSendNotification:
		return o.cfg.NotificationTimeout
	case stagecond.ActionTriggerAction:
		return o.cfg.TriggerActionTimeout
	}
	return o.cfg.ActionTimeout
}

// buildDataContext fetches everything the rule set reads, concurrently.
func (o *Orchestrator) buildDataContext(ctx context.Context, instanceID, stageID string, rs stagecond.RuleSet) (*condition.DataContext, error) {
	reqs := condition.Requirements(rs, stageID)
	type fetched struct {
		data map[string]any
		done bool
	}
	results := make([]fetched, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.FetchConcurrency)
	for i, r := range reqs {
		g.Go(func() error {
			if r.StageCompletion {
				done, err := o.data.IsStageCompleted(gctx, instanceID, r.StageID)
				if err != nil {
					return fmt.Errorf("stage %s completion: %w", r.StageID, err)
				}
				results[i].done = done
				return nil
			}
			data, err := o.data.GetComponentData(gctx, instanceID, r.StageID, r.ComponentType, r.ComponentID)
			if err != nil {
				return fmt.Errorf("%s %s data: %w", r.ComponentType, r.ComponentID, err)
			}
			results[i].data = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build data context: %w", err)
	}

	dc := condition.NewDataContext(stageID)
	for i, r := range reqs {
		if r.StageCompletion {
			dc.SetStageCompleted(r.StageID, results[i].done)
			continue
		}
		data := results[i].data
		if data == nil {
			data = map[string]any{}
		}
		dc.SetComponent(r.StageID, r.ComponentType, r.ComponentID, data)
	}
	return dc, nil
}

func (o *Orchestrator) enqueueAudit(ctx context.Context, req EvaluateRequest, cond *stagecond.StageCondition, res *EvaluationResult) {
	if o.audit == nil {
		return
	}
	entry := &stagecond.EvaluationLog{
		ID:            stagecond.GenerateID("elog"),
		TenantID:      req.Caller.TenantID,
		InstanceID:    req.InstanceID,
		StageID:       req.StageID,
		Outcome:       res.Outcome,
		FallbackTaken: res.FallbackTaken,
		NextStageID:   res.NextStageID,
		Success:       res.Success,
		Aborted:       res.Aborted,
		TriggeredBy:   req.Caller.Actor(),
		CreatedAt:     o.now(),
	}
	if cond != nil {
		entry.ConditionID = cond.ID
		entry.ConditionName = cond.Name
	}
	if st, err := o.stages.Stage(ctx, req.StageID); err == nil {
		entry.StageName = st.Name
	}
	for _, a := range res.Actions {
		entry.Actions = append(entry.Actions, stagecond.ActionSummary{
			Order: a.Order, Type: a.Type, Success: a.Success, Skipped: a.Skipped, Error: a.Error,
		})
	}
	o.audit.Enqueue(entry)
}

func sortedActions(actions []stagecond.ConditionAction) []stagecond.ConditionAction {
	out := make([]stagecond.ConditionAction, len(actions))
	copy(out, actions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func movedStage(actions []ActionResult) bool {
	for _, a := range actions {
		if a.Success && a.Type.IsStageControl() {
			return true
		}
	}
	return false
}

func overallSuccess(res *EvaluationResult) bool {
	if res.Aborted {
		return false
	}
	for _, a := range res.Actions {
		if !a.Success {
			return false
		}
	}
	return true
}
