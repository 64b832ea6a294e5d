package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/soochol/stagecond/internal/action"
	"github.com/soochol/stagecond/internal/condition"
	"github.com/soochol/stagecond/internal/notify"
	"github.com/soochol/stagecond/internal/stagecond"
	"github.com/soochol/stagecond/internal/stagecond/ports"
)

// ActionRequest is one condition action to apply to an instance.
type ActionRequest struct {
	Caller     stagecond.Caller
	InstanceID string
	StageID    string
	Action     stagecond.ConditionAction
	// Data is the flattened data context, used by templates and expressions.
	Data map[string]any
}

// DispatcherDeps wires the collaborators condition actions act on.
type DispatcherDeps struct {
	Stages     ports.StageTransitioner
	Fields     ports.FieldUpdater
	Assigner   ports.Assigner
	Recipients ports.RecipientResolver
	Mailer     notify.Mailer
	EmailRetry action.RetryPolicy
	Runner     *ActionRunner
	Logger     *slog.Logger
}

type actionHandler func(ctx context.Context, req ActionRequest) (map[string]any, error)

// ActionDispatcher applies condition actions through their collaborators.
type ActionDispatcher struct {
	deps     DispatcherDeps
	handlers map[stagecond.ConditionActionType]actionHandler
}

func NewActionDispatcher(deps DispatcherDeps) *ActionDispatcher {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.EmailRetry.MaxAttempts == 0 {
		deps.EmailRetry = action.DefaultEmailRetry
	}
	d := &ActionDispatcher{deps: deps}
	d.handlers = map[stagecond.ConditionActionType]actionHandler{
		stagecond.ActionGoToStage:        d.goToStage,
		stagecond.ActionAutoToNextStage:  d.goToStage,
		stagecond.ActionSkipStage:        d.skipStage,
		stagecond.ActionEndWorkflow:      d.endWorkflow,
		stagecond.ActionSendNotification: d.sendNotification,
		stagecond.ActionUpdateField:      d.updateField,
		stagecond.ActionTriggerAction:    d.triggerAction,
		stagecond.ActionAssignUser:       d.assignUser,
	}
	return d
}

// Dispatch applies one action.
func (d *ActionDispatcher) Dispatch(ctx context.Context, req ActionRequest) (map[string]any, error) {
	t := req.Action.Type
	if parsed, ok := stagecond.ParseConditionActionType(string(t)); ok {
		t = parsed
	}
	h, ok := d.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: condition action %q", stagecond.ErrUnsupportedActionType, req.Action.Type)
	}
	return h(ctx, req)
}

var errNotWired = errors.New("collaborator not configured")

func (d *ActionDispatcher) goToStage(ctx context.Context, req ActionRequest) (map[string]any, error) {
	if d.deps.Stages == nil {
		return nil, fmt.Errorf("stage transitions: %w", errNotWired)
	}
	target := req.Action.TargetStageID
	if err := d.deps.Stages.GoToStage(ctx, req.Caller, req.InstanceID, target); err != nil {
		return nil, fmt.Errorf("go to stage %s: %w", target, err)
	}
	return map[string]any{"targetStageId": target}, nil
}

func (d *ActionDispatcher) skipStage(ctx context.Context, req ActionRequest) (map[string]any, error) {
	if d.deps.Stages == nil {
		return nil, fmt.Errorf("stage transitions: %w", errNotWired)
	}
	count := 1
	if n, ok := stagecond.ValueOf(req.Action.Param("skipCount")).Number(); ok && n >= 1 {
		count = int(n)
	}
	landed, err := d.deps.Stages.SkipStages(ctx, req.Caller, req.InstanceID, req.StageID, count)
	if err != nil {
		return nil, fmt.Errorf("skip %d stage(s): %w", count, err)
	}
	return map[string]any{"skipCount": count, "landedStageId": landed}, nil
}

func (d *ActionDispatcher) endWorkflow(ctx context.Context, req ActionRequest) (map[string]any, error) {
	if d.deps.Stages == nil {
		return nil, fmt.Errorf("stage transitions: %w", errNotWired)
	}
	status, _ := req.Action.Param("endStatus").(string)
	if status == "" {
		status = stagecond.StatusForceCompleted
	}
	if err := d.deps.Stages.EndWorkflow(ctx, req.Caller, req.InstanceID, status); err != nil {
		return nil, fmt.Errorf("end workflow: %w", err)
	}
	return map[string]any{"endStatus": status}, nil
}

func (d *ActionDispatcher) sendNotification(ctx context.Context, req ActionRequest) (map[string]any, error) {
	if d.deps.Mailer == nil {
		return nil, fmt.Errorf("mail transport: %w", errNotWired)
	}
	a := req.Action
	to := condition.StringList(a.Param("recipients"))
	users := condition.StringList(a.Param("users"))
	teams := condition.StringList(a.Param("teams"))
	if len(users)+len(teams) > 0 {
		if d.deps.Recipients == nil {
			return nil, fmt.Errorf("recipient directory: %w", errNotWired)
		}
		resolved, err := d.deps.Recipients.ResolveEmails(ctx, users, teams)
		if err != nil {
			return nil, fmt.Errorf("resolve recipients: %w", err)
		}
		to = append(to, resolved...)
	}
	to = dedupeFold(to)
	if len(to) == 0 {
		return nil, notify.ErrNoRecipients
	}

	subject, _ := a.Param("subject").(string)
	if subject == "" {
		subject = "Stage update"
	}
	body, _ := a.Param("emailBody").(string)
	if body == "" {
		body, _ = a.Param("body").(string)
	}
	var err error
	if subject, err = action.RenderTemplate("subject", subject, req.Data); err != nil {
		return nil, err
	}
	if body, err = action.RenderTemplate("body", body, req.Data); err != nil {
		return nil, err
	}
	html, _ := a.Param("isHtml").(bool)

	msg := notify.Message{To: to, Subject: subject, Body: body, HTML: html}
	attempts, err := action.SendWithRetry(ctx, d.deps.Mailer, msg, d.deps.EmailRetry, d.deps.Logger)
	if err != nil {
		return nil, err
	}
	return map[string]any{"recipients": to, "attempts": attempts}, nil
}

func (d *ActionDispatcher) updateField(ctx context.Context, req ActionRequest) (map[string]any, error) {
	if d.deps.Fields == nil {
		return nil, fmt.Errorf("field updates: %w", errNotWired)
	}
	fieldID, _ := req.Action.Param("fieldId").(string)
	value := req.Action.Param("value")
	if src, ok := req.Action.Param("valueExpression").(string); ok && strings.TrimSpace(src) != "" {
		v, err := evalExpression(src, req.Data)
		if err != nil {
			return nil, err
		}
		value = v
	}
	if err := d.deps.Fields.UpdateField(ctx, req.Caller, req.InstanceID, req.StageID, fieldID, value); err != nil {
		return nil, fmt.Errorf("update field %s: %w", fieldID, err)
	}
	return map[string]any{"fieldId": fieldID, "value": value}, nil
}

// evalExpression evaluates an expr-lang expression against the data context.
func evalExpression(src string, env map[string]any) (any, error) {
	if env == nil {
		env = map[string]any{}
	}
	program, err := expr.Compile(src, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("compile valueExpression: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("run valueExpression: %w", err)
	}
	return out, nil
}

func (d *ActionDispatcher) triggerAction(ctx context.Context, req ActionRequest) (map[string]any, error) {
	if d.deps.Runner == nil {
		return nil, fmt.Errorf("action runner: %w", errNotWired)
	}
	triggerContext := make(map[string]any, len(req.Data)+2)
	for k, v := range req.Data {
		triggerContext[k] = v
	}
	for k, v := range req.Action.Parameters {
		triggerContext[k] = v
	}
	exec, err := d.deps.Runner.Run(ctx, req.Caller, req.Action.ActionDefinitionID, triggerContext)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"executionId": exec.ID, "status": string(exec.Status), "output": exec.Output}
	if exec.Status == stagecond.ExecutionFailed {
		return out, fmt.Errorf("action %s failed: %s", req.Action.ActionDefinitionID, exec.Error)
	}
	return out, nil
}

func (d *ActionDispatcher) assignUser(ctx context.Context, req ActionRequest) (map[string]any, error) {
	if d.deps.Assigner == nil {
		return nil, fmt.Errorf("assignment: %w", errNotWired)
	}
	ids := condition.StringList(req.Action.Param("assigneeIds"))
	kind, _ := req.Action.Param("assigneeType").(string)
	if kind == "" {
		kind = "user"
	}
	kind = strings.ToLower(kind)
	if err := d.deps.Assigner.Assign(ctx, req.Caller, req.InstanceID, req.StageID, kind, ids); err != nil {
		return nil, fmt.Errorf("assign %s: %w", kind, err)
	}
	return map[string]any{"assigneeType": kind, "assigneeIds": ids}, nil
}

func dedupeFold(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || slices.ContainsFunc(out, func(o string) bool { return strings.EqualFold(o, s) }) {
			continue
		}
		out = append(out, s)
	}
	return out
}
