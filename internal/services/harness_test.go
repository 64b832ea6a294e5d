package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/soochol/stagecond/internal/action"
	"github.com/soochol/stagecond/internal/instance"
	"github.com/soochol/stagecond/internal/notify"
	"github.com/soochol/stagecond/internal/registry"
	"github.com/soochol/stagecond/internal/repository"
	"github.com/soochol/stagecond/internal/stagecond"
)

var testCaller = stagecond.Caller{TenantID: "t1", UserID: "u1"}

type recordingMailer struct {
	mu       sync.Mutex
	messages []notify.Message
	failFor  string
}

func (m *recordingMailer) Send(_ context.Context, msg notify.Message) error {
	if len(msg.Recipients()) == 0 {
		return notify.ErrNoRecipients
	}
	for _, r := range msg.Recipients() {
		if m.failFor != "" && strings.EqualFold(r, m.failFor) {
			return &permanentError{"550 mailbox unavailable"}
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *recordingMailer) sent() []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Message(nil), m.messages...)
}

type permanentError struct{ msg string }

func (e *permanentError) Error() string { return e.msg }

type harness struct {
	store      *instance.Store
	conditions *ConditionService
	registry   *registry.Service
	defs       *repository.MemoryDefinitionRepository
	mappings   *repository.MemoryMappingRepository
	executions *repository.MemoryExecutionRepository
	runner     *ActionRunner
	mailer     *recordingMailer
	logs       *repository.MemoryEvaluationLogRepository
	audit      *AuditQueue
	deps       DispatcherDeps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := instance.NewStore()
	store.AddWorkflow("wf-1",
		stagecond.Stage{ID: "s1", Name: "Intake", Order: 1},
		stagecond.Stage{ID: "s2", Name: "Review", Order: 2},
		stagecond.Stage{ID: "s3", Name: "Escalation", Order: 3},
		stagecond.Stage{ID: "s4", Name: "Done", Order: 4},
	)
	if err := store.AddInstance(&instance.Instance{ID: "inst-1", WorkflowID: "wf-1"}); err != nil {
		t.Fatalf("AddInstance: %v", err)
	}
	store.AddUser(instance.User{ID: "u1", Email: "ana@example.com"})
	store.AddTeam("ops", "u1")

	mailer := &recordingMailer{}
	defs := repository.NewMemoryDefinitionRepository()
	mappings := repository.NewMemoryMappingRepository()
	reg := registry.New(defs, mappings, registry.Options{Namer: store, Cleaner: store})
	executions := repository.NewMemoryExecutionRepository()
	factory := action.NewFactory(action.Deps{Mailer: mailer, Stages: store, Assigner: store, EmailRetry: action.RetryPolicy{MaxAttempts: 1}})
	runner := NewActionRunner(reg, executions, factory, nil)

	logs := repository.NewMemoryEvaluationLogRepository()
	h := &harness{
		store:      store,
		conditions: NewConditionService(repository.NewMemoryConditionRepository(), nil),
		registry:   reg,
		defs:       defs,
		mappings:   mappings,
		executions: executions,
		runner:     runner,
		mailer:     mailer,
		logs:       logs,
		audit:      NewAuditQueue(logs, 16, 1, nil),
		deps: DispatcherDeps{
			Stages:     store,
			Fields:     store,
			Assigner:   store,
			Recipients: store,
			Mailer:     mailer,
			EmailRetry: action.RetryPolicy{MaxAttempts: 1},
			Runner:     runner,
		},
	}
	t.Cleanup(func() { h.audit.Close(context.Background()) })
	return h
}

func (h *harness) orchestrator(deps DispatcherDeps) *Orchestrator {
	return NewOrchestrator(h.conditions, h.store, h.store, NewActionDispatcher(deps),
		NewMemoryLocker(LockFailFast, 0), h.audit, DefaultOrchestratorConfig(), nil)
}

func (h *harness) addCondition(t *testing.T, in ConditionInput) *stagecond.StageCondition {
	t.Helper()
	if in.StageID == "" {
		in.StageID = "s1"
	}
	c, _, err := h.conditions.Create(context.Background(), testCaller, in)
	if err != nil {
		t.Fatalf("create condition: %v", err)
	}
	return c
}

func (h *harness) definition(t *testing.T, in registry.CreateDefinitionInput) *stagecond.ActionDefinition {
	t.Helper()
	d, err := h.registry.CreateDefinition(context.Background(), testCaller, in)
	if err != nil {
		t.Fatalf("create definition %q: %v", in.Name, err)
	}
	return d
}

func amountRule(op, value string) stagecond.RuleSet {
	return stagecond.RuleSet{Logic: stagecond.LogicAnd, Rules: []stagecond.ConditionRule{
		{ComponentType: stagecond.ComponentField, FieldPath: "amount", Operator: op, ComparisonValue: value},
	}}
}
