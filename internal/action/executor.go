// Package action implements the executors that ActionDefinitions run on and
// the per-type validation of their configuration.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/soochol/stagecond/internal/notify"
	"github.com/soochol/stagecond/internal/stagecond"
	"github.com/soochol/stagecond/internal/stagecond/ports"
)

// Invocation is the input of one executor run.
type Invocation struct {
	Config map[string]any
	Data   map[string]any
	Caller stagecond.Caller
}

// Executor performs the side effect of one action type.
type Executor interface {
	Type() stagecond.ActionType
	Execute(ctx context.Context, inv Invocation) (map[string]any, error)
}

// Deps carries everything the built-in executors may need. Zero fields fall
// back to defaults; a missing collaborator only fails the executor that
// needs it, at execution time.
type Deps struct {
	HTTPClient    *http.Client
	HTTPLimiter   *rate.Limiter
	HTTPTimeout   time.Duration
	HTTPRetry     RetryPolicy
	PythonBin     string
	PythonTimeout time.Duration
	Mailer        notify.Mailer
	EmailRetry    RetryPolicy
	Stages        ports.StageTransitioner
	Assigner      ports.Assigner
	Logger        *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.HTTPClient == nil {
		d.HTTPClient = http.DefaultClient
	}
	if d.HTTPTimeout <= 0 {
		d.HTTPTimeout = 30 * time.Second
	}
	if d.HTTPRetry.MaxAttempts <= 0 {
		d.HTTPRetry = DefaultHTTPRetry
	}
	if d.PythonBin == "" {
		d.PythonBin = "python3"
	}
	if d.PythonTimeout <= 0 {
		d.PythonTimeout = 30 * time.Second
	}
	if d.EmailRetry.MaxAttempts <= 0 {
		d.EmailRetry = DefaultEmailRetry
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

var constructors = map[stagecond.ActionType]func(Deps) Executor{
	stagecond.ActionTypePython:    func(d Deps) Executor { return &PythonExecutor{deps: d} },
	stagecond.ActionTypeHTTPAPI:   func(d Deps) Executor { return &HTTPExecutor{deps: d} },
	stagecond.ActionTypeSendEmail: func(d Deps) Executor { return &EmailExecutor{deps: d} },
	stagecond.ActionTypeSystem:    func(d Deps) Executor { return &SystemExecutor{deps: d} },
}

// SupportedTypes lists the action types with a built-in executor.
func SupportedTypes() []stagecond.ActionType {
	out := make([]stagecond.ActionType, 0, len(constructors))
	for t := range constructors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func supportedList() string {
	types := SupportedTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func unsupported(t stagecond.ActionType) error {
	return fmt.Errorf("%w: %q (supported: %s)", stagecond.ErrUnsupportedActionType, t, supportedList())
}

// Factory maps action types to executors.
type Factory struct {
	executors map[stagecond.ActionType]Executor
}

// NewFactory builds one executor per supported type.
func NewFactory(deps Deps) *Factory {
	deps = deps.withDefaults()
	f := &Factory{executors: make(map[stagecond.ActionType]Executor, len(constructors))}
	for t, newExec := range constructors {
		f.executors[t] = newExec(deps)
	}
	return f
}

// Executor returns the executor for t or an ErrUnsupportedActionType error
// naming the supported set.
func (f *Factory) Executor(t stagecond.ActionType) (Executor, error) {
	if parsed, ok := stagecond.ParseActionType(string(t)); ok {
		t = parsed
	}
	e, ok := f.executors[t]
	if !ok {
		return nil, unsupported(t)
	}
	return e, nil
}

// Execute runs def's config against data.
func (f *Factory) Execute(ctx context.Context, def *stagecond.ActionDefinition, data map[string]any, caller stagecond.Caller) (map[string]any, error) {
	e, err := f.Executor(def.ActionType)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, Invocation{Config: def.Config, Data: data, Caller: caller})
}
