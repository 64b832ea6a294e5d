package action

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/soochol/stagecond/internal/notify"
	"github.com/soochol/stagecond/internal/stagecond"
)

type fakeMailer struct {
	mu       sync.Mutex
	failures int
	sent     []notify.Message
	calls    int
}

func (m *fakeMailer) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return errors.New("421 service busy")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestEmailExecutor_RendersAndSends(t *testing.T) {
	mailer := &fakeMailer{}
	e, _ := NewFactory(Deps{Mailer: mailer, EmailRetry: fastRetry}).Executor(stagecond.ActionTypeSendEmail)

	out, err := e.Execute(context.Background(), Invocation{
		Config: map[string]any{
			"to":      []any{"ops@example.com"},
			"cc":      "lead@example.com",
			"subject": "Case {{.caseId}}",
			"body":    "Amount {{.amount}} for {{.customer}}{{.missing}}",
		},
		Data: map[string]any{"caseId": "C-1", "amount": 1500, "customer": "ACME"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out["recipients"] != 2 {
		t.Errorf("recipients = %v, want 2", out["recipients"])
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(mailer.sent))
	}
	msg := mailer.sent[0]
	if msg.Subject != "Case C-1" {
		t.Errorf("Subject = %q, want %q", msg.Subject, "Case C-1")
	}
	if msg.Body != "Amount 1500 for ACME" {
		t.Errorf("Body = %q, want %q", msg.Body, "Amount 1500 for ACME")
	}
}

func TestEmailExecutor_RetriesTransientFailures(t *testing.T) {
	mailer := &fakeMailer{failures: 2}
	e, _ := NewFactory(Deps{Mailer: mailer, EmailRetry: fastRetry}).Executor(stagecond.ActionTypeSendEmail)

	out, err := e.Execute(context.Background(), Invocation{
		Config: map[string]any{"to": "ops@example.com", "body": "hi"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out["attempts"] != 3 {
		t.Errorf("attempts = %v, want 3", out["attempts"])
	}
}

func TestEmailExecutor_FailureIsReported(t *testing.T) {
	mailer := &fakeMailer{failures: 10}
	e, _ := NewFactory(Deps{Mailer: mailer, EmailRetry: fastRetry}).Executor(stagecond.ActionTypeSendEmail)

	out, err := e.Execute(context.Background(), Invocation{
		Config: map[string]any{"to": "ops@example.com", "body": "hi"},
	})
	if err == nil {
		t.Fatal("Execute returned nil error")
	}
	if out["sent"] != false {
		t.Errorf("sent = %v, want false", out["sent"])
	}
	if mailer.calls != fastRetry.MaxAttempts {
		t.Errorf("calls = %d, want %d", mailer.calls, fastRetry.MaxAttempts)
	}
}

func TestEmailExecutor_NoTransport(t *testing.T) {
	e, _ := NewFactory(Deps{}).Executor(stagecond.ActionTypeSendEmail)
	if _, err := e.Execute(context.Background(), Invocation{Config: map[string]any{"to": "a@b.c", "body": "x"}}); err == nil {
		t.Error("Execute returned nil error without a mailer")
	}
}

func TestRenderTemplate(t *testing.T) {
	got, err := RenderTemplate("t", "Hello {{.user.name}}", map[string]any{"user": map[string]any{"name": "Kim"}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hello Kim" {
		t.Errorf("RenderTemplate = %q, want %q", got, "Hello Kim")
	}
	if _, err := RenderTemplate("t", "{{.broken", nil); err == nil {
		t.Error("RenderTemplate accepted a malformed template")
	}
}
