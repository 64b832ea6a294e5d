package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/soochol/stagecond/internal/notify"
	"github.com/soochol/stagecond/internal/stagecond"
)

// EmailExecutor renders a templated message and sends it through the mailer.
type EmailExecutor struct {
	deps Deps
}

func (e *EmailExecutor) Type() stagecond.ActionType { return stagecond.ActionTypeSendEmail }

func (e *EmailExecutor) Execute(ctx context.Context, inv Invocation) (map[string]any, error) {
	if e.deps.Mailer == nil {
		return nil, fmt.Errorf("email: no mail transport configured")
	}
	to := listParam(inv.Config, "to", "recipients")
	if to == nil {
		if v, ok := lookup(inv.Data, "email"); ok {
			to = listParam(map[string]any{"to": v}, "to")
		}
	}
	if to == nil {
		return nil, fmt.Errorf("email: no recipients")
	}

	bodyTpl := stringParam(inv.Config, nil, []string{"body", "template", "emailBody"})
	if bodyTpl == "" {
		return nil, fmt.Errorf("email: body template is required")
	}
	body, err := RenderTemplate("body", bodyTpl, inv.Data)
	if err != nil {
		return nil, fmt.Errorf("email: %w", err)
	}
	subject, err := RenderTemplate("subject", stringParam(inv.Config, nil, []string{"subject"}), inv.Data)
	if err != nil {
		return nil, fmt.Errorf("email: %w", err)
	}
	isHTML, _ := boolParam(inv.Config["isHtml"])

	msg := notify.Message{
		To:      to,
		Cc:      listParam(inv.Config, "cc"),
		Subject: subject,
		Body:    body,
		HTML:    isHTML,
	}
	attempts, err := SendWithRetry(ctx, e.deps.Mailer, msg, e.deps.EmailRetry, e.deps.Logger)
	out := map[string]any{"recipients": len(msg.Recipients()), "attempts": attempts, "sent": err == nil}
	if err != nil {
		return out, fmt.Errorf("email: %w", err)
	}
	return out, nil
}

// RenderTemplate executes a text/template over data. Missing keys render empty.
func RenderTemplate(name, text string, data map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return strings.ReplaceAll(b.String(), "<no value>", ""), nil
}

// SendWithRetry sends msg, retrying transient failures per policy. It
// returns how many attempts were made.
func SendWithRetry(ctx context.Context, mailer notify.Mailer, msg notify.Message, policy RetryPolicy, logger *slog.Logger) (int, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	var err error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if werr := sleepWithBackoff(ctx, logger, policy, attempt-1); werr != nil {
				return attempt, werr
			}
		}
		if err = mailer.Send(ctx, msg); err == nil {
			return attempt + 1, nil
		}
		if errors.Is(err, notify.ErrNoRecipients) || ctx.Err() != nil || !isRetryableMsg(err.Error()) {
			return attempt + 1, err
		}
		logger.Warn("email send failed", "attempt", attempt+1, "err", err)
	}
	return policy.MaxAttempts, err
}
