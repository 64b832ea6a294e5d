package action

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soochol/stagecond/internal/stagecond"
)

// maxResponseBody caps how much of an HTTP response body is kept.
const maxResponseBody = 100 * 1024 // 100 KB

// HTTPExecutor calls an external HTTP API.
type HTTPExecutor struct {
	deps Deps
}

func (h *HTTPExecutor) Type() stagecond.ActionType { return stagecond.ActionTypeHTTPAPI }

type httpAttemptError struct {
	status int
	err    error
}

func (e *httpAttemptError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("unexpected status %d", e.status)
}

func (e *httpAttemptError) retryable() bool {
	if e.err != nil {
		return true
	}
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

func (h *HTTPExecutor) Execute(ctx context.Context, inv Invocation) (map[string]any, error) {
	if err := validateHTTP(inv.Config); err != nil {
		return nil, err
	}
	method := strings.ToUpper(strings.TrimSpace(inv.Config["method"].(string)))
	url := expandPlaceholders(strings.TrimSpace(inv.Config["url"].(string)), inv.Data)

	var body []byte
	contentType := ""
	switch b := expandAll(inv.Config["body"], inv.Data).(type) {
	case nil:
	case string:
		body = []byte(b)
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("http: encode body: %w", err)
		}
		body = encoded
		contentType = "application/json"
	}

	headers := map[string]string{}
	if hdrs, ok := inv.Config["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			headers[k] = expandPlaceholders(stagecond.ValueOf(v).String(), inv.Data)
		}
	}

	policy := h.deps.HTTPRetry
	if n, ok := durationSeconds(inv.Config["maxAttempts"]); ok {
		policy.MaxAttempts = int(n)
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	timeout := h.deps.HTTPTimeout
	if secs, ok := durationSeconds(inv.Config["timeoutSeconds"]); ok {
		timeout = time.Duration(secs * float64(time.Second))
	}

	var lastErr *httpAttemptError
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepWithBackoff(ctx, h.deps.Logger, policy, attempt-1); err != nil {
				return nil, fmt.Errorf("http %s %s: %w", method, url, err)
			}
		}
		if h.deps.HTTPLimiter != nil {
			if err := h.deps.HTTPLimiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("http %s %s: rate limiter: %w", method, url, err)
			}
		}

		out, attemptErr := h.do(ctx, timeout, method, url, headers, contentType, body)
		if out != nil {
			out["attempts"] = attempt + 1
		}
		if attemptErr == nil {
			return out, nil
		}
		lastErr = attemptErr
		if !attemptErr.retryable() || ctx.Err() != nil {
			return out, fmt.Errorf("http %s %s: %w", method, url, attemptErr)
		}
		h.deps.Logger.Warn("http action attempt failed", "url", url, "attempt", attempt+1, "err", attemptErr)
		if attempt == policy.MaxAttempts-1 {
			return out, fmt.Errorf("http %s %s: giving up after %d attempts: %w", method, url, policy.MaxAttempts, attemptErr)
		}
	}
	return nil, fmt.Errorf("http %s %s: %w", method, url, lastErr)
}

func (h *HTTPExecutor) do(ctx context.Context, timeout time.Duration, method, url string, headers map[string]string, contentType string, body []byte) (map[string]any, *httpAttemptError) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(reqCtx, method, url, bodyReader)
	if err != nil {
		return nil, &httpAttemptError{err: fmt.Errorf("create request: %w", err)}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, &httpAttemptError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseBody+1)
	bodyBytes, err := io.ReadAll(limited)
	if err != nil {
		return nil, &httpAttemptError{err: fmt.Errorf("read response body: %w", err)}
	}
	truncated := len(bodyBytes) > maxResponseBody
	if truncated {
		bodyBytes = bodyBytes[:maxResponseBody]
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	out := map[string]any{
		"statusCode": resp.StatusCode,
		"status":     resp.Status,
		"headers":    respHeaders,
		"body":       decodeBody(bodyBytes, truncated),
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &httpAttemptError{status: resp.StatusCode}
	}
	return out, nil
}

func decodeBody(b []byte, truncated bool) any {
	if !truncated {
		var decoded any
		if err := json.Unmarshal(b, &decoded); err == nil {
			return decoded
		}
	}
	s := string(b)
	if truncated {
		s += "\n... [truncated at 100KB]"
	}
	return s
}
