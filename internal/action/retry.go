package action

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"
)

// RetryPolicy configures attempts and exponential backoff.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

var (
	DefaultEmailRetry = RetryPolicy{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, BackoffFactor: 2}
	DefaultHTTPRetry  = RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2}
)

// calculateBackoff computes the delay after the given zero-based attempt.
func calculateBackoff(policy RetryPolicy, attempt int) time.Duration {
	factor := policy.BackoffFactor
	if factor <= 0 {
		factor = 2
	}
	delay := float64(policy.InitialDelay) * math.Pow(factor, float64(attempt))
	if policy.MaxDelay > 0 && time.Duration(delay) > policy.MaxDelay {
		return policy.MaxDelay
	}
	return time.Duration(delay)
}

// sleepWithBackoff waits for the backoff duration and returns ctx.Err() if
// the context ends first.
func sleepWithBackoff(ctx context.Context, logger *slog.Logger, policy RetryPolicy, attempt int) error {
	delay := calculateBackoff(policy, attempt)
	logger.Info("retry: backing off", "attempt", attempt+1, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isRetryableMsg checks if an error message indicates a transient condition.
func isRetryableMsg(msg string) bool {
	lower := strings.ToLower(msg)
	retryablePatterns := []string{
		"timeout", "rate limit", "too many requests",
		"429", "500", "502", "503", "504",
		"421", "450", "451",
		"connection reset", "connection refused", "eof",
		"temporary", "busy",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
