// internal/github/ratelimit.go
package github

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	custom_errors "github-manager/internal/errors"
	"github-manager/internal/store"
)

const lowQuotaThreshold = 100

// RateLimitTracker records the quota headers carried on every completed
// response and enforces the hard stop: once zero remaining calls have been
// observed, requests are rejected before they are sent until the reset
// time has passed. Updates are last-writer-wins.
type RateLimitTracker struct {
	state  store.StateStore // optional, persists observed state
	logger *slog.Logger

	mu        sync.Mutex
	observed  bool
	remaining int
	resetAt   time.Time
}

func NewRateLimitTracker(state store.StateStore, logger *slog.Logger) *RateLimitTracker {
	return &RateLimitTracker{state: state, logger: logger}
}

// Check rejects a call before it is attempted while the quota is known to
// be exhausted and the reset time has not passed.
func (t *RateLimitTracker) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.observed && t.remaining == 0 && time.Now().Before(t.resetAt) {
		return &custom_errors.RateLimitError{ResetAt: t.resetAt}
	}
	return nil
}

// Record inspects the rate-limit headers of a response. It returns a
// RateLimitError when the quota is exhausted, which must abort the
// in-flight call chain.
func (t *RateLimitTracker) Record(ctx context.Context, headers http.Header) error {
	remainingStr := headers.Get("X-RateLimit-Remaining")
	resetStr := headers.Get("X-RateLimit-Reset")
	if remainingStr == "" || resetStr == "" {
		return nil
	}

	remaining, err := strconv.Atoi(remainingStr)
	if err != nil {
		return nil
	}
	resetEpoch, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return nil
	}
	resetAt := time.Unix(resetEpoch, 0)

	t.mu.Lock()
	t.observed = true
	t.remaining = remaining
	t.resetAt = resetAt
	t.mu.Unlock()

	if t.state != nil {
		if err := t.state.SaveRateLimit(ctx, remaining, resetAt); err != nil {
			t.logger.Warn("Failed to persist rate limit state", "error", err)
		}
	}

	if remaining == 0 {
		return &custom_errors.RateLimitError{ResetAt: resetAt}
	}
	if remaining < lowQuotaThreshold {
		t.logger.Warn("GitHub API rate limit is low", "remaining", remaining, "reset_at", resetAt)
	}
	return nil
}
