// internal/github/client.go
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	custom_errors "github-manager/internal/errors"
	"github-manager/internal/store"
)

const (
	acceptHeader   = "application/vnd.github+json"
	apiVersion     = "2022-11-28"
	requestTimeout = 30 * time.Second
	maxAttempts    = 3
)

// tokenSource is the credential dependency of the request engine. The
// TokenManager satisfies it; tests substitute a static source.
type tokenSource interface {
	AccessToken(ctx context.Context) (*oauth2.Token, error)
}

// Client is the authenticated request engine for the GitHub REST API.
// Only network-layer failures are retried; application errors are
// deterministic and surfaced immediately.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     tokenSource
	limits     *RateLimitTracker
	audit      store.AuditSink
	logger     *slog.Logger

	// backoff before re-attempting after a transient failure, overridable
	// in tests.
	backoff func(attempt int) time.Duration
}

// NewClient creates the request engine on top of the credential manager
// and rate-limit tracker.
func NewClient(tokens tokenSource, limits *RateLimitTracker, audit store.AuditSink, logger *slog.Logger, baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		limits:     limits,
		audit:      audit,
		logger:     logger,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second // 1s, 2s
		},
	}
}

// Do issues one API call: bearer token, protocol headers, up to three
// attempts on timeout or connection failure, rate-limit accounting on
// every completed response. The parsed body is returned raw; empty bodies
// come back as an empty JSON object.
func (c *Client) Do(ctx context.Context, method, endpoint string, body any, query url.Values) (json.RawMessage, error) {
	if err := c.limits.Check(); err != nil {
		return nil, err
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body for %s %s: %w", method, endpoint, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff(attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		req.Header.Set("Accept", acceptHeader)
		req.Header.Set("X-GitHub-Api-Version", apiVersion)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Timeout or connection failure. Retry until the attempt
			// budget runs out.
			lastErr = err
			c.logger.Warn("GitHub request failed, will retry", "method", method, "endpoint", endpoint, "attempt", attempt+1, "error", err)
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		// Rate-limit accounting runs before status handling; exhaustion
		// aborts the call chain and is not a retryable condition.
		if err := c.limits.Record(ctx, resp.Header); err != nil {
			return nil, err
		}

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusNoContent:
			if len(bytes.TrimSpace(respBody)) == 0 {
				return json.RawMessage("{}"), nil
			}
			return json.RawMessage(respBody), nil
		default:
			return nil, &custom_errors.APIError{
				StatusCode: resp.StatusCode,
				Message:    upstreamMessage(respBody),
				Endpoint:   endpoint,
			}
		}
	}

	return nil, &custom_errors.TransientError{Attempts: maxAttempts, Err: lastErr}
}

// upstreamMessage pulls the "message" field out of a GitHub error body.
func upstreamMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Message == "" {
		return "Unknown error"
	}
	return payload.Message
}

// decodeList parses a listing response, returning an empty slice when the
// upstream body is not a JSON array.
func decodeList[T any](raw json.RawMessage) ([]*T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return []*T{}, nil
	}
	out := []*T{}
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeInto parses a single-resource response.
func decodeInto[T any](raw json.RawMessage) (*T, error) {
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

func listQuery(page, perPage int) url.Values {
	q := url.Values{}
	q.Set("page", fmt.Sprintf("%d", page))
	q.Set("per_page", fmt.Sprintf("%d", perPage))
	return q
}
