// internal/webhook/webhook.go
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github-manager/internal/queue"
	"github-manager/internal/syncer"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	eventHeader     = "X-GitHub-Event"
)

// Pull request actions that trigger a sync.
var pullRequestActions = map[string]bool{
	"opened": true, "closed": true, "reopened": true, "synchronize": true, "edited": true,
}

var releaseActions = map[string]bool{
	"published": true, "created": true, "edited": true,
}

var issueActions = map[string]bool{
	"opened": true, "closed": true, "reopened": true, "edited": true,
}

var repositoryActions = map[string]bool{
	"created": true, "edited": true,
}

// Handler verifies inbound GitHub webhook deliveries and routes them to
// the reconciler, via the task queue for syncs and inline for deletes.
// Processing errors become structured responses, never panics upward —
// GitHub retries on non-2xx and one bad payload must not wedge delivery.
type Handler struct {
	secret string
	queue  queue.Enqueuer
	rec    *syncer.Reconciler
	logger *slog.Logger
}

func NewHandler(secret string, q queue.Enqueuer, rec *syncer.Reconciler, logger *slog.Logger) *Handler {
	return &Handler{secret: secret, queue: q, rec: rec, logger: logger}
}

// VerifySignature checks the HMAC-SHA256 signature over the raw request
// body. It returns false, never an error, when the secret is unconfigured
// or the signature is absent or mismatched. Comparison is constant time.
func (h *Handler) VerifySignature(payload []byte, signature string) bool {
	if h.secret == "" {
		h.logger.Error("Webhook secret not configured")
		return false
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(payload)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// ServeHTTP handles one webhook delivery. An unverified signature
// short-circuits with 401 before any parsing or dispatch.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.respond(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "failed to read request body"})
		return
	}

	if !h.VerifySignature(payload, r.Header.Get(signatureHeader)) {
		h.respond(w, http.StatusUnauthorized, map[string]string{"status": "error", "message": "Invalid signature"})
		return
	}

	event := r.Header.Get(eventHeader)
	if err := h.dispatch(r.Context(), event, payload); err != nil {
		h.logger.Error("Webhook processing failed", "event", event, "error", err)
		h.respond(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}

	h.respond(w, http.StatusOK, map[string]string{"status": "success"})
}

type envelope struct {
	Action      string          `json:"action"`
	Repository  repositoryRef   `json:"repository"`
	PullRequest json.RawMessage `json:"pull_request"`
	Release     json.RawMessage `json:"release"`
	Issue       json.RawMessage `json:"issue"`
}

type repositoryRef struct {
	FullName string `json:"full_name"`
}

func (h *Handler) dispatch(ctx context.Context, event string, payload []byte) error {
	var data envelope
	if err := json.Unmarshal(payload, &data); err != nil {
		return fmt.Errorf("parse webhook payload: %w", err)
	}

	switch event {
	case "push":
		// Observational only.
		h.logger.Info("Push event received", "repository", data.Repository.FullName)
		return nil
	case "pull_request":
		return h.handlePullRequest(ctx, data)
	case "release":
		return h.handleRelease(ctx, data)
	case "issues":
		return h.handleIssue(ctx, data)
	case "repository":
		return h.handleRepository(ctx, data, payload)
	default:
		h.logger.Info("Unhandled webhook event", "event", event)
		return nil
	}
}

func (h *Handler) handlePullRequest(ctx context.Context, data envelope) error {
	if !pullRequestActions[data.Action] {
		return nil
	}

	var meta struct {
		Number int `json:"number"`
	}
	if err := json.Unmarshal(data.PullRequest, &meta); err != nil {
		return fmt.Errorf("parse pull_request payload: %w", err)
	}

	h.logger.Info("Pull request event", "action", data.Action, "repository", data.Repository.FullName, "number", meta.Number)
	return h.queue.Enqueue(ctx, queue.Job{
		Name:    syncer.JobSyncOnePullRequest,
		Queue:   queue.ClassShort,
		Timeout: 5 * time.Minute,
		Args: map[string]any{
			"repository": data.Repository.FullName,
			"pr_number":  meta.Number,
			"payload":    data.PullRequest,
		},
	})
}

func (h *Handler) handleRelease(ctx context.Context, data envelope) error {
	var meta struct {
		TagName string `json:"tag_name"`
	}
	if len(data.Release) > 0 {
		if err := json.Unmarshal(data.Release, &meta); err != nil {
			return fmt.Errorf("parse release payload: %w", err)
		}
	}

	h.logger.Info("Release event", "action", data.Action, "repository", data.Repository.FullName, "tag", meta.TagName)

	switch {
	case releaseActions[data.Action]:
		return h.queue.Enqueue(ctx, queue.Job{
			Name:    syncer.JobSyncOneRelease,
			Queue:   queue.ClassShort,
			Timeout: 5 * time.Minute,
			Args: map[string]any{
				"repository": data.Repository.FullName,
				"tag_name":   meta.TagName,
				"payload":    data.Release,
			},
		})
	case data.Action == "deleted":
		return h.rec.DeleteRelease(ctx, data.Repository.FullName, meta.TagName)
	}
	return nil
}

func (h *Handler) handleIssue(ctx context.Context, data envelope) error {
	var meta struct {
		Number      int             `json:"number"`
		PullRequest json.RawMessage `json:"pull_request"`
	}
	if err := json.Unmarshal(data.Issue, &meta); err != nil {
		return fmt.Errorf("parse issue payload: %w", err)
	}

	// GitHub represents pull requests as issues in this event; skip them.
	if len(meta.PullRequest) > 0 {
		return nil
	}
	if !issueActions[data.Action] {
		return nil
	}

	h.logger.Info("Issue event", "action", data.Action, "repository", data.Repository.FullName, "number", meta.Number)
	return h.queue.Enqueue(ctx, queue.Job{
		Name:    syncer.JobSyncOneIssue,
		Queue:   queue.ClassShort,
		Timeout: 5 * time.Minute,
		Args: map[string]any{
			"repository":   data.Repository.FullName,
			"issue_number": meta.Number,
			"payload":      data.Issue,
		},
	})
}

func (h *Handler) handleRepository(ctx context.Context, data envelope, raw []byte) error {
	h.logger.Info("Repository event", "action", data.Action, "repository", data.Repository.FullName)

	switch {
	case repositoryActions[data.Action]:
		var full struct {
			Repository json.RawMessage `json:"repository"`
		}
		if err := json.Unmarshal(raw, &full); err != nil {
			return fmt.Errorf("parse repository payload: %w", err)
		}
		return h.queue.Enqueue(ctx, queue.Job{
			Name:    syncer.JobSyncOneRepository,
			Queue:   queue.ClassShort,
			Timeout: 5 * time.Minute,
			Args: map[string]any{
				"repository": data.Repository.FullName,
				"payload":    full.Repository,
			},
		})
	case data.Action == "deleted":
		return h.rec.DeleteRepository(ctx, data.Repository.FullName)
	}
	return nil
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to write webhook response", "error", err)
	}
}
