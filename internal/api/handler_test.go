// internal/api/handler_test.go
package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	gh "github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github-manager/internal/github"
	"github-manager/internal/model"
	"github-manager/internal/queue"
	"github-manager/internal/store"
	"github-manager/internal/syncer"
	"github-manager/internal/webhook"
)

const (
	adminToken      = "admin-token"
	maintainerToken = "maintainer-token"
	viewerToken     = "viewer-token"
	webhookSecret   = "shh"
)

type staticTokens struct{}

func (staticTokens) AccessToken(ctx context.Context) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "test-token", Expiry: time.Now().Add(time.Hour)}, nil
}

type captureQueue struct {
	jobs []queue.Job
}

func (c *captureQueue) Enqueue(ctx context.Context, job queue.Job) error {
	c.jobs = append(c.jobs, job)
	return nil
}

type testAPI struct {
	router http.Handler
	mem    *store.Memory
	queue  *captureQueue
	rec    *syncer.Reconciler
}

// newTestAPI wires the full router against a fake GitHub upstream.
func newTestAPI(t *testing.T, upstream http.Handler) *testAPI {
	t.Helper()
	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	mem := store.NewMemory()
	q := &captureQueue{}

	client := github.NewClient(staticTokens{}, github.NewRateLimitTracker(nil, logger), mem, logger, server.URL)
	rec := syncer.NewReconciler(mem, logger)
	roles := NewTokenRoles([]string{adminToken}, []string{maintainerToken}, []string{viewerToken})
	webhooks := webhook.NewHandler(webhookSecret, q, rec, logger)

	return &testAPI{
		router: NewRouter(client, rec, mem, q, roles, webhooks, logger),
		mem:    mem,
		queue:  q,
		rec:    rec,
	}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	api := newTestAPI(t, http.NewServeMux())

	w := api.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok"}`, w.Body.String())
}

func TestRouter_RoleGates(t *testing.T) {
	api := newTestAPI(t, http.NewServeMux())

	t.Run("missing token is unauthorized", func(t *testing.T) {
		w := api.do(t, http.MethodGet, "/v1/stats/repositories", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown token is unauthorized", func(t *testing.T) {
		w := api.do(t, http.MethodGet, "/v1/stats/repositories", "bogus", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("viewer can read but not write", func(t *testing.T) {
		w := api.do(t, http.MethodGet, "/v1/stats/repositories", viewerToken, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w = api.do(t, http.MethodPost, "/v1/repos", viewerToken, map[string]any{"name": "widgets"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("maintainer cannot delete repositories", func(t *testing.T) {
		w := api.do(t, http.MethodDelete, "/v1/repos/acme/widgets", maintainerToken, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestRouter_CreateRepository(t *testing.T) {
	t.Run("creates upstream and mirrors locally", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /user/repos", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id": 10, "full_name": "acme/widgets", "private": true, "html_url": "https://github.test/acme/widgets"}`))
		})
		api := newTestAPI(t, mux)

		w := api.do(t, http.MethodPost, "/v1/repos", maintainerToken, map[string]any{"name": "widgets"})

		assert.Equal(t, http.StatusCreated, w.Code)

		exists, err := api.mem.Exists(context.Background(), model.KindRepository, "acme/widgets")
		require.NoError(t, err)
		assert.True(t, exists, "created repository should be mirrored")

		entries := api.mem.AuditEntries()
		require.Len(t, entries, 1)
		assert.Equal(t, "maintainer", entries[0].User, "the caller role becomes the audit principal")
	})

	t.Run("rejects a missing name", func(t *testing.T) {
		api := newTestAPI(t, http.NewServeMux())

		w := api.do(t, http.MethodPost, "/v1/repos", adminToken, map[string]any{"description": "no name"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRouter_ErrorMapping(t *testing.T) {
	t.Run("upstream 404 maps to 404", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /repos/acme/missing", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message": "Not Found"}`))
		})
		api := newTestAPI(t, mux)

		w := api.do(t, http.MethodGet, "/v1/repos/acme/missing", viewerToken, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "resource not found")
	})

	t.Run("rate limit exhaustion maps to 429", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /repos/acme/widgets", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Hour).Unix()))
			_, _ = w.Write([]byte(`{"id": 1}`))
		})
		api := newTestAPI(t, mux)

		w := api.do(t, http.MethodGet, "/v1/repos/acme/widgets", viewerToken, nil)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Contains(t, w.Body.String(), "rate limit exceeded")
	})

	t.Run("upstream 500 maps to 502", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /repos/acme/widgets", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message": "Server Error"}`))
		})
		api := newTestAPI(t, mux)

		w := api.do(t, http.MethodGet, "/v1/repos/acme/widgets", viewerToken, nil)

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestRouter_DeleteBranch(t *testing.T) {
	seed := func(t *testing.T, api *testAPI) {
		_, err := api.rec.SyncRepository(context.Background(), "acme/widgets", &gh.Repository{
			FullName:      gh.String("acme/widgets"),
			DefaultBranch: gh.String("main"),
		})
		require.NoError(t, err)
	}

	t.Run("refuses to delete the default branch", func(t *testing.T) {
		var upstreamCalls int32
		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&upstreamCalls, 1)
		})
		api := newTestAPI(t, mux)
		seed(t, api)

		w := api.do(t, http.MethodDelete, "/v1/repos/acme/widgets/branches/main", adminToken, nil)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "default branch")
		assert.Equal(t, int32(0), atomic.LoadInt32(&upstreamCalls), "refusal must happen before any API call")
	})

	t.Run("deletes other branches", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("DELETE /repos/acme/widgets/git/refs/heads/feature", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		api := newTestAPI(t, mux)
		seed(t, api)

		w := api.do(t, http.MethodDelete, "/v1/repos/acme/widgets/branches/feature", adminToken, nil)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRouter_SyncEndpoints(t *testing.T) {
	t.Run("repository data sync enqueues the three bulk jobs", func(t *testing.T) {
		api := newTestAPI(t, http.NewServeMux())

		w := api.do(t, http.MethodPost, "/v1/repos/acme/widgets/sync", maintainerToken, nil)

		assert.Equal(t, http.StatusAccepted, w.Code)
		require.Len(t, api.queue.jobs, 3)
		names := []string{api.queue.jobs[0].Name, api.queue.jobs[1].Name, api.queue.jobs[2].Name}
		assert.Equal(t, []string{syncer.JobSyncPullRequests, syncer.JobSyncReleases, syncer.JobSyncIssues}, names)
	})

	t.Run("pull request sync honours the state filter", func(t *testing.T) {
		api := newTestAPI(t, http.NewServeMux())

		w := api.do(t, http.MethodPost, "/v1/repos/acme/widgets/pulls/sync?state=open", viewerToken, nil)

		assert.Equal(t, http.StatusAccepted, w.Code)
		require.Len(t, api.queue.jobs, 1)
		assert.Equal(t, syncer.JobSyncPullRequests, api.queue.jobs[0].Name)
		assert.Equal(t, "open", api.queue.jobs[0].Args["state"])
	})

	t.Run("full repository sweep is queued", func(t *testing.T) {
		api := newTestAPI(t, http.NewServeMux())

		w := api.do(t, http.MethodPost, "/v1/repos/sync", viewerToken, map[string]any{"organization": "acme"})

		assert.Equal(t, http.StatusAccepted, w.Code)
		require.Len(t, api.queue.jobs, 1)
		assert.Equal(t, syncer.JobSyncAllRepositories, api.queue.jobs[0].Name)
		assert.Equal(t, "acme", api.queue.jobs[0].Args["organization"])
	})
}

func TestRouter_Stats(t *testing.T) {
	api := newTestAPI(t, http.NewServeMux())
	ctx := context.Background()

	_, err := api.rec.SyncRepository(ctx, "acme/widgets", &gh.Repository{
		FullName: gh.String("acme/widgets"), Private: gh.Bool(true),
	})
	require.NoError(t, err)
	_, err = api.rec.SyncRepository(ctx, "acme/tools", &gh.Repository{
		FullName: gh.String("acme/tools"),
	})
	require.NoError(t, err)

	w := api.do(t, http.MethodGet, "/v1/stats/repositories", viewerToken, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var stats map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats["total"])
	assert.Equal(t, int64(1), stats["private"])
	assert.Equal(t, int64(1), stats["public"])
	assert.Equal(t, int64(0), stats["archived"])
}

func TestRouter_WebhookMount(t *testing.T) {
	api := newTestAPI(t, http.NewServeMux())

	payload := []byte(`{
		"action": "opened",
		"repository": {"full_name": "acme/widgets"},
		"pull_request": {"id": 1, "number": 12}
	}`)
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(payload)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(payload))
	req.Header.Set("X-GitHub-Event", "pull_request")
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code, "webhook deliveries need no bearer token")
	require.Len(t, api.queue.jobs, 1)
	assert.Equal(t, syncer.JobSyncOnePullRequest, api.queue.jobs[0].Name)
}
