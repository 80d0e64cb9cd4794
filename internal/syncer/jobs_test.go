// internal/syncer/jobs_test.go
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	custom_errors "github-manager/internal/errors"
	"github-manager/internal/github"
	"github-manager/internal/model"
	"github-manager/internal/queue"
	"github-manager/internal/store"
)

type staticTokens struct{}

func (staticTokens) AccessToken(ctx context.Context) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "test-token", Expiry: time.Now().Add(time.Hour)}, nil
}

func newTestJobs(t *testing.T, handler http.Handler, records store.RecordStore) *Jobs {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := testLogger()
	client := github.NewClient(staticTokens{}, github.NewRateLimitTracker(nil, logger), nil, logger, server.URL)
	rec := NewReconciler(records, logger)
	return NewJobs(client, rec, logger)
}

// flakyStore fails every write against one key.
type flakyStore struct {
	*store.Memory
	failKey string
}

func (f *flakyStore) Create(ctx context.Context, kind, key string, record any) error {
	if key == f.failKey {
		return errors.New("storage offline")
	}
	return f.Memory.Create(ctx, kind, key, record)
}

func issuesJSON(t *testing.T, issues []map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(issues)
	require.NoError(t, err)
	return data
}

func TestJobs_SyncRepositoryIssues(t *testing.T) {
	ctx := context.Background()

	t.Run("filters pull requests and stops after a short page", func(t *testing.T) {
		var requestCount int32
		mux := http.NewServeMux()
		mux.HandleFunc("GET /repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			assert.Equal(t, "1", r.URL.Query().Get("page"))
			assert.Equal(t, "100", r.URL.Query().Get("per_page"))
			_, _ = w.Write(issuesJSON(t, []map[string]any{
				{"id": 1, "number": 1, "title": "Bug", "state": "open"},
				{"id": 2, "number": 2, "title": "Actually a PR", "state": "open", "pull_request": map[string]any{"url": "x"}},
				{"id": 3, "number": 3, "title": "Feature", "state": "closed"},
			}))
		})
		mem := store.NewMemory()
		jobs := newTestJobs(t, mux, mem)

		require.NoError(t, jobs.SyncRepositoryIssues(ctx, "acme/widgets", "all"))

		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount), "a short page ends pagination")
		keys, err := mem.ListKeys(ctx, model.KindIssue)
		require.NoError(t, err)
		assert.Equal(t, []string{"ISSUE-acme/widgets-1", "ISSUE-acme/widgets-3"}, keys)
	})

	t.Run("continues past individual item failures", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(issuesJSON(t, []map[string]any{
				{"id": 1, "number": 1, "title": "One"},
				{"id": 2, "number": 2, "title": "Two"},
				{"id": 3, "number": 3, "title": "Three"},
			}))
		})
		mem := &flakyStore{Memory: store.NewMemory(), failKey: "ISSUE-acme/widgets-2"}
		jobs := newTestJobs(t, mux, mem)

		require.NoError(t, jobs.SyncRepositoryIssues(ctx, "acme/widgets", "all"), "item failures do not fail the job")

		keys, err := mem.ListKeys(ctx, model.KindIssue)
		require.NoError(t, err)
		assert.Equal(t, []string{"ISSUE-acme/widgets-1", "ISSUE-acme/widgets-3"}, keys)
	})

	t.Run("rejects malformed repository identifiers", func(t *testing.T) {
		jobs := newTestJobs(t, http.NewServeMux(), store.NewMemory())

		err := jobs.SyncRepositoryIssues(ctx, "not-a-repo", "all")

		require.Error(t, err)
		var formatErr *custom_errors.ErrInvalidRepoFormat
		assert.ErrorAs(t, err, &formatErr)
	})
}

func TestJobs_SyncRepositoryReleases(t *testing.T) {
	t.Run("a short first page ends the job without a second request", func(t *testing.T) {
		var requestCount int32
		mux := http.NewServeMux()
		mux.HandleFunc("GET /repos/acme/widgets/releases", func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			_, _ = w.Write([]byte(`[{"id": 1, "tag_name": "v1.0.0"}, {"id": 2, "tag_name": "v1.1.0"}]`))
		})
		mem := store.NewMemory()
		jobs := newTestJobs(t, mux, mem)

		require.NoError(t, jobs.SyncRepositoryReleases(context.Background(), "acme/widgets"))

		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
		keys, err := mem.ListKeys(context.Background(), model.KindRelease)
		require.NoError(t, err)
		assert.Equal(t, []string{"REL-acme/widgets-v1.0.0", "REL-acme/widgets-v1.1.0"}, keys)
	})
}

func TestJobs_SyncAllRepositories(t *testing.T) {
	ctx := context.Background()

	t.Run("pages until a short page", func(t *testing.T) {
		var requestCount int32
		mux := http.NewServeMux()
		mux.HandleFunc("GET /user/repos", func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			var repos []map[string]any
			switch r.URL.Query().Get("page") {
			case "1":
				for i := 0; i < 100; i++ {
					repos = append(repos, map[string]any{"id": i + 1, "full_name": fmt.Sprintf("acme/repo-%03d", i)})
				}
			case "2":
				for i := 100; i < 105; i++ {
					repos = append(repos, map[string]any{"id": i + 1, "full_name": fmt.Sprintf("acme/repo-%03d", i)})
				}
			}
			data, err := json.Marshal(repos)
			require.NoError(t, err)
			_, _ = w.Write(data)
		})
		mem := store.NewMemory()
		jobs := newTestJobs(t, mux, mem)

		require.NoError(t, jobs.SyncAllRepositories(ctx, ""))

		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount))
		keys, err := mem.ListKeys(ctx, model.KindRepository)
		require.NoError(t, err)
		assert.Len(t, keys, 105)
	})

	t.Run("uses the organization listing when set", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /orgs/acme/repos", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"id": 1, "full_name": "acme/widgets"}]`))
		})
		mem := store.NewMemory()
		jobs := newTestJobs(t, mux, mem)

		require.NoError(t, jobs.SyncAllRepositories(ctx, "acme"))

		exists, err := mem.Exists(ctx, model.KindRepository, "acme/widgets")
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestJobs_QueueHandlers(t *testing.T) {
	t.Run("single-resource handler syncs a webhook payload", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		logger := testLogger()
		mem := store.NewMemory()
		jobs := NewJobs(nil, NewReconciler(mem, logger), logger)

		pool := queue.NewPool(logger, 8)
		jobs.Register(pool)
		go pool.Start(ctx, 2)

		err := pool.Enqueue(ctx, queue.Job{
			Name:    JobSyncOneIssue,
			Queue:   queue.ClassShort,
			Timeout: time.Minute,
			Args: map[string]any{
				"repository":   "acme/widgets",
				"issue_number": 7,
				"payload":      json.RawMessage(`{"id": 1, "number": 7, "title": "Bug", "state": "open"}`),
			},
		})
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			exists, err := mem.Exists(context.Background(), model.KindIssue, "ISSUE-acme/widgets-7")
			return err == nil && exists
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestEnqueueRepositoryData(t *testing.T) {
	var jobs []queue.Job
	q := enqueuerFunc(func(ctx context.Context, job queue.Job) error {
		jobs = append(jobs, job)
		return nil
	})

	require.NoError(t, EnqueueRepositoryData(context.Background(), q, "acme/widgets"))

	require.Len(t, jobs, 3)
	names := []string{jobs[0].Name, jobs[1].Name, jobs[2].Name}
	assert.Equal(t, []string{JobSyncPullRequests, JobSyncReleases, JobSyncIssues}, names)
	for _, job := range jobs {
		assert.Equal(t, queue.ClassLong, job.Queue)
		assert.Equal(t, "acme/widgets", job.Args["repository"])
	}
}

type enqueuerFunc func(ctx context.Context, job queue.Job) error

func (f enqueuerFunc) Enqueue(ctx context.Context, job queue.Job) error { return f(ctx, job) }
