// internal/syncer/jobs.go
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gh "github.com/google/go-github/v62/github"

	custom_errors "github-manager/internal/errors"
	"github-manager/internal/github"
	"github-manager/internal/queue"
)

// Pages of this size are fetched until a short page signals the end.
const syncPageSize = 100

// Job names, stable across enqueuers and workers.
const (
	JobSyncAllRepositories = "github_sync_repositories"
	JobSyncPullRequests    = "github_sync_prs"
	JobSyncReleases        = "github_sync_releases"
	JobSyncIssues          = "github_sync_issues"
	JobSyncOnePullRequest  = "github_sync_pr"
	JobSyncOneRelease      = "github_sync_release"
	JobSyncOneIssue        = "github_sync_issue"
	JobSyncOneRepository   = "github_sync_repository"
)

// Jobs bundles the bulk and single-resource sync jobs that run on the task
// queue. Bulk jobs page through upstream listings and continue past
// individual item failures; only whole-job setup errors abort.
type Jobs struct {
	client *github.Client
	rec    *Reconciler
	logger *slog.Logger
}

func NewJobs(client *github.Client, rec *Reconciler, logger *slog.Logger) *Jobs {
	return &Jobs{client: client, rec: rec, logger: logger}
}

// Register binds every job handler onto the pool.
func (j *Jobs) Register(pool *queue.Pool) {
	pool.Register(JobSyncAllRepositories, func(ctx context.Context, args map[string]any) error {
		org, _ := queue.StringArg(args, "organization")
		return j.SyncAllRepositories(ctx, org)
	})
	pool.Register(JobSyncPullRequests, func(ctx context.Context, args map[string]any) error {
		repository, err := queue.StringArg(args, "repository")
		if err != nil {
			return err
		}
		state, _ := queue.StringArg(args, "state")
		return j.SyncRepositoryPullRequests(ctx, repository, state)
	})
	pool.Register(JobSyncReleases, func(ctx context.Context, args map[string]any) error {
		repository, err := queue.StringArg(args, "repository")
		if err != nil {
			return err
		}
		return j.SyncRepositoryReleases(ctx, repository)
	})
	pool.Register(JobSyncIssues, func(ctx context.Context, args map[string]any) error {
		repository, err := queue.StringArg(args, "repository")
		if err != nil {
			return err
		}
		state, _ := queue.StringArg(args, "state")
		return j.SyncRepositoryIssues(ctx, repository, state)
	})
	pool.Register(JobSyncOnePullRequest, func(ctx context.Context, args map[string]any) error {
		repository, err := queue.StringArg(args, "repository")
		if err != nil {
			return err
		}
		number, err := queue.IntArg(args, "pr_number")
		if err != nil {
			return err
		}
		var payload gh.PullRequest
		if err := unmarshalPayloadArg(args, &payload); err != nil {
			return err
		}
		_, err = j.rec.SyncPullRequest(ctx, repository, number, &payload)
		return err
	})
	pool.Register(JobSyncOneRelease, func(ctx context.Context, args map[string]any) error {
		repository, err := queue.StringArg(args, "repository")
		if err != nil {
			return err
		}
		tagName, err := queue.StringArg(args, "tag_name")
		if err != nil {
			return err
		}
		var payload gh.RepositoryRelease
		if err := unmarshalPayloadArg(args, &payload); err != nil {
			return err
		}
		_, err = j.rec.SyncRelease(ctx, repository, tagName, &payload)
		return err
	})
	pool.Register(JobSyncOneIssue, func(ctx context.Context, args map[string]any) error {
		repository, err := queue.StringArg(args, "repository")
		if err != nil {
			return err
		}
		number, err := queue.IntArg(args, "issue_number")
		if err != nil {
			return err
		}
		var payload gh.Issue
		if err := unmarshalPayloadArg(args, &payload); err != nil {
			return err
		}
		_, err = j.rec.SyncIssue(ctx, repository, number, &payload)
		return err
	})
	pool.Register(JobSyncOneRepository, func(ctx context.Context, args map[string]any) error {
		repository, err := queue.StringArg(args, "repository")
		if err != nil {
			return err
		}
		var payload gh.Repository
		if err := unmarshalPayloadArg(args, &payload); err != nil {
			return err
		}
		_, err = j.rec.SyncRepository(ctx, repository, &payload)
		return err
	})
}

// SyncAllRepositories pages through the repository listing and syncs each
// one, skipping items that fail.
func (j *Jobs) SyncAllRepositories(ctx context.Context, organization string) error {
	logger := j.logger.With("job", JobSyncAllRepositories, "organization", organization)

	totalSynced := 0
	for page := 1; ; page++ {
		repos, err := j.client.ListRepositories(ctx, organization, page, syncPageSize)
		if err != nil {
			return fmt.Errorf("list repositories page %d: %w", page, err)
		}
		if len(repos) == 0 {
			break
		}

		for _, repo := range repos {
			if _, err := j.rec.SyncRepository(ctx, repo.GetFullName(), repo); err != nil {
				logger.Error("Failed to sync repository", "repository", repo.GetFullName(), "error", err)
				continue
			}
			totalSynced++
		}

		if len(repos) < syncPageSize {
			break
		}
	}

	logger.Info("Repository sync finished", "synced", totalSynced)
	return nil
}

// SyncRepositoryPullRequests pages through a repository's pull requests
// and syncs each one.
func (j *Jobs) SyncRepositoryPullRequests(ctx context.Context, repository, state string) error {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return err
	}
	if state == "" {
		state = "all"
	}
	logger := j.logger.With("job", JobSyncPullRequests, "repository", repository, "state", state)

	totalSynced := 0
	for page := 1; ; page++ {
		prs, err := j.client.ListPullRequests(ctx, owner, repo, state, page, syncPageSize)
		if err != nil {
			return fmt.Errorf("list pull requests page %d: %w", page, err)
		}
		if len(prs) == 0 {
			break
		}

		for _, pr := range prs {
			if _, err := j.rec.SyncPullRequest(ctx, repository, pr.GetNumber(), pr); err != nil {
				logger.Error("Failed to sync pull request", "number", pr.GetNumber(), "error", err)
				continue
			}
			totalSynced++
		}

		if len(prs) < syncPageSize {
			break
		}
	}

	logger.Info("Pull request sync finished", "synced", totalSynced)
	return nil
}

// SyncRepositoryReleases pages through a repository's releases and syncs
// each one.
func (j *Jobs) SyncRepositoryReleases(ctx context.Context, repository string) error {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return err
	}
	logger := j.logger.With("job", JobSyncReleases, "repository", repository)

	totalSynced := 0
	for page := 1; ; page++ {
		releases, err := j.client.ListReleases(ctx, owner, repo, page, syncPageSize)
		if err != nil {
			return fmt.Errorf("list releases page %d: %w", page, err)
		}
		if len(releases) == 0 {
			break
		}

		for _, release := range releases {
			if _, err := j.rec.SyncRelease(ctx, repository, release.GetTagName(), release); err != nil {
				logger.Error("Failed to sync release", "tag", release.GetTagName(), "error", err)
				continue
			}
			totalSynced++
		}

		if len(releases) < syncPageSize {
			break
		}
	}

	logger.Info("Release sync finished", "synced", totalSynced)
	return nil
}

// SyncRepositoryIssues pages through a repository's issues and syncs each
// one. The upstream endpoint returns pull requests as issues; those carry
// a pull_request marker and are filtered out here.
func (j *Jobs) SyncRepositoryIssues(ctx context.Context, repository, state string) error {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return err
	}
	if state == "" {
		state = "all"
	}
	logger := j.logger.With("job", JobSyncIssues, "repository", repository, "state", state)

	totalSynced := 0
	for page := 1; ; page++ {
		issues, err := j.client.ListIssues(ctx, owner, repo, state, page, syncPageSize)
		if err != nil {
			return fmt.Errorf("list issues page %d: %w", page, err)
		}
		if len(issues) == 0 {
			break
		}

		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			if _, err := j.rec.SyncIssue(ctx, repository, issue.GetNumber(), issue); err != nil {
				logger.Error("Failed to sync issue", "number", issue.GetNumber(), "error", err)
				continue
			}
			totalSynced++
		}

		if len(issues) < syncPageSize {
			break
		}
	}

	logger.Info("Issue sync finished", "synced", totalSynced)
	return nil
}

// EnqueueRepositoryData submits the three bulk jobs covering one
// repository's pull requests, releases and issues.
func EnqueueRepositoryData(ctx context.Context, q queue.Enqueuer, repository string) error {
	jobs := []queue.Job{
		{Name: JobSyncPullRequests, Queue: queue.ClassLong, Timeout: 30 * time.Minute,
			Args: map[string]any{"repository": repository, "state": "all"}},
		{Name: JobSyncReleases, Queue: queue.ClassLong, Timeout: 30 * time.Minute,
			Args: map[string]any{"repository": repository}},
		{Name: JobSyncIssues, Queue: queue.ClassLong, Timeout: 30 * time.Minute,
			Args: map[string]any{"repository": repository, "state": "all"}},
	}
	for _, job := range jobs {
		if err := q.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func splitRepository(repository string) (owner, repo string, err error) {
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &custom_errors.ErrInvalidRepoFormat{Repo: repository}
	}
	return parts[0], parts[1], nil
}

func unmarshalPayloadArg(args map[string]any, out any) error {
	switch v := args["payload"].(type) {
	case json.RawMessage:
		return json.Unmarshal(v, out)
	case []byte:
		return json.Unmarshal(v, out)
	case string:
		return json.Unmarshal([]byte(v), out)
	default:
		return fmt.Errorf("job argument \"payload\" is not JSON (got %T)", args["payload"])
	}
}
