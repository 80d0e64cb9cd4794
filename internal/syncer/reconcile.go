// internal/syncer/reconcile.go
package syncer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	gh "github.com/google/go-github/v62/github"

	"github-manager/internal/model"
	"github-manager/internal/store"
)

// Reconciler is the single write path into the local mirror. Each sync is
// an upsert keyed by the resource's composite key: repeated calls with an
// identical payload converge to identical record state.
//
// There is no ordering or versioning check: webhook deliveries can arrive
// out of order and a stale payload processed after a newer one overwrites
// newer data with older data. A guard on the upstream updated_at would
// change observable behavior, so the gap stands.
type Reconciler struct {
	records store.RecordStore
	logger  *slog.Logger
	now     func() time.Time
}

func NewReconciler(records store.RecordStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{records: records, logger: logger, now: time.Now}
}

// SyncIssue upserts the local projection of an issue.
func (r *Reconciler) SyncIssue(ctx context.Context, repository string, number int, payload *gh.Issue) (*model.Issue, error) {
	record := IssueFromPayload(repository, payload, r.now().UTC())
	key := model.IssueKey(repository, number)
	if err := r.upsert(ctx, model.KindIssue, key, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// SyncPullRequest upserts the local projection of a pull request.
func (r *Reconciler) SyncPullRequest(ctx context.Context, repository string, number int, payload *gh.PullRequest) (*model.PullRequest, error) {
	record := PullRequestFromPayload(repository, payload, r.now().UTC())
	key := model.PullRequestKey(repository, number)
	if err := r.upsert(ctx, model.KindPullRequest, key, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// SyncRelease upserts the local projection of a release.
func (r *Reconciler) SyncRelease(ctx context.Context, repository, tagName string, payload *gh.RepositoryRelease) (*model.Release, error) {
	record := ReleaseFromPayload(repository, payload, r.now().UTC())
	key := model.ReleaseKey(repository, tagName)
	if err := r.upsert(ctx, model.KindRelease, key, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// SyncRepository upserts the local projection of a repository. The owning
// organization is linked only when an organization record already exists
// locally.
func (r *Reconciler) SyncRepository(ctx context.Context, fullName string, payload *gh.Repository) (*model.Repository, error) {
	organization := ""
	if owner := payload.GetOwner(); owner.GetType() == "Organization" {
		login := owner.GetLogin()
		if login != "" {
			exists, err := r.records.Exists(ctx, model.KindOrganization, model.OrganizationKey(login))
			if err != nil {
				return nil, err
			}
			if exists {
				organization = login
			}
		}
	}

	record := RepositoryFromPayload(payload, organization, r.now().UTC())
	key := model.RepositoryKey(fullName)
	if err := r.upsert(ctx, model.KindRepository, key, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// SyncOrganization upserts the local projection of an organization.
func (r *Reconciler) SyncOrganization(ctx context.Context, login string, payload *gh.Organization) (*model.Organization, error) {
	record := OrganizationFromPayload(login, payload, r.now().UTC())
	key := model.OrganizationKey(login)
	if err := r.upsert(ctx, model.KindOrganization, key, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteRelease removes the local record for a deleted release, if present.
func (r *Reconciler) DeleteRelease(ctx context.Context, repository, tagName string) error {
	return r.deleteIfExists(ctx, model.KindRelease, model.ReleaseKey(repository, tagName))
}

// DeleteRepository removes the local record for a deleted repository, if
// present.
func (r *Reconciler) DeleteRepository(ctx context.Context, fullName string) error {
	return r.deleteIfExists(ctx, model.KindRepository, model.RepositoryKey(fullName))
}

func (r *Reconciler) upsert(ctx context.Context, kind, key string, record any) error {
	exists, err := r.records.Exists(ctx, kind, key)
	if err != nil {
		return err
	}
	if exists {
		return r.records.Update(ctx, kind, key, record)
	}
	return r.records.Create(ctx, kind, key, record)
}

func (r *Reconciler) deleteIfExists(ctx context.Context, kind, key string) error {
	exists, err := r.records.Exists(ctx, kind, key)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	r.logger.Info("Deleting local record", "kind", kind, "key", key)
	return r.records.Delete(ctx, kind, key)
}

// IssueFromPayload projects a GitHub issue payload onto a local record.
func IssueFromPayload(repository string, payload *gh.Issue, now time.Time) model.Issue {
	record := model.Issue{
		IssueID:    payload.GetID(),
		Repository: repository,
		Number:     payload.GetNumber(),
		Title:      payload.GetTitle(),
		Body:       payload.GetBody(),
		URL:        payload.GetHTMLURL(),
		State:      payload.GetState(),
		Author:     payload.GetUser().GetLogin(),
		ClosedBy:   payload.GetClosedBy().GetLogin(),
		Comments:   payload.GetComments(),
		CreatedAt:  timePtr(payload.CreatedAt),
		UpdatedAt:  timePtr(payload.UpdatedAt),
		ClosedAt:   timePtr(payload.ClosedAt),
		IsSynced:   true,
		LastSynced: now,
	}
	if record.State == "" {
		record.State = "open"
	}

	labels := make([]string, 0, len(payload.Labels))
	for _, label := range payload.Labels {
		if name := label.GetName(); name != "" {
			labels = append(labels, name)
		}
	}
	record.Labels = strings.Join(labels, ", ")

	assignees := make([]string, 0, len(payload.Assignees))
	for _, assignee := range payload.Assignees {
		if login := assignee.GetLogin(); login != "" {
			assignees = append(assignees, login)
		}
	}
	record.Assignees = strings.Join(assignees, ", ")

	return record
}

// PullRequestFromPayload projects a GitHub pull request payload onto a
// local record. State becomes "merged" when the upstream merged flag is
// set.
func PullRequestFromPayload(repository string, payload *gh.PullRequest, now time.Time) model.PullRequest {
	record := model.PullRequest{
		PRID:           payload.GetID(),
		Repository:     repository,
		Number:         payload.GetNumber(),
		Title:          payload.GetTitle(),
		Body:           payload.GetBody(),
		URL:            payload.GetHTMLURL(),
		State:          payload.GetState(),
		HeadBranch:     payload.GetHead().GetRef(),
		BaseBranch:     payload.GetBase().GetRef(),
		Author:         payload.GetUser().GetLogin(),
		CreatedAt:      timePtr(payload.CreatedAt),
		UpdatedAt:      timePtr(payload.UpdatedAt),
		Comments:       payload.GetComments(),
		Commits:        payload.GetCommits(),
		Additions:      payload.GetAdditions(),
		Deletions:      payload.GetDeletions(),
		Mergeable:      payload.GetMergeable(),
		MergeableState: payload.GetMergeableState(),
		Draft:          payload.GetDraft(),
		IsSynced:       true,
		LastSynced:     now,
	}
	if record.State == "" {
		record.State = "open"
	}

	if payload.GetMerged() {
		record.State = "merged"
		record.Merged = true
		record.MergedAt = timePtr(payload.MergedAt)
		record.MergedBy = payload.GetMergedBy().GetLogin()
	}

	return record
}

// ReleaseFromPayload projects a GitHub release payload onto a local
// record. The display name falls back to the tag.
func ReleaseFromPayload(repository string, payload *gh.RepositoryRelease, now time.Time) model.Release {
	record := model.Release{
		ReleaseID:       payload.GetID(),
		Repository:      repository,
		TagName:         payload.GetTagName(),
		Name:            payload.GetName(),
		Body:            payload.GetBody(),
		URL:             payload.GetHTMLURL(),
		TargetCommitish: payload.GetTargetCommitish(),
		Draft:           payload.GetDraft(),
		Prerelease:      payload.GetPrerelease(),
		Author:          payload.GetAuthor().GetLogin(),
		CreatedAt:       timePtr(payload.CreatedAt),
		PublishedAt:     timePtr(payload.PublishedAt),
		IsSynced:        true,
		LastSynced:      now,
	}
	if record.Name == "" {
		record.Name = record.TagName
	}
	return record
}

// RepositoryFromPayload projects a GitHub repository payload onto a local
// record. Visibility derives from the private flag.
func RepositoryFromPayload(payload *gh.Repository, organization string, now time.Time) model.Repository {
	record := model.Repository{
		RepoID:        payload.GetID(),
		FullName:      payload.GetFullName(),
		Description:   payload.GetDescription(),
		URL:           payload.GetHTMLURL(),
		CloneURL:      payload.GetCloneURL(),
		DefaultBranch: payload.GetDefaultBranch(),
		Private:       payload.GetPrivate(),
		Stars:         payload.GetStargazersCount(),
		Forks:         payload.GetForksCount(),
		OpenIssues:    payload.GetOpenIssuesCount(),
		Language:      payload.GetLanguage(),
		Size:          payload.GetSize(),
		Archived:      payload.GetArchived(),
		Organization:  organization,
		CreatedAt:     timePtr(payload.CreatedAt),
		IsSynced:      true,
		LastSynced:    now,
	}
	if record.DefaultBranch == "" {
		record.DefaultBranch = "main"
	}
	if record.Private {
		record.Visibility = "private"
	} else {
		record.Visibility = "public"
	}
	return record
}

// OrganizationFromPayload projects a GitHub organization payload onto a
// local record.
func OrganizationFromPayload(login string, payload *gh.Organization, now time.Time) model.Organization {
	return model.Organization{
		OrgID:       payload.GetID(),
		Login:       login,
		Description: payload.GetDescription(),
		AvatarURL:   payload.GetAvatarURL(),
		URL:         payload.GetHTMLURL(),
		IsSynced:    true,
		LastSynced:  now,
	}
}

func timePtr(ts *gh.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}
	t := ts.Time
	return &t
}
