// internal/model/models.go
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record kinds stored in the local mirror.
const (
	KindRepository   = "repository"
	KindPullRequest  = "pull_request"
	KindIssue        = "issue"
	KindRelease      = "release"
	KindOrganization = "organization"
	KindBranch       = "branch"
)

// Composite keys derived from each resource's natural key. At most one
// record exists per key; sync is an upsert against it.

func IssueKey(repository string, number int) string {
	return fmt.Sprintf("ISSUE-%s-%d", repository, number)
}

func PullRequestKey(repository string, number int) string {
	return fmt.Sprintf("PR-%s-%d", repository, number)
}

func ReleaseKey(repository, tag string) string {
	return fmt.Sprintf("REL-%s-%s", repository, tag)
}

func RepositoryKey(fullName string) string { return fullName }

func OrganizationKey(login string) string { return login }

// Repository is the local projection of a GitHub repository.
type Repository struct {
	RepoID        int64      `json:"repo_id"`
	FullName      string     `json:"full_name"`
	Description   string     `json:"description,omitempty"`
	URL           string     `json:"url"`
	CloneURL      string     `json:"clone_url,omitempty"`
	DefaultBranch string     `json:"default_branch"`
	Private       bool       `json:"private"`
	Visibility    string     `json:"visibility"`
	Stars         int        `json:"stars"`
	Forks         int        `json:"forks"`
	OpenIssues    int        `json:"open_issues"`
	Language      string     `json:"language,omitempty"`
	Size          int        `json:"size"`
	Archived      bool       `json:"archived"`
	Organization  string     `json:"organization,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	IsSynced      bool       `json:"is_synced"`
	LastSynced    time.Time  `json:"last_synced"`
}

// PullRequest is the local projection of a GitHub pull request. State is
// "merged" when the upstream merged flag is set, regardless of the raw state.
type PullRequest struct {
	PRID           int64      `json:"pr_id"`
	Repository     string     `json:"repository"`
	Number         int        `json:"number"`
	Title          string     `json:"title"`
	Body           string     `json:"body,omitempty"`
	URL            string     `json:"url"`
	State          string     `json:"state"`
	Merged         bool       `json:"merged"`
	MergedAt       *time.Time `json:"merged_at,omitempty"`
	MergedBy       string     `json:"merged_by,omitempty"`
	HeadBranch     string     `json:"head_branch"`
	BaseBranch     string     `json:"base_branch"`
	Author         string     `json:"author"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
	Comments       int        `json:"comments"`
	Commits        int        `json:"commits"`
	Additions      int        `json:"additions"`
	Deletions      int        `json:"deletions"`
	Mergeable      bool       `json:"mergeable"`
	MergeableState string     `json:"mergeable_state,omitempty"`
	Draft          bool       `json:"draft"`
	IsSynced       bool       `json:"is_synced"`
	LastSynced     time.Time  `json:"last_synced"`
}

// Issue is the local projection of a GitHub issue.
type Issue struct {
	IssueID    int64      `json:"issue_id"`
	Repository string     `json:"repository"`
	Number     int        `json:"number"`
	Title      string     `json:"title"`
	Body       string     `json:"body,omitempty"`
	URL        string     `json:"url"`
	State      string     `json:"state"`
	Labels     string     `json:"labels,omitempty"`    // comma-joined label names
	Assignees  string     `json:"assignees,omitempty"` // comma-joined logins
	Author     string     `json:"author"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	ClosedBy   string     `json:"closed_by,omitempty"`
	Comments   int        `json:"comments"`
	IsSynced   bool       `json:"is_synced"`
	LastSynced time.Time  `json:"last_synced"`
}

// Release is the local projection of a GitHub release.
type Release struct {
	ReleaseID       int64      `json:"release_id"`
	Repository      string     `json:"repository"`
	TagName         string     `json:"tag_name"`
	Name            string     `json:"name"` // falls back to the tag
	Body            string     `json:"body,omitempty"`
	URL             string     `json:"url"`
	TargetCommitish string     `json:"target_commitish,omitempty"`
	Draft           bool       `json:"draft"`
	Prerelease      bool       `json:"prerelease"`
	Author          string     `json:"author"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	IsSynced        bool       `json:"is_synced"`
	LastSynced      time.Time  `json:"last_synced"`
}

// Organization is the local projection of a GitHub organization.
type Organization struct {
	OrgID       int64     `json:"org_id"`
	Login       string    `json:"login"`
	Description string    `json:"description,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	URL         string    `json:"url"`
	IsSynced    bool      `json:"is_synced"`
	LastSynced  time.Time `json:"last_synced"`
}

// AuditLogEntry records one mutating or listing operation against GitHub.
// Entries are append-only and never mutated.
type AuditLogEntry struct {
	ActionType      string          `json:"action_type"` // create, update, delete, merge, sync
	ResourceType    string          `json:"resource_type"`
	ResourceName    string          `json:"resource_name"`
	User            string          `json:"user"`
	Status          string          `json:"status"` // success, failed
	RequestPayload  json.RawMessage `json:"request_payload,omitempty"`
	ResponsePayload json.RawMessage `json:"response_payload,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// RateLimitState is the last-observed quota, last-writer-wins.
type RateLimitState struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}
