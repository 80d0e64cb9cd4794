// internal/github/pullrequest.go
package github

import (
	"context"
	"fmt"
	"net/http"

	gh "github.com/google/go-github/v62/github"
)

// CreatePullRequestOptions are the caller-supplied fields for a new pull
// request.
type CreatePullRequestOptions struct {
	Title string
	Head  string
	Base  string
	Body  string
	Draft bool
}

// CreatePullRequest opens a pull request.
func (c *Client) CreatePullRequest(ctx context.Context, owner, repo string, opts CreatePullRequestOptions) (*gh.PullRequest, error) {
	payload := map[string]any{
		"title": opts.Title,
		"head":  opts.Head,
		"base":  opts.Base,
		"draft": opts.Draft,
	}
	if opts.Body != "" {
		payload["body"] = opts.Body
	}

	endpoint := fmt.Sprintf("repos/%s/%s/pulls", owner, repo)
	raw, err := c.Do(ctx, http.MethodPost, endpoint, payload, nil)
	if err != nil {
		c.recordAudit(ctx, "create", "pull_request", owner+"/"+repo, payload, nil, err)
		return nil, err
	}

	pr, err := decodeInto[gh.PullRequest](raw)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s/%s#%d", owner, repo, pr.GetNumber())
	c.recordAudit(ctx, "create", "pull_request", name, payload, raw, nil)
	return pr, nil
}

// MergePullRequest merges a pull request using the given method (merge,
// squash or rebase).
func (c *Client) MergePullRequest(ctx context.Context, owner, repo string, number int, mergeMethod string) (*gh.PullRequestMergeResult, error) {
	if mergeMethod == "" {
		mergeMethod = "merge"
	}
	payload := map[string]any{"merge_method": mergeMethod}
	endpoint := fmt.Sprintf("repos/%s/%s/pulls/%d/merge", owner, repo, number)
	name := fmt.Sprintf("%s/%s#%d", owner, repo, number)

	raw, err := c.Do(ctx, http.MethodPut, endpoint, payload, nil)
	c.recordAudit(ctx, "merge", "pull_request", name, payload, raw, err)
	if err != nil {
		return nil, err
	}
	return decodeInto[gh.PullRequestMergeResult](raw)
}

// ClosePullRequest closes a pull request without merging.
func (c *Client) ClosePullRequest(ctx context.Context, owner, repo string, number int) (*gh.PullRequest, error) {
	payload := map[string]any{"state": "closed"}
	endpoint := fmt.Sprintf("repos/%s/%s/pulls/%d", owner, repo, number)
	name := fmt.Sprintf("%s/%s#%d", owner, repo, number)

	raw, err := c.Do(ctx, http.MethodPatch, endpoint, payload, nil)
	c.recordAudit(ctx, "update", "pull_request", name, payload, raw, err)
	if err != nil {
		return nil, err
	}
	return decodeInto[gh.PullRequest](raw)
}

// GetPullRequest fetches pull request details.
func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*gh.PullRequest, error) {
	endpoint := fmt.Sprintf("repos/%s/%s/pulls/%d", owner, repo, number)
	raw, err := c.Do(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeInto[gh.PullRequest](raw)
}

// ListPullRequests lists pull requests filtered by state (open, closed,
// all). Never returns nil.
func (c *Client) ListPullRequests(ctx context.Context, owner, repo, state string, page, perPage int) ([]*gh.PullRequest, error) {
	if state == "" {
		state = "open"
	}
	q := listQuery(page, perPage)
	q.Set("state", state)
	raw, err := c.Do(ctx, http.MethodGet, fmt.Sprintf("repos/%s/%s/pulls", owner, repo), nil, q)
	if err != nil {
		return nil, err
	}
	return decodeList[gh.PullRequest](raw)
}
