// internal/github/issue.go
package github

import (
	"context"
	"fmt"
	"net/http"

	gh "github.com/google/go-github/v62/github"
)

// CreateIssueOptions are the caller-supplied fields for a new issue.
type CreateIssueOptions struct {
	Title     string
	Body      string
	Labels    []string
	Assignees []string
}

// CreateIssue opens an issue.
func (c *Client) CreateIssue(ctx context.Context, owner, repo string, opts CreateIssueOptions) (*gh.Issue, error) {
	labels := opts.Labels
	if labels == nil {
		labels = []string{}
	}
	assignees := opts.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	payload := map[string]any{
		"title":     opts.Title,
		"labels":    labels,
		"assignees": assignees,
	}
	if opts.Body != "" {
		payload["body"] = opts.Body
	}

	endpoint := fmt.Sprintf("repos/%s/%s/issues", owner, repo)
	raw, err := c.Do(ctx, http.MethodPost, endpoint, payload, nil)
	if err != nil {
		c.recordAudit(ctx, "create", "issue", owner+"/"+repo, payload, nil, err)
		return nil, err
	}

	issue, err := decodeInto[gh.Issue](raw)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s/%s#%d", owner, repo, issue.GetNumber())
	c.recordAudit(ctx, "create", "issue", name, payload, raw, nil)
	return issue, nil
}

// CloseIssue closes an issue.
func (c *Client) CloseIssue(ctx context.Context, owner, repo string, number int) (*gh.Issue, error) {
	payload := map[string]any{"state": "closed"}
	endpoint := fmt.Sprintf("repos/%s/%s/issues/%d", owner, repo, number)
	name := fmt.Sprintf("%s/%s#%d", owner, repo, number)

	raw, err := c.Do(ctx, http.MethodPatch, endpoint, payload, nil)
	c.recordAudit(ctx, "update", "issue", name, payload, raw, err)
	if err != nil {
		return nil, err
	}
	return decodeInto[gh.Issue](raw)
}

// ListIssues lists issues filtered by state (open, closed, all). The
// upstream endpoint also returns pull requests; callers syncing issues
// must filter on the pull_request marker. Never returns nil.
func (c *Client) ListIssues(ctx context.Context, owner, repo, state string, page, perPage int) ([]*gh.Issue, error) {
	if state == "" {
		state = "open"
	}
	q := listQuery(page, perPage)
	q.Set("state", state)
	raw, err := c.Do(ctx, http.MethodGet, fmt.Sprintf("repos/%s/%s/issues", owner, repo), nil, q)
	if err != nil {
		return nil, err
	}
	return decodeList[gh.Issue](raw)
}
