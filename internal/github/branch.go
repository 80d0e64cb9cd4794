// internal/github/branch.go
package github

import (
	"context"
	"fmt"
	"net/http"

	gh "github.com/google/go-github/v62/github"
)

// ListBranches lists branches in a repository. Never returns nil.
func (c *Client) ListBranches(ctx context.Context, owner, repo string, page, perPage int) ([]*gh.Branch, error) {
	endpoint := fmt.Sprintf("repos/%s/%s/branches", owner, repo)
	raw, err := c.Do(ctx, http.MethodGet, endpoint, nil, listQuery(page, perPage))
	if err != nil {
		return nil, err
	}
	return decodeList[gh.Branch](raw)
}

// CreateBranch creates a branch pointing at the head of fromBranch. The
// upstream API has no compound endpoint, so this is a two-step operation:
// read the source ref for its commit SHA, then create the new ref. It is
// not atomic — if the second step fails no branch exists and the whole
// operation has failed; there is no partial state to clean up.
func (c *Client) CreateBranch(ctx context.Context, owner, repo, branch, fromBranch string) (*gh.Reference, error) {
	if fromBranch == "" {
		fromBranch = "main"
	}
	name := fmt.Sprintf("%s/%s:%s", owner, repo, branch)

	sourceRaw, err := c.Do(ctx, http.MethodGet, fmt.Sprintf("repos/%s/%s/git/refs/heads/%s", owner, repo, fromBranch), nil, nil)
	if err != nil {
		c.recordAudit(ctx, "create", "branch", name, nil, nil, err)
		return nil, err
	}
	sourceRef, err := decodeInto[gh.Reference](sourceRaw)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"ref": "refs/heads/" + branch,
		"sha": sourceRef.GetObject().GetSHA(),
	}
	raw, err := c.Do(ctx, http.MethodPost, fmt.Sprintf("repos/%s/%s/git/refs", owner, repo), payload, nil)
	c.recordAudit(ctx, "create", "branch", name, payload, raw, err)
	if err != nil {
		return nil, err
	}
	return decodeInto[gh.Reference](raw)
}

// DeleteBranch deletes a branch ref.
func (c *Client) DeleteBranch(ctx context.Context, owner, repo, branch string) error {
	endpoint := fmt.Sprintf("repos/%s/%s/git/refs/heads/%s", owner, repo, branch)
	_, err := c.Do(ctx, http.MethodDelete, endpoint, nil, nil)
	c.recordAudit(ctx, "delete", "branch", fmt.Sprintf("%s/%s:%s", owner, repo, branch), nil, nil, err)
	return err
}
