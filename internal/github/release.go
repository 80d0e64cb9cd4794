// internal/github/release.go
package github

import (
	"context"
	"fmt"
	"net/http"

	gh "github.com/google/go-github/v62/github"
)

// CreateReleaseOptions are the caller-supplied fields for a new release.
// Name falls back to the tag; unset optional fields are omitted.
type CreateReleaseOptions struct {
	TagName         string
	Name            string
	Body            string
	Draft           bool
	Prerelease      bool
	TargetCommitish string
}

// CreateRelease creates a release for a tag.
func (c *Client) CreateRelease(ctx context.Context, owner, repo string, opts CreateReleaseOptions) (*gh.RepositoryRelease, error) {
	name := opts.Name
	if name == "" {
		name = opts.TagName
	}
	payload := map[string]any{
		"tag_name":   opts.TagName,
		"name":       name,
		"draft":      opts.Draft,
		"prerelease": opts.Prerelease,
	}
	if opts.Body != "" {
		payload["body"] = opts.Body
	}
	if opts.TargetCommitish != "" {
		payload["target_commitish"] = opts.TargetCommitish
	}

	resourceName := fmt.Sprintf("%s/%s:%s", owner, repo, opts.TagName)
	raw, err := c.Do(ctx, http.MethodPost, fmt.Sprintf("repos/%s/%s/releases", owner, repo), payload, nil)
	c.recordAudit(ctx, "create", "release", resourceName, payload, raw, err)
	if err != nil {
		return nil, err
	}
	return decodeInto[gh.RepositoryRelease](raw)
}

// DeleteRelease deletes a release by its API id.
func (c *Client) DeleteRelease(ctx context.Context, owner, repo string, releaseID int64) error {
	endpoint := fmt.Sprintf("repos/%s/%s/releases/%d", owner, repo, releaseID)
	_, err := c.Do(ctx, http.MethodDelete, endpoint, nil, nil)
	c.recordAudit(ctx, "delete", "release", fmt.Sprintf("%s/%s:%d", owner, repo, releaseID), nil, nil, err)
	return err
}

// ListReleases lists releases. Never returns nil.
func (c *Client) ListReleases(ctx context.Context, owner, repo string, page, perPage int) ([]*gh.RepositoryRelease, error) {
	endpoint := fmt.Sprintf("repos/%s/%s/releases", owner, repo)
	raw, err := c.Do(ctx, http.MethodGet, endpoint, nil, listQuery(page, perPage))
	if err != nil {
		return nil, err
	}
	return decodeList[gh.RepositoryRelease](raw)
}
