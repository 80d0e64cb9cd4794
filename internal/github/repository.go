// internal/github/repository.go
package github

import (
	"context"
	"fmt"
	"net/http"

	gh "github.com/google/go-github/v62/github"
)

// CreateRepositoryOptions are the caller-supplied fields for a new
// repository. Unset optional fields are omitted from the API payload.
type CreateRepositoryOptions struct {
	Name        string
	Description string
	Private     bool
	Org         string // create under an organization when set
	AutoInit    bool
}

// CreateRepository creates a repository under the App's user or, when Org
// is set, under that organization.
func (c *Client) CreateRepository(ctx context.Context, opts CreateRepositoryOptions) (*gh.Repository, error) {
	payload := map[string]any{
		"name":      opts.Name,
		"private":   opts.Private,
		"auto_init": opts.AutoInit,
	}
	if opts.Description != "" {
		payload["description"] = opts.Description
	}

	endpoint := "user/repos"
	if opts.Org != "" {
		endpoint = fmt.Sprintf("orgs/%s/repos", opts.Org)
	}

	raw, err := c.Do(ctx, http.MethodPost, endpoint, payload, nil)
	if err != nil {
		c.recordAudit(ctx, "create", "repository", opts.Name, payload, nil, err)
		return nil, err
	}

	repo, err := decodeInto[gh.Repository](raw)
	if err != nil {
		return nil, err
	}
	c.recordAudit(ctx, "create", "repository", repo.GetFullName(), payload, raw, nil)
	return repo, nil
}

// DeleteRepository deletes a repository.
func (c *Client) DeleteRepository(ctx context.Context, owner, repo string) error {
	endpoint := fmt.Sprintf("repos/%s/%s", owner, repo)
	_, err := c.Do(ctx, http.MethodDelete, endpoint, nil, nil)
	c.recordAudit(ctx, "delete", "repository", owner+"/"+repo, nil, nil, err)
	return err
}

// GetRepository fetches repository details.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*gh.Repository, error) {
	raw, err := c.Do(ctx, http.MethodGet, fmt.Sprintf("repos/%s/%s", owner, repo), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeInto[gh.Repository](raw)
}

// ListRepositories lists repositories for the App's user or, when org is
// set, for that organization. Never returns nil.
func (c *Client) ListRepositories(ctx context.Context, org string, page, perPage int) ([]*gh.Repository, error) {
	endpoint := "user/repos"
	if org != "" {
		endpoint = fmt.Sprintf("orgs/%s/repos", org)
	}
	raw, err := c.Do(ctx, http.MethodGet, endpoint, nil, listQuery(page, perPage))
	if err != nil {
		return nil, err
	}
	return decodeList[gh.Repository](raw)
}
