// internal/github/organization.go
package github

import (
	"context"
	"fmt"
	"net/http"

	gh "github.com/google/go-github/v62/github"
)

// GetOrganization fetches organization details.
func (c *Client) GetOrganization(ctx context.Context, org string) (*gh.Organization, error) {
	raw, err := c.Do(ctx, http.MethodGet, fmt.Sprintf("orgs/%s", org), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeInto[gh.Organization](raw)
}
