// internal/github/audit.go
package github

import (
	"context"
	"encoding/json"
	"time"

	"github-manager/internal/model"
)

type principalKey struct{}

// WithPrincipal attaches the acting user to the context; audit entries
// carry it. Background jobs and webhook deliveries run as "system".
func WithPrincipal(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, principalKey{}, user)
}

// PrincipalFrom returns the acting user, defaulting to "system".
func PrincipalFrom(ctx context.Context) string {
	if user, ok := ctx.Value(principalKey{}).(string); ok && user != "" {
		return user
	}
	return "system"
}

// recordAudit appends an entry for a mutating operation. Audit failures are
// logged, never allowed to fail the operation itself.
func (c *Client) recordAudit(ctx context.Context, action, resource, name string, request any, response json.RawMessage, opErr error) {
	if c.audit == nil {
		return
	}

	entry := model.AuditLogEntry{
		ActionType:   action,
		ResourceType: resource,
		ResourceName: name,
		User:         PrincipalFrom(ctx),
		Status:       "success",
		Timestamp:    time.Now().UTC(),
	}
	if request != nil {
		if data, err := json.Marshal(request); err == nil {
			entry.RequestPayload = data
		}
	}
	entry.ResponsePayload = response
	if opErr != nil {
		entry.Status = "failed"
		entry.ErrorMessage = opErr.Error()
	}

	if err := c.audit.Append(ctx, entry); err != nil {
		c.logger.Error("Failed to write audit log entry", "action", action, "resource", resource, "name", name, "error", err)
	}
}
