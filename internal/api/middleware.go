// internal/api/middleware.go
package api

import (
	"net/http"
	"strings"

	"github-manager/internal/github"
)

// Roles gating the management endpoints.
const (
	RoleAdmin      = "admin"
	RoleMaintainer = "maintainer"
	RoleViewer     = "viewer"
)

// RoleChecker is the permission-gate collaborator: it resolves the caller
// of a request to a role, or none.
type RoleChecker interface {
	Role(r *http.Request) (string, bool)
}

// TokenRoles resolves bearer tokens to roles from static configuration.
type TokenRoles map[string]string

// NewTokenRoles builds the token→role table from per-role token lists.
func NewTokenRoles(adminTokens, maintainerTokens, viewerTokens []string) TokenRoles {
	roles := TokenRoles{}
	for _, t := range viewerTokens {
		roles[t] = RoleViewer
	}
	for _, t := range maintainerTokens {
		roles[t] = RoleMaintainer
	}
	for _, t := range adminTokens {
		roles[t] = RoleAdmin
	}
	return roles
}

func (tr TokenRoles) Role(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	role, ok := tr[token]
	return role, ok
}

// requireAnyRole rejects callers whose role is not in the listed set. The
// resolved role becomes the acting principal on the request context.
func requireAnyRole(checker RoleChecker, roles ...string) func(http.Handler) http.Handler {
	allowed := map[string]bool{}
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := checker.Role(r)
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "Missing or unknown bearer token")
				return
			}
			if !allowed[role] {
				respondWithError(w, http.StatusForbidden, "Insufficient role for this operation")
				return
			}
			next.ServeHTTP(w, r.WithContext(github.WithPrincipal(r.Context(), role)))
		})
	}
}
