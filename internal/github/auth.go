// internal/github/auth.go
package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	custom_errors "github-manager/internal/errors"
	"github-manager/internal/store"
)

const (
	// Refresh the cached installation token once it is within this window
	// of its expiry.
	tokenRefreshWindow = 5 * time.Minute

	// Clock-skew tolerance on the App assertion.
	jwtIssuedAtSkew = 60 * time.Second
	jwtLifetime     = 10 * time.Minute
)

// TokenManager exchanges a GitHub App private key for short-lived
// installation access tokens and caches them. It implements
// oauth2.TokenSource. The refresh path is mutex-guarded; a redundant
// refresh is harmless but concurrent callers share one exchange.
type TokenManager struct {
	appID          int64
	installationID int64
	key            *rsa.PrivateKey
	baseURL        string
	httpClient     *http.Client
	state          store.StateStore // optional, records last refresh
	logger         *slog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewTokenManager parses the PEM private key up front: a missing or
// malformed key is fatal and surfaced immediately, never retried.
func NewTokenManager(appID, installationID int64, privateKeyPEM, baseURL string, state store.StateStore, logger *slog.Logger) (*TokenManager, error) {
	if privateKeyPEM == "" {
		return nil, &custom_errors.AuthError{Reason: "private key not configured"}
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, &custom_errors.AuthError{Reason: "private key is not valid PEM-encoded RSA", Err: err}
	}
	return &TokenManager{
		appID:          appID,
		installationID: installationID,
		key:            key,
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: requestTimeout},
		state:          state,
		logger:         logger,
	}, nil
}

// Token implements oauth2.TokenSource.
func (m *TokenManager) Token() (*oauth2.Token, error) {
	return m.AccessToken(context.Background())
}

// AccessToken returns the cached installation token, exchanging a fresh
// App assertion for a new one when the cache is empty or the token is
// within the refresh window of its expiry.
func (m *TokenManager) AccessToken(ctx context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != nil && time.Until(m.token.Expiry) > tokenRefreshWindow {
		return m.token, nil
	}

	assertion, err := m.signAssertion()
	if err != nil {
		return nil, &custom_errors.AuthError{Reason: "failed to sign App assertion", Err: err}
	}

	token, err := m.exchange(ctx, assertion)
	if err != nil {
		return nil, err
	}
	m.token = token

	if m.state != nil {
		if err := m.state.SaveTokenRefresh(ctx, time.Now().UTC()); err != nil {
			m.logger.Warn("Failed to record token refresh", "error", err)
		}
	}
	m.logger.Info("Installation token refreshed", "expires_at", token.Expiry)

	return m.token, nil
}

// signAssertion builds the RS256 App JWT: issued 60 seconds in the past to
// tolerate clock skew, valid for 10 minutes.
func (m *TokenManager) signAssertion() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-jwtIssuedAtSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
		Issuer:    fmt.Sprintf("%d", m.appID),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.key)
}

// exchange trades the signed assertion for an installation access token.
// A non-201 response is an authentication error; retry is the caller's
// concern, not this component's.
func (m *TokenManager) exchange(ctx context.Context, assertion string) (*oauth2.Token, error) {
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", m.baseURL, m.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, &custom_errors.AuthError{Reason: "failed to build token exchange request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &custom_errors.AuthError{Reason: "token exchange request failed", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		m.logger.Error("Failed to get access token", "status", resp.StatusCode, "body", string(body))
		return nil, &custom_errors.AuthError{Reason: fmt.Sprintf("failed to get access token: %d", resp.StatusCode)}
	}

	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &custom_errors.AuthError{Reason: "malformed token exchange response", Err: err}
	}

	return &oauth2.Token{AccessToken: payload.Token, Expiry: payload.ExpiresAt}, nil
}
