package opensky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Credential is a bearer token with its absolute expiry.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the token can still be used at instant now.
func (c *Credential) Valid(now time.Time) bool {
	return c != nil && c.AccessToken != "" && now.Before(c.ExpiresAt)
}

// TokenManager acquires and caches an OAuth2 client-credentials token. The
// mutex is held across the exchange so concurrent callers wait for the one
// in-flight refresh instead of issuing duplicates.
type TokenManager struct {
	log          *slog.Logger
	tokenURL     string
	clientID     string
	clientSecret string
	client       *http.Client

	mu   sync.Mutex
	cred *Credential

	now func() time.Time
}

func NewTokenManager(log *slog.Logger, tokenURL, clientID, clientSecret string, timeout time.Duration) *TokenManager {
	return &TokenManager{
		log:          log,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		client: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// Enabled reports whether OAuth credentials are configured at all.
func (m *TokenManager) Enabled() bool {
	return m.clientID != ""
}

// EnsureToken returns a cached credential while it is still valid, otherwise
// performs the client-credentials exchange. On exchange failure nothing is
// cached and the next call retries.
func (m *TokenManager) EnsureToken(ctx context.Context) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cred.Valid(m.now()) {
		return m.cred, nil
	}

	cred, err := m.exchange(ctx)
	if err != nil {
		m.cred = nil
		return nil, err
	}

	m.cred = cred
	return cred, nil
}

// Invalidate discards the cached credential. Callers do this after a 401 from
// the protected API before retrying exactly once.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.cred = nil
	m.mu.Unlock()
}

func (m *TokenManager) exchange(ctx context.Context) (*Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned empty access_token")
	}

	cred := &Credential{
		AccessToken: payload.AccessToken,
		ExpiresAt:   m.now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}

	m.log.Debug("obtained oauth token",
		slog.Int64("expires_in", payload.ExpiresIn),
	)

	return cred, nil
}
