package opensky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/skyrus-io/skyrus/internal/config"
	"github.com/skyrus-io/skyrus/internal/model"
)

// FetchResult carries the decoded batch of one upstream poll together with
// the HTTP status observed, so cycle metrics can report it even on failure.
type FetchResult struct {
	States     []model.FlightState
	Dropped    int
	StatusCode int
}

// Client polls the OpenSky state-vector API for the configured bounding box.
// Authentication is bearer-token when a TokenManager is supplied, HTTP basic
// when a username is configured, anonymous otherwise.
type Client struct {
	log      *slog.Logger
	baseURL  string
	bbox     config.BoundingBox
	username string
	password string
	tokens   *TokenManager
	client   *http.Client
}

func NewClient(log *slog.Logger, cfg config.OpenSkyConfig, tokens *TokenManager) *Client {
	return &Client{
		log:      log,
		baseURL:  cfg.BaseURL,
		bbox:     cfg.BoundingBox,
		username: cfg.Username,
		password: cfg.Password,
		tokens:   tokens,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// FetchStates performs one poll. On a 401 with bearer auth the cached token
// is invalidated and the request retried exactly once with a fresh one.
func (c *Client) FetchStates(ctx context.Context) (*FetchResult, error) {
	result, err := c.fetchOnce(ctx)

	if err == nil && result.StatusCode == http.StatusUnauthorized && c.oauthActive() {
		c.log.Warn("upstream rejected token, refreshing and retrying once")
		c.tokens.Invalidate()
		result, err = c.fetchOnce(ctx)
	}

	if err != nil {
		return result, err
	}

	if result.StatusCode != http.StatusOK {
		return result, fmt.Errorf("upstream returned status %d", result.StatusCode)
	}

	return result, nil
}

func (c *Client) oauthActive() bool {
	return c.tokens != nil && c.tokens.Enabled()
}

func (c *Client) fetchOnce(ctx context.Context) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return &FetchResult{}, fmt.Errorf("failed to create request: %w", err)
	}

	q := url.Values{}
	q.Set("lamin", formatCoord(c.bbox.LatMin))
	q.Set("lamax", formatCoord(c.bbox.LatMax))
	q.Set("lomin", formatCoord(c.bbox.LonMin))
	q.Set("lomax", formatCoord(c.bbox.LonMax))
	req.URL.RawQuery = q.Encode()

	switch {
	case c.oauthActive():
		cred, err := c.tokens.EnsureToken(ctx)
		if err != nil {
			return &FetchResult{}, fmt.Errorf("failed to obtain token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return &FetchResult{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	result := &FetchResult{StatusCode: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return result, nil
	}

	var payload struct {
		Time   int64   `json:"time"`
		States [][]any `json:"states"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return result, fmt.Errorf("failed to decode response: %w", err)
	}

	result.States, result.Dropped = DecodeAll(payload.States)

	c.log.Debug("fetched state vectors",
		slog.Int("states", len(result.States)),
		slog.Int("dropped", result.Dropped),
		slog.Duration("took", time.Since(start)),
	)

	return result, nil
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
