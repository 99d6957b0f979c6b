package zabbix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Trigger status values in the Zabbix API: 0 is enabled, 1 is disabled.
const (
	triggerStatusEnabled  = 0
	triggerStatusDisabled = 1
)

// RPCClient talks to the Zabbix JSON-RPC API. The session token from
// user.login is cached under a mutex; a stale-session error clears it and the
// failing call is retried exactly once after re-login.
type RPCClient struct {
	log      *slog.Logger
	url      string
	user     string
	password string
	client   *http.Client

	mu      sync.Mutex
	session string

	nextID atomic.Int64
}

func NewRPCClient(log *slog.Logger, url, user, password string, timeout time.Duration) *RPCClient {
	return &RPCClient{
		log:      log,
		url:      url,
		user:     user,
		password: password,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	Auth    string `json:"auth,omitempty"`
	ID      int64  `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("zabbix api error %d: %s %s", e.Code, e.Message, e.Data)
}

// sessionStale reports whether the API rejected our cached auth token.
func sessionStale(err error) bool {
	rpcErr, ok := err.(*rpcError)
	if !ok {
		return false
	}
	text := rpcErr.Message + " " + rpcErr.Data
	return strings.Contains(text, "re-login") ||
		strings.Contains(text, "Not authorised") ||
		strings.Contains(text, "Not authorized") ||
		strings.Contains(text, "Session terminated")
}

func (c *RPCClient) call(ctx context.Context, method string, params any, auth string, result any) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		Auth:    auth,
		ID:      c.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json-rpc")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc call %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc call %s returned status %d", method, resp.StatusCode)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode rpc response: %w", err)
	}

	if envelope.Error != nil {
		return envelope.Error
	}
	if envelope.Result == nil {
		return fmt.Errorf("rpc call %s returned no result", method)
	}

	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("failed to decode rpc result: %w", err)
		}
	}
	return nil
}

// ensureSession returns the cached session token, logging in if needed. The
// mutex is held across login so concurrent callers share one attempt.
func (c *RPCClient) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != "" {
		return c.session, nil
	}

	var token string
	err := c.call(ctx, "user.login", map[string]string{
		"user":     c.user,
		"password": c.password,
	}, "", &token)
	if err != nil {
		return "", fmt.Errorf("zabbix login failed: %w", err)
	}

	c.session = token
	c.log.Debug("zabbix session established")
	return token, nil
}

func (c *RPCClient) clearSession() {
	c.mu.Lock()
	c.session = ""
	c.mu.Unlock()
}

// withSession runs fn with a valid session, retrying exactly once after
// re-login when the cached session turns out to be stale.
func (c *RPCClient) withSession(ctx context.Context, fn func(auth string) error) error {
	auth, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}

	err = fn(auth)
	if err == nil || !sessionStale(err) {
		return err
	}

	c.log.Warn("zabbix session stale, re-authenticating")
	c.clearSession()

	auth, err = c.ensureSession(ctx)
	if err != nil {
		return err
	}
	return fn(auth)
}

// UpdateTrigger mirrors a trigger's enabled state onto Zabbix.
func (c *RPCClient) UpdateTrigger(ctx context.Context, zabbixID string, enable bool) error {
	status := triggerStatusDisabled
	if enable {
		status = triggerStatusEnabled
	}

	return c.withSession(ctx, func(auth string) error {
		var result struct {
			TriggerIDs []string `json:"triggerids"`
		}
		return c.call(ctx, "trigger.update", map[string]any{
			"triggerid": zabbixID,
			"status":    status,
		}, auth, &result)
	})
}

// TriggerInfo is the remote view of one trigger.
type TriggerInfo struct {
	ID          string
	Description string
	Enabled     bool
}

// GetTrigger reads a trigger's current state from Zabbix.
func (c *RPCClient) GetTrigger(ctx context.Context, zabbixID string) (*TriggerInfo, error) {
	var info *TriggerInfo

	err := c.withSession(ctx, func(auth string) error {
		var result []struct {
			TriggerID   string `json:"triggerid"`
			Description string `json:"description"`
			Status      string `json:"status"`
		}
		if err := c.call(ctx, "trigger.get", map[string]any{
			"triggerids": []string{zabbixID},
			"output":     []string{"triggerid", "description", "status"},
		}, auth, &result); err != nil {
			return err
		}
		if len(result) == 0 {
			return fmt.Errorf("trigger %s not found", zabbixID)
		}
		info = &TriggerInfo{
			ID:          result[0].TriggerID,
			Description: result[0].Description,
			Enabled:     result[0].Status == "0",
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Ping checks API reachability without consuming a session.
func (c *RPCClient) Ping(ctx context.Context) error {
	var version string
	if err := c.call(ctx, "apiinfo.version", []any{}, "", &version); err != nil {
		return fmt.Errorf("zabbix api unreachable: %w", err)
	}
	return nil
}
