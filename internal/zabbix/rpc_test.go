package zabbix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeZabbixAPI is a minimal JSON-RPC endpoint with session bookkeeping.
type fakeZabbixAPI struct {
	mu           sync.Mutex
	logins       int
	updates      []map[string]any
	validSession string
	failLogin    bool
}

func (f *fakeZabbixAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
			Auth   string          `json:"auth"`
			ID     int64           `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		f.mu.Lock()
		defer f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")

		switch req.Method {
		case "user.login":
			f.logins++
			if f.failLogin {
				fmt.Fprintf(w, `{"jsonrpc":"2.0","error":{"code":-32602,"message":"Login name or password is incorrect.","data":""},"id":%d}`, req.ID)
				return
			}
			f.validSession = fmt.Sprintf("session-%d", f.logins)
			fmt.Fprintf(w, `{"jsonrpc":"2.0","result":%q,"id":%d}`, f.validSession, req.ID)
		case "trigger.update":
			if req.Auth != f.validSession {
				fmt.Fprintf(w, `{"jsonrpc":"2.0","error":{"code":-32602,"message":"Not authorised.","data":"Session terminated, re-login, please."},"id":%d}`, req.ID)
				return
			}
			var params map[string]any
			require.NoError(t, json.Unmarshal(req.Params, &params))
			f.updates = append(f.updates, params)
			fmt.Fprintf(w, `{"jsonrpc":"2.0","result":{"triggerids":["23721"]},"id":%d}`, req.ID)
		case "trigger.get":
			if req.Auth != f.validSession {
				fmt.Fprintf(w, `{"jsonrpc":"2.0","error":{"code":-32602,"message":"Not authorised.","data":""},"id":%d}`, req.ID)
				return
			}
			fmt.Fprintf(w, `{"jsonrpc":"2.0","result":[{"triggerid":"23721","description":"Emergency squawk detected","status":"0"}],"id":%d}`, req.ID)
		case "apiinfo.version":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","result":"6.0.0","id":%d}`, req.ID)
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
	}
}

func (f *fakeZabbixAPI) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeZabbixAPI) expireSession() {
	f.mu.Lock()
	f.validSession = "expired"
	f.mu.Unlock()
}

func newRPCFixture(t *testing.T) (*fakeZabbixAPI, *RPCClient) {
	api := &fakeZabbixAPI{}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return api, NewRPCClient(testLogger(), srv.URL, "Admin", "zabbix", time.Second)
}

func TestUpdateTriggerLogsInOnce(t *testing.T) {
	api, client := newRPCFixture(t)

	require.NoError(t, client.UpdateTrigger(context.Background(), "23721", true))
	require.NoError(t, client.UpdateTrigger(context.Background(), "23721", false))

	assert.Equal(t, 1, api.loginCount(), "session is cached across calls")

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.updates, 2)
	assert.Equal(t, "23721", api.updates[0]["triggerid"])
	assert.Equal(t, float64(0), api.updates[0]["status"], "enabled maps to status 0")
	assert.Equal(t, float64(1), api.updates[1]["status"], "disabled maps to status 1")
}

func TestUpdateTriggerRetriesOnceOnStaleSession(t *testing.T) {
	api, client := newRPCFixture(t)

	require.NoError(t, client.UpdateTrigger(context.Background(), "23721", true))
	api.expireSession()

	require.NoError(t, client.UpdateTrigger(context.Background(), "23721", true))
	assert.Equal(t, 2, api.loginCount(), "stale session triggers exactly one re-login")
}

func TestUpdateTriggerLoginFailure(t *testing.T) {
	api, client := newRPCFixture(t)
	api.failLogin = true

	err := client.UpdateTrigger(context.Background(), "23721", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")
}

func TestUpdateTriggerUnreachable(t *testing.T) {
	client := NewRPCClient(testLogger(), "http://127.0.0.1:1/api_jsonrpc.php", "Admin", "zabbix", 200*time.Millisecond)

	err := client.UpdateTrigger(context.Background(), "23721", true)
	require.Error(t, err)
}

func TestGetTrigger(t *testing.T) {
	_, client := newRPCFixture(t)

	info, err := client.GetTrigger(context.Background(), "23721")
	require.NoError(t, err)
	assert.Equal(t, "23721", info.ID)
	assert.Equal(t, "Emergency squawk detected", info.Description)
	assert.True(t, info.Enabled)
}

func TestPing(t *testing.T) {
	_, client := newRPCFixture(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestSessionStale(t *testing.T) {
	assert.True(t, sessionStale(&rpcError{Message: "Not authorised.", Data: ""}))
	assert.True(t, sessionStale(&rpcError{Message: "", Data: "Session terminated, re-login, please."}))
	assert.False(t, sessionStale(&rpcError{Message: "Invalid params.", Data: ""}))
	assert.False(t, sessionStale(fmt.Errorf("network down")))
}
