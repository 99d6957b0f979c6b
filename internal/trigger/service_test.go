package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyrus-io/skyrus/internal/model"
)

type fakeRemote struct {
	mu      sync.Mutex
	err     error
	updates []struct {
		id     string
		enable bool
	}
}

func (r *fakeRemote) UpdateTrigger(ctx context.Context, zabbixID string, enable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, struct {
		id     string
		enable bool
	}{zabbixID, enable})
	return r.err
}

func TestToggleRemoteApplied(t *testing.T) {
	s, _ := newTestStore(t)
	remote := &fakeRemote{}
	svc := NewService(testLogger(), s, remote)

	result, err := svc.Toggle(context.Background(), "23721", true, 100)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.ZabbixSuccess)
	assert.True(t, result.Trigger.Enabled)
	assert.Equal(t, 100.0, result.Trigger.Value)

	require.Len(t, remote.updates, 1)
	assert.Equal(t, "23721", remote.updates[0].id)
	assert.True(t, remote.updates[0].enable)
}

func TestToggleRemoteUnreachableDegradesToLocal(t *testing.T) {
	s, path := newTestStore(t)
	remote := &fakeRemote{err: errors.New("connection refused")}
	svc := NewService(testLogger(), s, remote)

	result, err := svc.Toggle(context.Background(), "23721", true, 100)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.ZabbixSuccess)
	assert.NotEmpty(t, result.Message)

	// Local state committed and persisted despite the remote failure.
	got, err := svc.Get("23721")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, 100.0, got.Value)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]model.TriggerState
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.True(t, onDisk["23721"].Enabled)
	assert.Equal(t, 100.0, onDisk["23721"].Value)
}

func TestToggleDisableZeroesValueRegardlessOfRemote(t *testing.T) {
	s, _ := newTestStore(t)
	remote := &fakeRemote{err: errors.New("timeout")}
	svc := NewService(testLogger(), s, remote)

	_, err := svc.Toggle(context.Background(), "23724", false, 500)
	require.NoError(t, err)

	got, err := svc.Get("23724")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, 0.0, got.Value)
}

func TestToggleUnknownTrigger(t *testing.T) {
	s, _ := newTestStore(t)
	remote := &fakeRemote{}
	svc := NewService(testLogger(), s, remote)

	_, err := svc.Toggle(context.Background(), "nope", true, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, remote.updates, "no remote call for unknown triggers")
}

func TestToggleWithoutRemote(t *testing.T) {
	s, _ := newTestStore(t)
	svc := NewService(testLogger(), s, nil)

	result, err := svc.Toggle(context.Background(), "23721", true, 1)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.ZabbixSuccess)
}
