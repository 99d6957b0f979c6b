package trigger

import (
	"context"
	"log/slog"

	"github.com/skyrus-io/skyrus/internal/lib/logger/sl"
	"github.com/skyrus-io/skyrus/internal/model"
)

// RemoteControl mirrors trigger state onto the monitoring system. Implemented
// by the Zabbix RPC client; nil-able for local-only deployments.
type RemoteControl interface {
	UpdateTrigger(ctx context.Context, zabbixID string, enable bool) error
}

// ToggleResult tells the caller whether the change reached the remote mirror
// or only the local store, so the UI can render a degraded-mode warning
// instead of a silent success.
type ToggleResult struct {
	Trigger       model.TriggerState `json:"trigger"`
	Success       bool               `json:"success"`
	ZabbixSuccess bool               `json:"zabbixSuccess"`
	Message       string             `json:"message"`
}

// Service applies toggle requests: remote mirror best-effort, local state
// always.
type Service struct {
	log    *slog.Logger
	store  *Store
	remote RemoteControl
}

func NewService(log *slog.Logger, store *Store, remote RemoteControl) *Service {
	return &Service{
		log:    log,
		store:  store,
		remote: remote,
	}
}

// Toggle enables or disables a trigger. The local state commits regardless of
// the remote outcome; a remote failure only degrades the result.
func (s *Service) Toggle(ctx context.Context, id string, enable bool, value float64) (*ToggleResult, error) {
	t, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}

	remoteOK := false
	if s.remote != nil {
		if err := s.remote.UpdateTrigger(ctx, t.ZabbixID, enable); err != nil {
			s.log.Warn("remote trigger update failed, applying locally only",
				slog.String("trigger_id", id),
				slog.String("zabbix_id", t.ZabbixID),
				sl.Err(err),
			)
		} else {
			remoteOK = true
		}
	}

	t.Apply(enable, value)
	if err := s.store.Set(id, t); err != nil {
		return nil, err
	}

	result := &ToggleResult{
		Trigger:       t,
		Success:       true,
		ZabbixSuccess: remoteOK,
	}
	if remoteOK {
		result.Message = "trigger updated"
	} else {
		result.Message = "trigger updated locally; zabbix mirror not applied"
	}

	s.log.Info("trigger toggled",
		slog.String("trigger_id", id),
		slog.Bool("enabled", enable),
		slog.Bool("zabbix_success", remoteOK),
	)

	return result, nil
}

// Get returns one trigger's local state.
func (s *Service) Get(id string) (model.TriggerState, error) {
	return s.store.Get(id)
}

// All returns every trigger's local state.
func (s *Service) All() map[string]model.TriggerState {
	return s.store.All()
}

// Counts exposes store counts for the health endpoint.
func (s *Service) Counts() (total, enabled int) {
	return s.store.Counts()
}
