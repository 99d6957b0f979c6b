package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/skyrus-io/skyrus/internal/model"
)

// ErrNotFound is returned for unknown trigger ids.
var ErrNotFound = errors.New("trigger not found")

// defaultTriggers seeds the store on first load. Keys are the local trigger
// ids, which double as the Zabbix trigger ids for the stock alert set.
func defaultTriggers() map[string]model.TriggerState {
	return map[string]model.TriggerState{
		"23721": {Name: "Emergency squawk detected", Enabled: false, Value: 0, ZabbixID: "23721"},
		"23722": {Name: "Hijack squawk detected", Enabled: false, Value: 0, ZabbixID: "23722"},
		"23723": {Name: "Radio failure squawk detected", Enabled: false, Value: 0, ZabbixID: "23723"},
		"23724": {Name: "Flight data stale", Enabled: true, Value: 300, ZabbixID: "23724"},
	}
}

// Store is the durable local cache of trigger states: a single JSON object
// mapping id to state, rewritten in full on every save.
type Store struct {
	log  *slog.Logger
	path string

	mu       sync.RWMutex
	triggers map[string]model.TriggerState
}

func NewStore(log *slog.Logger, path string) (*Store, error) {
	s := &Store{
		log:  log,
		path: path,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read trigger file: %w", err)
		}

		s.triggers = defaultTriggers()
		s.log.Info("trigger file missing, seeding defaults",
			slog.String("path", s.path),
			slog.Int("triggers", len(s.triggers)),
		)
		return s.save()
	}

	var triggers map[string]model.TriggerState
	if err := json.Unmarshal(data, &triggers); err != nil {
		return fmt.Errorf("failed to parse trigger file: %w", err)
	}

	s.triggers = triggers
	return nil
}

// save rewrites the whole file via temp file + rename, so the file always
// reflects the last completed save.
func (s *Store) save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create trigger directory: %w", err)
	}

	data, err := json.MarshalIndent(s.triggers, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal triggers: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".triggers-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp trigger file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write trigger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close trigger file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace trigger file: %w", err)
	}
	return nil
}

// Get returns one trigger state.
func (s *Store) Get(id string) (model.TriggerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.triggers[id]
	if !ok {
		return model.TriggerState{}, ErrNotFound
	}
	return t, nil
}

// All returns a copy of every trigger state.
func (s *Store) All() map[string]model.TriggerState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.TriggerState, len(s.triggers))
	for id, t := range s.triggers {
		out[id] = t
	}
	return out
}

// Set updates one trigger and persists the whole mapping.
func (s *Store) Set(id string, state model.TriggerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.triggers[id]; !ok {
		return ErrNotFound
	}
	s.triggers[id] = state
	return s.save()
}

// Counts returns total and enabled trigger counts for the health endpoint.
func (s *Store) Counts() (total, enabled int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total = len(s.triggers)
	for _, t := range s.triggers {
		if t.Enabled {
			enabled++
		}
	}
	return total, enabled
}
