package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skyrus-io/skyrus/internal/collector"
	"github.com/skyrus-io/skyrus/internal/lib/logger/sl"
	"github.com/skyrus-io/skyrus/internal/model"
	"github.com/skyrus-io/skyrus/internal/trigger"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status          Status            `json:"status"`
	Components      []ComponentHealth `json:"components"`
	TriggersTotal   int               `json:"triggers_total"`
	TriggersEnabled int               `json:"triggers_enabled"`
	FlightsTracked  int64             `json:"flights_tracked"`
	ZabbixConnected bool              `json:"zabbix_connected"`
	Timestamp       time.Time         `json:"timestamp"`
}

type HealthChecker interface {
	Name() string
	Check(ctx context.Context) (Status, string)
}

// TriggerService is the trigger surface the server exposes to the UI.
type TriggerService interface {
	Toggle(ctx context.Context, id string, enable bool, value float64) (*trigger.ToggleResult, error)
	Get(id string) (model.TriggerState, error)
	All() map[string]model.TriggerState
	Counts() (total, enabled int)
}

// CycleReader serves the last completed collection cycle.
type CycleReader interface {
	LastCycle() (*collector.CycleSnapshot, bool)
}

// Server is the HTTP surface consumed by the UI: trigger control, the metrics
// snapshot, and health.
type Server struct {
	log       *slog.Logger
	address   string
	server    *http.Server
	triggers  TriggerService
	cycles    CycleReader
	countFunc func(ctx context.Context) (int64, error)

	mu       sync.RWMutex
	checkers []HealthChecker
}

func NewServer(
	log *slog.Logger,
	address string,
	triggers TriggerService,
	cycles CycleReader,
	countFunc func(ctx context.Context) (int64, error),
) *Server {
	return &Server{
		log:       log,
		address:   address,
		triggers:  triggers,
		cycles:    cycles,
		countFunc: countFunc,
		checkers:  make([]HealthChecker, 0),
	}
}

func (s *Server) AddChecker(checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers = append(s.checkers, checker)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.address,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.log.Info("starting api server", slog.String("address", s.address))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("api server error", sl.Err(err))
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler builds the router; exposed so tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/triggers", s.handleTriggers)
	r.Get("/trigger/{id}", s.handleTrigger)
	r.Post("/trigger/{id}/toggle", s.handleToggle)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checkers := make([]HealthChecker, len(s.checkers))
	copy(checkers, s.checkers)
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:     StatusHealthy,
		Components: make([]ComponentHealth, 0, len(checkers)),
		Timestamp:  time.Now().UTC(),
	}

	for _, checker := range checkers {
		status, message := checker.Check(ctx)
		response.Components = append(response.Components, ComponentHealth{
			Name:    checker.Name(),
			Status:  status,
			Message: message,
		})

		if checker.Name() == "zabbix" {
			response.ZabbixConnected = status == StatusHealthy
		}

		if status == StatusUnhealthy {
			response.Status = StatusUnhealthy
		} else if status == StatusDegraded && response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	if s.triggers != nil {
		response.TriggersTotal, response.TriggersEnabled = s.triggers.Counts()
	}

	if s.countFunc != nil {
		if count, err := s.countFunc(ctx); err == nil {
			response.FlightsTracked = count
		}
	}

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, response)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.cycles.LastCycle()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "no completed collection cycle yet",
		})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleTriggers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.triggers.All())
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, err := s.triggers.Get(id)
	if err != nil {
		if errors.Is(err, trigger.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "trigger not found"})
			return
		}
		s.log.Error("failed to read trigger", slog.String("trigger_id", id), sl.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, state)
}

type toggleRequest struct {
	Enable bool     `json:"enable"`
	Value  *float64 `json:"value"`
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	// Omitted value keeps the trigger's current one when enabling.
	value := 0.0
	if req.Value != nil {
		value = *req.Value
	} else if current, err := s.triggers.Get(id); err == nil {
		value = current.Value
	}

	result, err := s.triggers.Toggle(r.Context(), id, req.Enable, value)
	if err != nil {
		if errors.Is(err, trigger.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "trigger not found"})
			return
		}
		s.log.Error("failed to toggle trigger", slog.String("trigger_id", id), sl.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// StoreHealthChecker reports flight-store reachability.
type StoreHealthChecker struct {
	pingFunc func(ctx context.Context) error
}

func NewStoreHealthChecker(pingFunc func(ctx context.Context) error) *StoreHealthChecker {
	return &StoreHealthChecker{pingFunc: pingFunc}
}

func (c *StoreHealthChecker) Name() string {
	return "store"
}

func (c *StoreHealthChecker) Check(ctx context.Context) (Status, string) {
	if err := c.pingFunc(ctx); err != nil {
		return StatusUnhealthy, err.Error()
	}
	return StatusHealthy, ""
}

// ZabbixHealthChecker reports monitoring-system reachability. Zabbix being
// down degrades the service, it does not make it unhealthy.
type ZabbixHealthChecker struct {
	healthFunc func(ctx context.Context) error
}

func NewZabbixHealthChecker(healthFunc func(ctx context.Context) error) *ZabbixHealthChecker {
	return &ZabbixHealthChecker{healthFunc: healthFunc}
}

func (c *ZabbixHealthChecker) Name() string {
	return "zabbix"
}

func (c *ZabbixHealthChecker) Check(ctx context.Context) (Status, string) {
	if err := c.healthFunc(ctx); err != nil {
		return StatusDegraded, err.Error()
	}
	return StatusHealthy, ""
}
