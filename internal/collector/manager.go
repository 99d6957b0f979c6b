package collector

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/skyrus-io/skyrus/internal/lib/logger/sl"
	"github.com/skyrus-io/skyrus/internal/metrics"
	"github.com/skyrus-io/skyrus/internal/model"
	"github.com/skyrus-io/skyrus/internal/store"
	"github.com/skyrus-io/skyrus/internal/zabbix"
)

// Upserter is the slice of the flight store the manager writes to.
type Upserter interface {
	Upsert(ctx context.Context, states []model.FlightState) (store.UpsertResult, error)
}

// CycleSnapshot is the outcome of the last completed cycle, served to the UI
// through the metrics endpoint.
type CycleSnapshot struct {
	CycleID     string      `json:"cycle_id"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
	FlightCount int         `json:"flight_count"`
	Metrics     model.Batch `json:"metrics"`
}

// Manager drives the poll cycle on a fixed interval. The first cycle runs
// immediately; a tick that fires while a cycle is still in flight is skipped,
// not queued. A cycle failure becomes metrics for that cycle and never stops
// the schedule.
type Manager struct {
	log        *slog.Logger
	interval   time.Duration
	source     Source
	upserter   Upserter
	aggregator *metrics.Aggregator
	sender     zabbix.Sender
	oauth      bool

	stopCh chan struct{}
	wg     sync.WaitGroup
	busy   atomic.Bool

	now func() time.Time

	mu        sync.RWMutex
	lastCycle *CycleSnapshot
}

func NewManager(
	log *slog.Logger,
	interval time.Duration,
	source Source,
	upserter Upserter,
	aggregator *metrics.Aggregator,
	sender zabbix.Sender,
	oauthEnabled bool,
) *Manager {
	return &Manager{
		log:        log,
		interval:   interval,
		source:     source,
		upserter:   upserter,
		aggregator: aggregator,
		sender:     sender,
		oauth:      oauthEnabled,
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.log.Info("starting collector manager",
		slog.Duration("interval", m.interval),
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.runCycleGuarded(ctx)

	for {
		select {
		case <-ctx.Done():
			m.log.Info("context cancelled, stopping manager")
			return
		case <-m.stopCh:
			m.log.Info("stop signal received, stopping manager")
			return
		case <-ticker.C:
			m.runCycleGuarded(ctx)
		}
	}
}

func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	if err := m.source.Close(); err != nil {
		m.log.Error("failed to close source", sl.Err(err))
	}
}

// LastCycle returns the most recent completed cycle, if any.
func (m *Manager) LastCycle() (*CycleSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCycle, m.lastCycle != nil
}

// runCycleGuarded starts a cycle unless one is already in flight.
func (m *Manager) runCycleGuarded(ctx context.Context) {
	if !m.busy.CompareAndSwap(false, true) {
		m.log.Warn("previous cycle still running, skipping tick")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.busy.Store(false)
		m.runCycle(ctx)
	}()
}

func (m *Manager) runCycle(ctx context.Context) {
	cycleID := uuid.New().String()
	start := m.now()
	log := m.log.With(slog.String("cycle_id", cycleID))

	log.Debug("cycle started")

	stats := metrics.CycleStats{
		OAuthEnabled: m.oauth,
	}

	result, err := m.source.FetchStates(ctx)
	if err != nil {
		if result != nil {
			stats.HTTPStatus = result.StatusCode
		}
		log.Error("upstream fetch failed", sl.Err(err))
	} else {
		stats.HTTPStatus = result.StatusCode
		stats.FlightCount = len(result.States)
		stats.InvalidDropped = result.Dropped
		stats.EmptyData = len(result.States) == 0

		m.processBatch(ctx, log, result.States, &stats)
	}

	stats.LatencyMS = m.now().Sub(start).Milliseconds()

	batch := m.aggregator.Aggregate(ctx, stats)

	if err := m.sender.Send(ctx, batch); err != nil {
		// Non-fatal: the next cycle sends its own batch.
		log.Error("failed to send metrics", sl.Err(err))
	}

	m.mu.Lock()
	m.lastCycle = &CycleSnapshot{
		CycleID:     cycleID,
		StartedAt:   start,
		CompletedAt: m.now(),
		FlightCount: stats.FlightCount,
		Metrics:     batch,
	}
	m.mu.Unlock()

	log.Info("cycle completed",
		slog.Int("flights", stats.FlightCount),
		slog.Int64("latency_ms", stats.LatencyMS),
		slog.Int("http_status", stats.HTTPStatus),
	)
}

// processBatch classifies and persists the decoded batch. The two run
// concurrently: classification only reads the slice, persistence only writes
// the store.
func (m *Manager) processBatch(ctx context.Context, log *slog.Logger, states []model.FlightState, stats *metrics.CycleStats) {
	if len(states) == 0 {
		log.Debug("empty batch, nothing to classify or persist")
		return
	}

	var wg sync.WaitGroup

	var counts AnomalyCounts
	wg.Add(1)
	go func() {
		defer wg.Done()
		counts = Classify(states, m.now())
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		result, err := m.upserter.Upsert(ctx, states)
		if err != nil {
			log.Error("failed to persist batch", sl.Err(err))
			return
		}
		log.Debug("batch persisted",
			slog.Int("inserted", result.Inserted),
			slog.Int("updated", result.Updated),
		)
	}()

	wg.Wait()

	stats.EmergencyCount = counts.Emergency
	stats.HijackCount = counts.Hijack
	stats.RadioFailCount = counts.RadioFail
	stats.NullPositionCount = counts.NullPosition
	stats.MaxAgeSeconds = counts.MaxAgeSeconds
}
