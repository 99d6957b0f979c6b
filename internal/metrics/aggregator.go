package metrics

import (
	"context"
	"log/slog"

	"github.com/skyrus-io/skyrus/internal/config"
	"github.com/skyrus-io/skyrus/internal/lib/logger/sl"
	"github.com/skyrus-io/skyrus/internal/model"
)

// FreshnessSentinel is reported when the store cannot say how old its newest
// row is (empty store, unreachable store).
const FreshnessSentinel = 999999

// CycleStats carries everything a single poll cycle observed. The aggregator
// turns it, together with whole-store queries, into the metric batch for that
// cycle.
type CycleStats struct {
	HTTPStatus     int
	LatencyMS      int64
	FlightCount    int
	InvalidDropped int

	EmergencyCount    int
	HijackCount       int
	RadioFailCount    int
	NullPositionCount int
	MaxAgeSeconds     int64

	OAuthEnabled bool
	EmptyData    bool
}

// StoreQueries is the slice of the flight store the aggregator reads.
type StoreQueries interface {
	Count(ctx context.Context) (int64, error)
	CountInAir(ctx context.Context) (int64, error)
	CountOnGround(ctx context.Context) (int64, error)
	CountAirborneInBox(ctx context.Context, box config.BoundingBox) (int64, error)
	CountEmergencySquawks(ctx context.Context) (int64, error)
	AverageAltitude(ctx context.Context) (float64, error)
	FreshnessSeconds(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// Aggregator computes the per-cycle metric batch. Store-backed producers are
// failure-isolated: a failing query logs, substitutes its sentinel, and the
// remaining producers still run.
type Aggregator struct {
	log   *slog.Logger
	store StoreQueries
	box   config.BoundingBox
}

func NewAggregator(log *slog.Logger, store StoreQueries, box config.BoundingBox) *Aggregator {
	return &Aggregator{
		log:   log,
		store: store,
		box:   box,
	}
}

type storeProducer struct {
	name     string
	sentinel float64
	query    func(ctx context.Context) (float64, error)
}

// Aggregate builds the ordered metric batch for one cycle.
func (a *Aggregator) Aggregate(ctx context.Context, stats CycleStats) model.Batch {
	batch := model.Batch{}

	batch = batch.Add("opensky.http_status_code", float64(stats.HTTPStatus))
	batch = batch.Add("opensky.collection_latency", float64(stats.LatencyMS))
	batch = batch.Add("opensky.flights_count", float64(stats.FlightCount))
	batch = batch.Add("opensky.null_latitude_count", float64(stats.NullPositionCount))
	batch = batch.Add("ingestion.data_freshness_seconds", float64(stats.MaxAgeSeconds))
	batch = batch.Add("app.flights.emergency_squawk_count", float64(stats.EmergencyCount))
	batch = batch.Add("app.flights.hijack_squawk_count", float64(stats.HijackCount))
	batch = batch.Add("app.flights.radio_fail_squawk_count", float64(stats.RadioFailCount))
	batch = batch.Add("ingestion.update_rate", float64(stats.FlightCount))
	batch = batch.Add("ingestion.invalid_identity_count", float64(stats.InvalidDropped))
	batch = batch.Add("opensky.oauth_enabled", boolMetric(stats.OAuthEnabled))
	batch = batch.Add("opensky.cdmx_filter", 1)
	batch = batch.Add("opensky.empty_data_received", boolMetric(stats.EmptyData))

	if a.store == nil {
		return batch
	}

	for _, p := range a.storeProducers() {
		value, err := p.query(ctx)
		if err != nil {
			a.log.Warn("store metric query failed, using sentinel",
				slog.String("metric", p.name),
				slog.Float64("sentinel", p.sentinel),
				sl.Err(err),
			)
			value = p.sentinel
		}
		batch = batch.Add(p.name, value)
	}

	return batch
}

func (a *Aggregator) storeProducers() []storeProducer {
	return []storeProducer{
		{"store.flights.total_count", 0, countQuery(a.store.Count)},
		{"store.flights.over_cdmx", 0, func(ctx context.Context) (float64, error) {
			n, err := a.store.CountAirborneInBox(ctx, a.box)
			return float64(n), err
		}},
		{"store.flights.in_air", 0, countQuery(a.store.CountInAir)},
		{"store.flights.on_ground", 0, countQuery(a.store.CountOnGround)},
		{"store.flights.emergency_squawk_count", 0, countQuery(a.store.CountEmergencySquawks)},
		{"store.flights.avg_altitude", 0, a.store.AverageAltitude},
		{"store.data_freshness", FreshnessSentinel, countQuery(a.store.FreshnessSeconds)},
		{"store.connection_status", 0, func(ctx context.Context) (float64, error) {
			if err := a.store.Ping(ctx); err != nil {
				return 0, err
			}
			return 1, nil
		}},
	}
}

func countQuery(fn func(ctx context.Context) (int64, error)) func(ctx context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		n, err := fn(ctx)
		return float64(n), err
	}
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
