package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyrus-io/skyrus/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	total      int64
	inAir      int64
	onGround   int64
	inBox      int64
	emergency  int64
	avgAlt     float64
	freshness  int64
	failAll    bool
	failFresh  bool
	pingFailed bool
}

var errStore = errors.New("store unreachable")

func (f *fakeStore) Count(ctx context.Context) (int64, error) {
	if f.failAll {
		return 0, errStore
	}
	return f.total, nil
}

func (f *fakeStore) CountInAir(ctx context.Context) (int64, error) {
	if f.failAll {
		return 0, errStore
	}
	return f.inAir, nil
}

func (f *fakeStore) CountOnGround(ctx context.Context) (int64, error) {
	if f.failAll {
		return 0, errStore
	}
	return f.onGround, nil
}

func (f *fakeStore) CountAirborneInBox(ctx context.Context, box config.BoundingBox) (int64, error) {
	if f.failAll {
		return 0, errStore
	}
	return f.inBox, nil
}

func (f *fakeStore) CountEmergencySquawks(ctx context.Context) (int64, error) {
	if f.failAll {
		return 0, errStore
	}
	return f.emergency, nil
}

func (f *fakeStore) AverageAltitude(ctx context.Context) (float64, error) {
	if f.failAll {
		return 0, errStore
	}
	return f.avgAlt, nil
}

func (f *fakeStore) FreshnessSeconds(ctx context.Context) (int64, error) {
	if f.failAll || f.failFresh {
		return 0, errStore
	}
	return f.freshness, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.failAll || f.pingFailed {
		return errStore
	}
	return nil
}

func testBox() config.BoundingBox {
	return config.BoundingBox{LatMin: 19, LatMax: 20, LonMin: -99.3, LonMax: -98.9}
}

func TestAggregateCycleMetrics(t *testing.T) {
	a := NewAggregator(testLogger(), &fakeStore{}, testBox())

	batch := a.Aggregate(context.Background(), CycleStats{
		HTTPStatus:        200,
		LatencyMS:         812,
		FlightCount:       14,
		NullPositionCount: 2,
		MaxAgeSeconds:     37,
		EmergencyCount:    1,
		HijackCount:       0,
		RadioFailCount:    1,
		OAuthEnabled:      true,
	})

	expect := map[string]float64{
		"opensky.http_status_code":            200,
		"opensky.collection_latency":          812,
		"opensky.flights_count":               14,
		"opensky.null_latitude_count":         2,
		"ingestion.data_freshness_seconds":    37,
		"app.flights.emergency_squawk_count":  1,
		"app.flights.hijack_squawk_count":     0,
		"app.flights.radio_fail_squawk_count": 1,
		"ingestion.update_rate":               14,
		"opensky.oauth_enabled":               1,
	}
	for name, want := range expect {
		got, ok := batch.Lookup(name)
		require.True(t, ok, "missing metric %s", name)
		assert.Equal(t, want, got, name)
	}
}

func TestAggregateStoreMetrics(t *testing.T) {
	a := NewAggregator(testLogger(), &fakeStore{
		total:     120,
		inAir:     90,
		onGround:  30,
		inBox:     12,
		emergency: 1,
		avgAlt:    7421.5,
		freshness: 42,
	}, testBox())

	batch := a.Aggregate(context.Background(), CycleStats{})

	expect := map[string]float64{
		"store.flights.total_count":           120,
		"store.flights.over_cdmx":             12,
		"store.flights.in_air":                90,
		"store.flights.on_ground":             30,
		"store.flights.emergency_squawk_count": 1,
		"store.flights.avg_altitude":          7421.5,
		"store.data_freshness":                42,
		"store.connection_status":             1,
	}
	for name, want := range expect {
		got, ok := batch.Lookup(name)
		require.True(t, ok, "missing metric %s", name)
		assert.Equal(t, want, got, name)
	}
}

func TestAggregateStoreFailureUsesSentinels(t *testing.T) {
	a := NewAggregator(testLogger(), &fakeStore{failAll: true}, testBox())

	batch := a.Aggregate(context.Background(), CycleStats{HTTPStatus: 200})

	total, ok := batch.Lookup("store.flights.total_count")
	require.True(t, ok)
	assert.Equal(t, 0.0, total)

	freshness, ok := batch.Lookup("store.data_freshness")
	require.True(t, ok)
	assert.Equal(t, float64(FreshnessSentinel), freshness)

	connected, ok := batch.Lookup("store.connection_status")
	require.True(t, ok)
	assert.Equal(t, 0.0, connected)

	// Cycle metrics are unaffected by store failures.
	status, ok := batch.Lookup("opensky.http_status_code")
	require.True(t, ok)
	assert.Equal(t, 200.0, status)
}

func TestAggregateSingleQueryFailureIsIsolated(t *testing.T) {
	a := NewAggregator(testLogger(), &fakeStore{total: 50, failFresh: true}, testBox())

	batch := a.Aggregate(context.Background(), CycleStats{})

	total, ok := batch.Lookup("store.flights.total_count")
	require.True(t, ok)
	assert.Equal(t, 50.0, total, "one failing query does not blank the batch")

	freshness, ok := batch.Lookup("store.data_freshness")
	require.True(t, ok)
	assert.Equal(t, float64(FreshnessSentinel), freshness)
}

func TestAggregateWithoutStore(t *testing.T) {
	a := NewAggregator(testLogger(), nil, testBox())

	batch := a.Aggregate(context.Background(), CycleStats{HTTPStatus: 200})

	_, ok := batch.Lookup("store.flights.total_count")
	assert.False(t, ok)

	_, ok = batch.Lookup("opensky.http_status_code")
	assert.True(t, ok)
}

func TestAggregateOrderIsStable(t *testing.T) {
	a := NewAggregator(testLogger(), &fakeStore{}, testBox())

	first := a.Aggregate(context.Background(), CycleStats{})
	second := a.Aggregate(context.Background(), CycleStats{})

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
	}
}
