package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/skyrus-io/skyrus/internal/config"
	"github.com/skyrus-io/skyrus/internal/model"
)

// UpsertResult reports how a batch landed in the store.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// FlightStore keeps the latest known state per aircraft, keyed by ICAO24.
// Rows are fully replaced on every upsert; staleness is observed through the
// freshness query, never purged.
type FlightStore struct {
	log *slog.Logger
	db  *sql.DB
}

func NewFlightStore(log *slog.Logger, dbPath string) (*FlightStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &FlightStore{
		log: log,
		db:  db,
	}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *FlightStore) migrate() error {
	query := `
		CREATE TABLE IF NOT EXISTS flights (
			icao24 TEXT PRIMARY KEY,
			callsign TEXT,
			origin_country TEXT,
			last_contact TEXT,
			longitude REAL,
			latitude REAL,
			velocity REAL,
			altitude REAL,
			on_ground INTEGER NOT NULL DEFAULT 0,
			squawk TEXT,
			status TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_flights_updated_at ON flights(updated_at);
		CREATE INDEX IF NOT EXISTS idx_flights_squawk ON flights(squawk);
	`
	_, err := s.db.Exec(query)
	return err
}

// Upsert writes a decoded batch in a single transaction. Existing rows are
// fully replaced, including fields the new frame reports as null: a stale
// position must not outlive the frame that carried it. The whole batch
// succeeds or fails together.
func (s *FlightStore) Upsert(ctx context.Context, states []model.FlightState) (UpsertResult, error) {
	var result UpsertResult
	if len(states) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	exists, err := tx.PrepareContext(ctx, "SELECT 1 FROM flights WHERE icao24 = ?")
	if err != nil {
		return result, fmt.Errorf("failed to prepare lookup: %w", err)
	}
	defer exists.Close()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO flights (icao24, callsign, origin_country, last_contact, longitude, latitude, velocity, altitude, on_ground, squawk, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(icao24) DO UPDATE SET
			callsign = excluded.callsign,
			origin_country = excluded.origin_country,
			last_contact = excluded.last_contact,
			longitude = excluded.longitude,
			latitude = excluded.latitude,
			velocity = excluded.velocity,
			altitude = excluded.altitude,
			on_ground = excluded.on_ground,
			squawk = excluded.squawk,
			status = excluded.status,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return result, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer upsert.Close()

	now := time.Now().UTC().Format(time.RFC3339)

	for i := range states {
		f := &states[i]
		if f.ICAO24 == "" {
			continue
		}

		var one int
		known := true
		if err := exists.QueryRowContext(ctx, f.ICAO24).Scan(&one); err != nil {
			if err != sql.ErrNoRows {
				return UpsertResult{}, fmt.Errorf("failed to check flight %s: %w", f.ICAO24, err)
			}
			known = false
		}

		if _, err := upsert.ExecContext(ctx,
			f.ICAO24,
			nullString(f.Callsign),
			nullString(f.OriginCountry),
			nullTime(f.LastContact),
			nullFloat(f.Longitude),
			nullFloat(f.Latitude),
			nullFloat(f.Velocity),
			nullFloat(f.Altitude),
			boolToInt(f.OnGround),
			nullString(f.Squawk),
			f.Status,
			now,
		); err != nil {
			return UpsertResult{}, fmt.Errorf("failed to upsert flight %s: %w", f.ICAO24, err)
		}

		if known {
			result.Updated++
		} else {
			result.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Debug("flights upserted",
		slog.Int("inserted", result.Inserted),
		slog.Int("updated", result.Updated),
	)

	return result, nil
}

// Count returns the total number of tracked flights.
func (s *FlightStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM flights").Scan(&count)
	return count, err
}

// CountInAir returns the number of flights not reported on the ground.
func (s *FlightStore) CountInAir(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM flights WHERE on_ground = 0").Scan(&count)
	return count, err
}

// CountOnGround returns the number of flights reported on the ground.
func (s *FlightStore) CountOnGround(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM flights WHERE on_ground = 1").Scan(&count)
	return count, err
}

// CountAirborneInBox returns airborne flights with a known position inside
// the bounding box.
func (s *FlightStore) CountAirborneInBox(ctx context.Context, box config.BoundingBox) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM flights
		WHERE on_ground = 0
		  AND latitude IS NOT NULL AND latitude BETWEEN ? AND ?
		  AND longitude IS NOT NULL AND longitude BETWEEN ? AND ?
	`, box.LatMin, box.LatMax, box.LonMin, box.LonMax).Scan(&count)
	return count, err
}

// CountEmergencySquawks returns flights currently broadcasting one of the
// emergency codes.
func (s *FlightStore) CountEmergencySquawks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM flights WHERE squawk IN (?, ?, ?)",
		model.SquawkEmergency, model.SquawkHijack, model.SquawkRadioFail).Scan(&count)
	return count, err
}

// AverageAltitude returns the mean altitude across flights with a known
// non-negative altitude, or 0 when there are none.
func (s *FlightStore) AverageAltitude(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, "SELECT AVG(altitude) FROM flights WHERE altitude IS NOT NULL AND altitude >= 0").Scan(&avg)
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// FreshnessSeconds returns the age of the most recently updated row. An empty
// store reports an error so the caller can substitute its sentinel.
func (s *FlightStore) FreshnessSeconds(ctx context.Context) (int64, error) {
	var updatedAt string
	err := s.db.QueryRowContext(ctx, "SELECT updated_at FROM flights ORDER BY updated_at DESC LIMIT 1").Scan(&updatedAt)
	if err != nil {
		return 0, err
	}

	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	age := int64(time.Since(t).Seconds())
	if age < 0 {
		age = 0
	}
	return age, nil
}

// Ping reports store reachability for health checks and the connectivity
// metric.
func (s *FlightStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *FlightStore) Close() error {
	return s.db.Close()
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
