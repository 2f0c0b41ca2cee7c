package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chai-project/chai-data-sources/internal/idgen"
	"github.com/chai-project/chai-data-sources/internal/storage"
	"github.com/chai-project/chai-data-sources/netatmo"
)

// Store implements storage.Storage using SQLite
type Store struct {
	db *sql.DB
}

var _ storage.Storage = (*Store)(nil)

// New creates a new SQLite storage instance
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS netatmo_tokens (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			access_token TEXT,
			refresh_token TEXT NOT NULL,
			expires_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS power_readings (
			id TEXT PRIMARY KEY,
			recorded_at DATETIME NOT NULL,
			watts INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS temperature_readings (
			id TEXT PRIMARY KEY,
			device TEXT NOT NULL,
			measured_at DATETIME NOT NULL,
			celsius REAL NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_power_readings_recorded ON power_readings(recorded_at);
		CREATE INDEX IF NOT EXISTS idx_temperature_readings_device ON temperature_readings(device, measured_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Tokens retrieves the stored Netatmo token pair. It returns nil without an
// error when no pair has been stored yet.
func (s *Store) Tokens(ctx context.Context) (*netatmo.TokenPair, error) {
	var pair netatmo.TokenPair
	var accessToken sql.NullString
	var expiresAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at
		FROM netatmo_tokens WHERE id = 1
	`).Scan(&accessToken, &pair.RefreshToken, &expiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if accessToken.Valid {
		pair.AccessToken = accessToken.String
	}
	if expiresAt.Valid {
		pair.ExpiresAt = expiresAt.Time
	}

	return &pair, nil
}

// SaveTokens saves or updates the Netatmo token pair
func (s *Store) SaveTokens(ctx context.Context, pair netatmo.TokenPair) error {
	now := time.Now().UTC()

	var accessToken sql.NullString
	if pair.AccessToken != "" {
		accessToken = sql.NullString{String: pair.AccessToken, Valid: true}
	}
	var expiresAt sql.NullTime
	if !pair.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: pair.ExpiresAt, Valid: true}
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM netatmo_tokens WHERE id = 1)").Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		_, err = s.db.ExecContext(ctx, `
			UPDATE netatmo_tokens
			SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
			WHERE id = 1
		`, accessToken, pair.RefreshToken, expiresAt, now)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO netatmo_tokens (id, access_token, refresh_token, expires_at, created_at, updated_at)
			VALUES (1, ?, ?, ?, ?, ?)
		`, accessToken, pair.RefreshToken, expiresAt, now, now)
	}

	return err
}

// InsertPowerReading stores one electricity reading. An ID is assigned when
// the reading carries none.
func (s *Store) InsertPowerReading(ctx context.Context, reading storage.PowerReading) error {
	if reading.ID == "" {
		reading.ID = idgen.NewPowerReading()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO power_readings (id, recorded_at, watts)
		VALUES (?, ?, ?)
	`, reading.ID, reading.RecordedAt.UTC(), reading.Watts)

	return err
}

// PowerReadings retrieves the readings recorded in [from, to), oldest first.
func (s *Store) PowerReadings(ctx context.Context, from, to time.Time) ([]storage.PowerReading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recorded_at, watts
		FROM power_readings
		WHERE recorded_at >= ? AND recorded_at < ?
		ORDER BY recorded_at
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []storage.PowerReading
	for rows.Next() {
		var reading storage.PowerReading
		if err := rows.Scan(&reading.ID, &reading.RecordedAt, &reading.Watts); err != nil {
			return nil, err
		}
		readings = append(readings, reading)
	}

	return readings, rows.Err()
}

// InsertTemperature stores one temperature sample. An ID is assigned when the
// reading carries none.
func (s *Store) InsertTemperature(ctx context.Context, reading storage.TemperatureReading) error {
	if reading.ID == "" {
		reading.ID = idgen.NewTemperatureReading()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO temperature_readings (id, device, measured_at, celsius)
		VALUES (?, ?, ?, ?)
	`, reading.ID, reading.Device, reading.MeasuredAt.UTC(), reading.Celsius)

	return err
}

// TemperatureReadings retrieves the samples for a device measured in
// [from, to), oldest first.
func (s *Store) TemperatureReadings(ctx context.Context, device string, from, to time.Time) ([]storage.TemperatureReading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device, measured_at, celsius
		FROM temperature_readings
		WHERE device = ? AND measured_at >= ? AND measured_at < ?
		ORDER BY measured_at
	`, device, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []storage.TemperatureReading
	for rows.Next() {
		var reading storage.TemperatureReading
		if err := rows.Scan(&reading.ID, &reading.Device, &reading.MeasuredAt, &reading.Celsius); err != nil {
			return nil, err
		}
		readings = append(readings, reading)
	}

	return readings, rows.Err()
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
