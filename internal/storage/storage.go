package storage

import (
	"context"
	"time"

	"github.com/chai-project/chai-data-sources/netatmo"
)

// PowerReading is one stored electricity reading.
type PowerReading struct {
	ID         string
	RecordedAt time.Time
	Watts      int
}

// TemperatureReading is one stored temperature sample for a device.
type TemperatureReading struct {
	ID         string
	Device     string
	MeasuredAt time.Time
	Celsius    float64
}

// TokenStore persists the rotated Netatmo token pair. The refresh token is
// single-use: the pair stored here, not the one in the configuration file, is
// the one that survives a restart.
type TokenStore interface {
	Tokens(ctx context.Context) (*netatmo.TokenPair, error)
	SaveTokens(ctx context.Context, pair netatmo.TokenPair) error
}

// ReadingStore persists polled readings.
type ReadingStore interface {
	InsertPowerReading(ctx context.Context, reading PowerReading) error
	InsertTemperature(ctx context.Context, reading TemperatureReading) error
	PowerReadings(ctx context.Context, from, to time.Time) ([]PowerReading, error)
	TemperatureReadings(ctx context.Context, device string, from, to time.Time) ([]TemperatureReading, error)
}

// Storage defines the interface for data persistence
type Storage interface {
	TokenStore
	ReadingStore

	// Lifecycle
	Close() error
}
