package idgen

import (
	"github.com/google/uuid"
)

// ID prefixes for the stored reading kinds
const (
	PrefixPower       = "pwr_"
	PrefixTemperature = "tmp_"
)

// NewPowerReading generates a new power reading ID with pwr_ prefix
func NewPowerReading() string {
	return PrefixPower + uuid.New().String()
}

// NewTemperatureReading generates a new temperature reading ID with tmp_ prefix
func NewTemperatureReading() string {
	return PrefixTemperature + uuid.New().String()
}

// New generates a generic UUID without prefix (for internal use only)
func New() string {
	return uuid.New().String()
}
