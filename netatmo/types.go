package netatmo

import "time"

// DeviceType identifies which heating device an operation targets.
type DeviceType int

const (
	DeviceThermostat DeviceType = iota // the wall thermostat "cube"
	DeviceValve                        // the thermostatic radiator valve
)

func (d DeviceType) String() string {
	if d == DeviceValve {
		return "valve"
	}
	return "thermostat"
}

// SetpointMode is the target mode for a setpoint write.
type SetpointMode string

const (
	ModeOff    SetpointMode = "off"
	ModeManual SetpointMode = "manual" // manual temperature until an end time
	ModeMax    SetpointMode = "max"
)

// Netatmo module type names as they appear on the wire.
const (
	moduleTypeRelay      = "NAPlug"
	moduleTypeThermostat = "NATherm1"
	moduleTypeValve      = "NRV"
)

// DeviceTemperature is a temperature reading: when it was measured, its
// value, and the device it applies to.
type DeviceTemperature struct {
	MeasuredAt time.Time
	Value      float64 // °C
	Device     DeviceType
}

// HistoricTemperature is the temperature in °C for one interval [Start, End).
type HistoricTemperature struct {
	Value float64
	Start time.Time
	End   time.Time
}

// Topology is the fixed set of identifiers describing how the household's
// devices relate. It is resolved once at client construction and read-only
// afterwards.
type Topology struct {
	HomeID           string
	RoomID           string // the room holding the valve
	ThermostatRoomID string // the room holding the thermostat, "" if unknown
	RelayID          string
	ThermostatID     string
	ValveID          string
}

// Status is the composite device state derived from one "home status" call.
// All four projections come from a single cache entry so that related reads
// can never be partially stale relative to each other.
type Status struct {
	ThermostatOn    bool
	BoilerOn        bool
	ValveOn         bool
	ValvePercentage int
}

// TokenPair is a rotated access/refresh token pair, reported so that callers
// can persist the new refresh token across process restarts.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}
