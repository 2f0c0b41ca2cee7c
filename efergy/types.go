package efergy

import (
	"bytes"
	"strconv"
	"time"
)

// CurrentPower is the current power use in watts and the moment a newer value
// becomes available upstream.
type CurrentPower struct {
	Value   int       // watts
	Expires time.Time // a new value is published every 30 seconds
}

// HistoricPower is the energy use in kWh for one interval [Start, End).
type HistoricPower struct {
	Value float64 // kWh
	Start time.Time
	End   time.Time
}

// looseFloat decodes a JSON number that the Energyhive API sometimes quotes
// as a string.
type looseFloat float64

func (f *looseFloat) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*f = looseFloat(v)
	return nil
}

// looseInt decodes a JSON integer that may arrive quoted.
type looseInt int

func (i *looseInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	v, err := strconv.Atoi(string(data))
	if err != nil {
		return err
	}
	*i = looseInt(v)
	return nil
}
