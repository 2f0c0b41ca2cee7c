package netatmo

import (
	"context"
	"net/url"

	chaidata "github.com/chai-project/chai-data-sources"
)

type homeStatusResponse struct {
	Status string `json:"status"`
	Body   struct {
		Home struct {
			ID    string `json:"id"`
			Rooms []struct {
				ID                       string  `json:"id"`
				Reachable                bool    `json:"reachable"`
				HeatingPowerRequest      int     `json:"heating_power_request"`
				OpenWindow               bool    `json:"open_window"`
				ThermMeasuredTemperature float64 `json:"therm_measured_temperature"`
				ThermSetpointTemperature float64 `json:"therm_setpoint_temperature"`
				ThermSetpointMode        string  `json:"therm_setpoint_mode"`
			} `json:"rooms"`
			Modules []struct {
				ID           string `json:"id"`
				Type         string `json:"type"`
				BoilerStatus *bool  `json:"boiler_status"`
			} `json:"modules"`
		} `json:"home"`
	} `json:"body"`
}

// HomeStatus returns the composite device state, cached for 15 seconds under
// a single entry. Requesting any projection within the window of a prior
// request for any other issues no additional upstream call.
func (c *Client) HomeStatus(ctx context.Context) (Status, error) {
	return c.status.GetOrFetch(ctx, statusCacheKey, statusTTL, c.fetchStatus)
}

// ThermostatOn reports whether the thermostat currently calls for heat: its
// setpoint exceeds the measured temperature.
func (c *Client) ThermostatOn(ctx context.Context) (bool, error) {
	status, err := c.HomeStatus(ctx)
	return status.ThermostatOn, err
}

// BoilerOn reports the boiler relay state.
func (c *Client) BoilerOn(ctx context.Context) (bool, error) {
	status, err := c.HomeStatus(ctx)
	return status.BoilerOn, err
}

// ValveOn reports whether the valve currently calls for heat.
func (c *Client) ValveOn(ctx context.Context) (bool, error) {
	status, err := c.HomeStatus(ctx)
	return status.ValveOn, err
}

// ValvePercentage reports the valve's heating power request in percent.
func (c *Client) ValvePercentage(ctx context.Context) (int, error) {
	status, err := c.HomeStatus(ctx)
	return status.ValvePercentage, err
}

// fetchStatus issues the two expensive upstream calls backing all four status
// projections. It runs under the status cache's single flight, so concurrent
// projection reads share one pair of calls.
func (c *Client) fetchStatus(ctx context.Context) (Status, error) {
	form := url.Values{}
	form.Set("home_id", c.topology.HomeID)

	var data homeStatusResponse
	if err := c.call(ctx, "/homestatus", form, &data); err != nil {
		return Status{}, err
	}

	home := data.Body.Home
	var status Status
	var roomFound, boilerFound bool
	for _, room := range home.Rooms {
		if room.ID != c.topology.RoomID {
			continue
		}
		roomFound = true
		status.ValveOn = room.ThermSetpointTemperature > room.ThermMeasuredTemperature
		status.ValvePercentage = room.HeatingPowerRequest
	}
	for _, module := range home.Modules {
		if module.Type != moduleTypeThermostat {
			continue
		}
		if boilerFound || module.BoilerStatus == nil {
			return Status{}, &chaidata.UpstreamError{Service: "netatmo", Op: "homestatus", Err: ErrBoilerStatus}
		}
		boilerFound = true
		status.BoilerOn = *module.BoilerStatus
	}
	if !roomFound || !boilerFound {
		return Status{}, &chaidata.UpstreamError{Service: "netatmo", Op: "homestatus", Err: ErrBoilerStatus}
	}

	// The thermostat state needs the current setpoint compared against the
	// measured temperature, which lives on a separate call. Both calls share
	// this cache window.
	reading, err := c.getThermostatData(ctx)
	if err != nil {
		return Status{}, err
	}
	status.ThermostatOn = reading.Temperature < reading.SetpointTemp

	return status, nil
}
