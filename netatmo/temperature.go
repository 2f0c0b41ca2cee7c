package netatmo

import (
	"context"
	"net/url"

	chaidata "github.com/chai-project/chai-data-sources"
)

type measureResponse struct {
	Body map[string][]float64 `json:"body"`
}

// Temperature returns the current temperature of the thermostat or the
// valve, cached per device for four minutes.
func (c *Client) Temperature(ctx context.Context, device DeviceType) (DeviceTemperature, error) {
	return c.temps.GetOrFetch(ctx, device.String(), temperatureTTL, func(ctx context.Context) (DeviceTemperature, error) {
		return c.fetchTemperature(ctx, device)
	})
}

func (c *Client) fetchTemperature(ctx context.Context, device DeviceType) (DeviceTemperature, error) {
	form := url.Values{}
	form.Set("device_id", c.topology.RelayID)
	form.Set("module_id", c.moduleID(device))
	form.Set("scale", "max")
	form.Set("type", "Temperature")
	form.Set("limit", "1")
	form.Set("date_end", "last")
	form.Set("optimize", "false")

	var data measureResponse
	if err := c.call(ctx, "/getmeasure", form, &data); err != nil {
		return DeviceTemperature{}, err
	}

	if len(data.Body) != 1 {
		return DeviceTemperature{}, &chaidata.UpstreamError{Service: "netatmo", Op: "getmeasure", Err: ErrMeasurement}
	}
	for stamp, values := range data.Body {
		if len(values) != 1 {
			return DeviceTemperature{}, &chaidata.UpstreamError{Service: "netatmo", Op: "getmeasure", Err: ErrMeasurement}
		}
		measuredAt, err := chaidata.ParseUnixSeconds(stamp)
		if err != nil {
			return DeviceTemperature{}, &chaidata.UpstreamError{Service: "netatmo", Op: "getmeasure", Err: err}
		}
		return DeviceTemperature{MeasuredAt: measuredAt, Value: values[0], Device: device}, nil
	}
	return DeviceTemperature{}, &chaidata.UpstreamError{Service: "netatmo", Op: "getmeasure", Err: ErrMeasurement}
}

func (c *Client) moduleID(device DeviceType) string {
	if device == DeviceValve {
		return c.topology.ValveID
	}
	return c.topology.ThermostatID
}
