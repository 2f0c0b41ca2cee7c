package netatmo

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

type setpointResponse struct {
	Status string `json:"status"`
}

// TurnOn turns the device on by setting a manual 30 °C setpoint for the given
// window. A minutes value <= 0 selects the default 24 hour window. The device
// reverts to its prior program when the window ends.
func (c *Client) TurnOn(ctx context.Context, device DeviceType, minutes int) (bool, error) {
	if minutes <= 0 {
		minutes = DefaultSetpointMinutes
	}
	return c.SetDevice(ctx, device, ModeManual, onTemperature, minutes)
}

// TurnOff turns the device off. The thermostat is switched to OFF, which
// persists until changed again. The valve cannot be switched off outright: it
// gets a manual frost-guard setpoint of 7 °C for the given window (<= 0
// selects 24 hours) and reverts afterwards.
func (c *Client) TurnOff(ctx context.Context, device DeviceType, minutes int) (bool, error) {
	if device == DeviceThermostat {
		return c.SetDevice(ctx, device, ModeOff, 0, 0)
	}
	if minutes <= 0 {
		minutes = DefaultSetpointMinutes
	}
	return c.SetDevice(ctx, device, ModeManual, offTemperature, minutes)
}

// SetDevice writes a setpoint. It returns the upstream success flag verbatim:
// a well-formed request the vendor rejects yields (false, nil); only
// transport, authorization and validation failures return an error.
//
// For ModeManual the temperature must be between 7 and 30 °C and minutes
// strictly positive; ModeMax also requires positive minutes. A valve cannot
// be set to ModeOff and is rewritten as a 7 °C manual setpoint instead.
//
// When the write succeeds, the shared status entry and the device's cached
// temperature are invalidated. A valve in the thermostat's room also changes
// the thermostat's effective state upstream, so in that case the other
// device's entries are invalidated as well.
func (c *Client) SetDevice(ctx context.Context, device DeviceType, mode SetpointMode, temperature int, minutes int) (bool, error) {
	form := url.Values{}
	endpoint := "/setthermpoint"
	endtimeParam, tempParam := "setpoint_endtime", "setpoint_temp"

	if device == DeviceThermostat {
		form.Set("device_id", c.topology.RelayID)
		form.Set("module_id", c.topology.ThermostatID)
		form.Set("setpoint_mode", string(mode))
	} else {
		// A valve is controlled as part of a room, and has no OFF mode of
		// its own.
		if mode == ModeOff {
			mode = ModeManual
			temperature = offTemperature
			if minutes <= 0 {
				minutes = DefaultSetpointMinutes
			}
		}
		endpoint = "/setroomthermpoint"
		endtimeParam, tempParam = "endtime", "temp"
		form.Set("home_id", c.topology.HomeID)
		form.Set("room_id", c.topology.RoomID)
		form.Set("mode", string(mode))
	}

	if mode == ModeManual || mode == ModeMax {
		if minutes <= 0 {
			return false, ErrInvalidDuration
		}
		endTime := c.clk.Now().Add(time.Duration(minutes) * time.Minute)
		form.Set(endtimeParam, strconv.FormatInt(endTime.Unix(), 10))
	}
	if mode == ModeManual {
		if temperature < offTemperature || temperature > onTemperature {
			return false, ErrInvalidTemperature
		}
		form.Set(tempParam, strconv.Itoa(temperature))
	}

	var result setpointResponse
	if err := c.call(ctx, endpoint, form, &result); err != nil {
		return false, err
	}
	success := result.Status == "ok"
	if !success {
		c.logger.Info("unable to set the device to the targeted mode",
			"device", device.String(), "mode", string(mode))
		return false, nil
	}

	c.logger.Info("changed the device setpoint",
		"device", device.String(), "mode", string(mode),
		"temperature", temperature, "minutes", minutes)
	c.invalidateAfterWrite(device)
	return true, nil
}

// invalidateAfterWrite drops the cache entries a successful write makes
// stale. The composite status entry is shared, so any write invalidates it.
func (c *Client) invalidateAfterWrite(device DeviceType) {
	c.status.Invalidate(statusCacheKey)
	c.temps.Invalidate(device.String())

	// Writing the valve also changes the thermostat's effective state when
	// both share a room (and vice versa): an upstream coupling, not a
	// client-side simulation.
	sameRoom := c.topology.ThermostatRoomID != "" && c.topology.ThermostatRoomID == c.topology.RoomID
	if !sameRoom {
		return
	}
	if device == DeviceValve {
		c.temps.Invalidate(DeviceThermostat.String())
	} else {
		c.temps.Invalidate(DeviceValve.String())
	}
}
