package netatmo

import (
	"context"
	"net/url"
)

type thermostatsDataResponse struct {
	Body struct {
		Devices []struct {
			ID      string `json:"_id"`
			Type    string `json:"type"`
			Modules []struct {
				ID       string `json:"_id"`
				Type     string `json:"type"`
				Measured struct {
					Time         int64   `json:"time"`
					Temperature  float64 `json:"temperature"`
					SetpointTemp float64 `json:"setpoint_temp"`
				} `json:"measured"`
			} `json:"modules"`
		} `json:"devices"`
	} `json:"body"`
}

type homesDataResponse struct {
	Body struct {
		Homes []struct {
			ID    string `json:"id"`
			Rooms []struct {
				ID        string   `json:"id"`
				Type      string   `json:"type"`
				ModuleIDs []string `json:"module_ids"`
			} `json:"rooms"`
			Modules []struct {
				ID   string `json:"id"`
				Type string `json:"type"`
			} `json:"modules"`
		} `json:"homes"`
	} `json:"body"`
}

// thermostatReading is the relay/thermostat pair with the thermostat's latest
// measured and target temperature.
type thermostatReading struct {
	RelayID      string
	ThermostatID string
	Temperature  float64
	SetpointTemp float64
}

// getThermostatData fetches the relay and its single thermostat module.
func (c *Client) getThermostatData(ctx context.Context) (thermostatReading, error) {
	var data thermostatsDataResponse
	if err := c.call(ctx, "/getthermostatsdata", nil, &data); err != nil {
		return thermostatReading{}, err
	}

	if len(data.Body.Devices) != 1 {
		return thermostatReading{}, ErrRelayNotFound
	}
	relay := data.Body.Devices[0]
	if len(relay.Modules) != 1 {
		return thermostatReading{}, ErrThermostatNotFound
	}
	thermostat := relay.Modules[0]

	return thermostatReading{
		RelayID:      relay.ID,
		ThermostatID: thermostat.ID,
		Temperature:  thermostat.Measured.Temperature,
		SetpointTemp: thermostat.Measured.SetpointTemp,
	}, nil
}

// resolveTopology discovers the home, room, relay, thermostat and valve
// identifiers for this account. Called once at construction; the result is
// read-only for the client's lifetime.
func (c *Client) resolveTopology(ctx context.Context) error {
	reading, err := c.getThermostatData(ctx)
	if err != nil {
		return err
	}

	var homes homesDataResponse
	if err := c.call(ctx, "/homesdata", url.Values{}, &homes); err != nil {
		return err
	}
	if len(homes.Body.Homes) != 1 {
		return ErrHomeNotFound
	}
	home := homes.Body.Homes[0]

	var valveID string
	for _, module := range home.Modules {
		if module.Type == moduleTypeValve {
			if valveID != "" {
				return ErrValveNotFound
			}
			valveID = module.ID
		}
	}
	if valveID == "" {
		return ErrValveNotFound
	}

	var valveRoomID, thermostatRoomID string
	for _, room := range home.Rooms {
		for _, id := range room.ModuleIDs {
			switch id {
			case valveID:
				if valveRoomID != "" {
					return ErrValveNotFound
				}
				valveRoomID = room.ID
			case reading.ThermostatID:
				thermostatRoomID = room.ID
			}
		}
	}
	if valveRoomID == "" {
		return ErrValveNotFound
	}

	c.topology = Topology{
		HomeID:           home.ID,
		RoomID:           valveRoomID,
		ThermostatRoomID: thermostatRoomID,
		RelayID:          reading.RelayID,
		ThermostatID:     reading.ThermostatID,
		ValveID:          valveID,
	}
	return nil
}
