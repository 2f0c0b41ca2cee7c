package netatmo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chaidata "github.com/chai-project/chai-data-sources"
)

// fakeNetatmo serves the subset of the Netatmo API the client consumes, with
// call counters to observe caching behavior.
type fakeNetatmo struct {
	t   *testing.T
	srv *httptest.Server

	mu             sync.Mutex
	validToken     string
	rejectRefresh  bool
	sameRoom       bool
	valveCount     int
	setpointStatus string
	historicBody   map[string][]float64

	tokenCalls      int
	thermostatCalls int
	homesCalls      int
	statusCalls     int
	measureCalls    int

	lastSetPath string
	lastSetForm url.Values
}

func newFakeNetatmo(t *testing.T) *fakeNetatmo {
	t.Helper()
	f := &fakeNetatmo{
		t:              t,
		validToken:     "access-1",
		valveCount:     1,
		setpointStatus: "ok",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", f.handleToken)
	mux.HandleFunc("/api/", f.handleAPI)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeNetatmo) config() Config {
	return Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RefreshToken: "refresh-1",
		AccessToken:  "access-1",
		APIURL:       f.srv.URL + "/api",
		OAuthURL:     f.srv.URL + "/oauth2",
	}
}

func (f *fakeNetatmo) counts() (token, thermostat, homes, status, measure int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls, f.thermostatCalls, f.homesCalls, f.statusCalls, f.measureCalls
}

func (f *fakeNetatmo) handleToken(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseForm())
	assert.Equal(f.t, "refresh_token", r.PostFormValue("grant_type"))
	assert.Equal(f.t, "client-id", r.PostFormValue("client_id"))
	assert.Equal(f.t, "client-secret", r.PostFormValue("client_secret"))

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectRefresh {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
		return
	}
	f.tokenCalls++
	f.validToken = "access-2"
	fmt.Fprint(w, `{"scope":["read_thermostat"],"access_token":"access-2","refresh_token":"refresh-2","expires_in":10800,"expire_in":10800}`)
}

func (f *fakeNetatmo) handleAPI(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseForm())

	f.mu.Lock()
	defer f.mu.Unlock()
	if r.PostFormValue("access_token") != f.validToken {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":3,"message":"Access token expired"}}`)
		return
	}

	switch strings.TrimPrefix(r.URL.Path, "/api") {
	case "/getthermostatsdata":
		f.thermostatCalls++
		fmt.Fprint(w, `{"status":"ok","body":{"devices":[{"_id":"relay-1","type":"NAPlug","station_name":"Home","modules":[{"_id":"therm-1","type":"NATherm1","battery_percent":80,"setpoint":{"setpoint_mode":"program"},"therm_program_list":[],"measured":{"time":1700000000,"temperature":19.5,"setpoint_temp":20.5}}]}]}}`)
	case "/homesdata":
		f.homesCalls++
		f.writeHomesData(w)
	case "/homestatus":
		f.statusCalls++
		assert.Equal(f.t, "home-1", r.PostFormValue("home_id"))
		fmt.Fprint(w, `{"status":"ok","body":{"home":{"id":"home-1","rooms":[{"id":"room-1","reachable":true,"anticipating":false,"heating_power_request":42,"open_window":false,"therm_measured_temperature":18.0,"therm_setpoint_temperature":21.0,"therm_setpoint_mode":"manual"}],"modules":[{"id":"therm-1","type":"NATherm1","boiler_status":true}]}}}`)
	case "/getmeasure":
		f.measureCalls++
		if r.PostFormValue("scale") == "30min" {
			body, _ := json.Marshal(f.historicBody)
			fmt.Fprintf(w, `{"status":"ok","body":%s}`, body)
			return
		}
		value := 21.5
		if r.PostFormValue("module_id") == "valve-1" {
			value = 18.25
		}
		fmt.Fprintf(w, `{"status":"ok","body":{"1700000000":[%v]}}`, value)
	case "/setthermpoint", "/setroomthermpoint":
		f.lastSetPath = strings.TrimPrefix(r.URL.Path, "/api")
		f.lastSetForm = r.PostForm
		fmt.Fprintf(w, `{"status":%q}`, f.setpointStatus)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeNetatmo) writeHomesData(w http.ResponseWriter) {
	type room struct {
		ID        string   `json:"id"`
		Type      string   `json:"type"`
		ModuleIDs []string `json:"module_ids"`
	}
	type module struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}

	modules := []module{{"relay-1", "NAPlug"}, {"therm-1", "NATherm1"}}
	for i := 0; i < f.valveCount; i++ {
		modules = append(modules, module{fmt.Sprintf("valve-%d", i+1), "NRV"})
	}

	var rooms []room
	if f.sameRoom {
		rooms = []room{{"room-1", "livingroom", []string{"valve-1", "therm-1"}}}
	} else {
		rooms = []room{
			{"room-1", "livingroom", []string{"valve-1"}},
			{"room-2", "bedroom", []string{"therm-1"}},
		}
	}

	payload := map[string]interface{}{
		"status": "ok",
		"body": map[string]interface{}{
			"homes": []map[string]interface{}{{
				"id":         "home-1",
				"name":       "Home",
				"rooms":      rooms,
				"modules":    modules,
				"therm_mode": "schedule",
			}},
		},
	}
	require.NoError(f.t, json.NewEncoder(w).Encode(payload))
}

func newTestClient(t *testing.T, f *fakeNetatmo) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), f.config())
	require.NoError(t, err)
	return client
}

func TestNewClient_ResolvesTopology(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)

	topo := client.Topology()
	assert.Equal(t, "home-1", topo.HomeID)
	assert.Equal(t, "room-1", topo.RoomID)
	assert.Equal(t, "room-2", topo.ThermostatRoomID)
	assert.Equal(t, "relay-1", topo.RelayID)
	assert.Equal(t, "therm-1", topo.ThermostatID)
	assert.Equal(t, "valve-1", topo.ValveID)

	_, thermostat, homes, _, _ := f.counts()
	assert.Equal(t, 1, thermostat)
	assert.Equal(t, 1, homes)
}

func TestNewClient_MissingCredentials(t *testing.T) {
	_, err := NewClient(context.Background(), Config{ClientID: "only-id"})
	var cfgErr *chaidata.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestNewClient_TopologyFailureIsFatal(t *testing.T) {
	f := newFakeNetatmo(t)
	f.valveCount = 2

	_, err := NewClient(context.Background(), f.config())
	var cfgErr *chaidata.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrValveNotFound)
}

func TestClient_Temperature_CachedPerDevice(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)

	reading, err := client.Temperature(context.Background(), DeviceThermostat)
	require.NoError(t, err)
	assert.Equal(t, 21.5, reading.Value)
	assert.Equal(t, DeviceThermostat, reading.Device)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), reading.MeasuredAt)

	// Within the window the second read is served from cache.
	_, err = client.Temperature(context.Background(), DeviceThermostat)
	require.NoError(t, err)
	_, _, _, _, measure := f.counts()
	assert.Equal(t, 1, measure)

	// The valve is a different cache key.
	valve, err := client.Temperature(context.Background(), DeviceValve)
	require.NoError(t, err)
	assert.Equal(t, 18.25, valve.Value)
	_, _, _, _, measure = f.counts()
	assert.Equal(t, 2, measure)
}

func TestClient_StatusProjectionsShareOneCall(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)
	_, thermostatBefore, _, _, _ := f.counts()

	boiler, err := client.BoilerOn(context.Background())
	require.NoError(t, err)
	assert.True(t, boiler)

	valveOn, err := client.ValveOn(context.Background())
	require.NoError(t, err)
	assert.True(t, valveOn, "setpoint 21.0 above measured 18.0 means the valve calls for heat")

	pct, err := client.ValvePercentage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, pct)

	thermOn, err := client.ThermostatOn(context.Background())
	require.NoError(t, err)
	assert.True(t, thermOn, "setpoint 20.5 above measured 19.5 means the thermostat calls for heat")

	_, thermostatAfter, _, status, _ := f.counts()
	assert.Equal(t, 1, status, "all four projections must share one home status call")
	assert.Equal(t, 1, thermostatAfter-thermostatBefore, "the setpoint comparison shares the same window")
}

func TestClient_SetDevice_Thermostat(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)

	ok, err := client.SetDevice(context.Background(), DeviceThermostat, ModeManual, 21, 60)
	require.NoError(t, err)
	assert.True(t, ok)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "/setthermpoint", f.lastSetPath)
	assert.Equal(t, "relay-1", f.lastSetForm.Get("device_id"))
	assert.Equal(t, "therm-1", f.lastSetForm.Get("module_id"))
	assert.Equal(t, "manual", f.lastSetForm.Get("setpoint_mode"))
	assert.Equal(t, "21", f.lastSetForm.Get("setpoint_temp"))
	assert.NotEmpty(t, f.lastSetForm.Get("setpoint_endtime"))
}

func TestClient_SetDevice_ValveUsesRoomEndpoint(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)

	ok, err := client.SetDevice(context.Background(), DeviceValve, ModeManual, 19, 120)
	require.NoError(t, err)
	assert.True(t, ok)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "/setroomthermpoint", f.lastSetPath)
	assert.Equal(t, "home-1", f.lastSetForm.Get("home_id"))
	assert.Equal(t, "room-1", f.lastSetForm.Get("room_id"))
	assert.Equal(t, "manual", f.lastSetForm.Get("mode"))
	assert.Equal(t, "19", f.lastSetForm.Get("temp"))
	assert.NotEmpty(t, f.lastSetForm.Get("endtime"))
}

func TestClient_SetDevice_ValveOffBecomesFrostGuard(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)

	ok, err := client.SetDevice(context.Background(), DeviceValve, ModeOff, 0, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "/setroomthermpoint", f.lastSetPath)
	assert.Equal(t, "manual", f.lastSetForm.Get("mode"))
	assert.Equal(t, "7", f.lastSetForm.Get("temp"))
	assert.NotEmpty(t, f.lastSetForm.Get("endtime"))
}

func TestClient_TurnOffThermostat_PersistentOff(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)

	ok, err := client.TurnOff(context.Background(), DeviceThermostat, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "/setthermpoint", f.lastSetPath)
	assert.Equal(t, "off", f.lastSetForm.Get("setpoint_mode"))
	assert.Empty(t, f.lastSetForm.Get("setpoint_endtime"), "thermostat OFF persists beyond any window")
}

func TestClient_TurnOn_DefaultWindow(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)

	before := time.Now().Add(time.Duration(DefaultSetpointMinutes)*time.Minute - time.Minute)

	ok, err := client.TurnOn(context.Background(), DeviceThermostat, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "30", f.lastSetForm.Get("setpoint_temp"))
	endtime := f.lastSetForm.Get("setpoint_endtime")
	require.NotEmpty(t, endtime)
	var unix int64
	_, err = fmt.Sscanf(endtime, "%d", &unix)
	require.NoError(t, err)
	assert.True(t, time.Unix(unix, 0).After(before), "default window is 24 hours")
}

func TestClient_SetDevice_Validation(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)

	_, err := client.SetDevice(context.Background(), DeviceThermostat, ModeManual, 21, 0)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = client.SetDevice(context.Background(), DeviceThermostat, ModeManual, 35, 60)
	assert.ErrorIs(t, err, ErrInvalidTemperature)

	_, err = client.SetDevice(context.Background(), DeviceThermostat, ModeMax, 0, -1)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestClient_SetDevice_VendorRejectionReturnsFalse(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)
	f.mu.Lock()
	f.setpointStatus = "error"
	f.mu.Unlock()

	ok, err := client.SetDevice(context.Background(), DeviceThermostat, ModeManual, 21, 60)
	require.NoError(t, err, "a vendor-reported rejection is not an error")
	assert.False(t, ok)
}

func TestClient_WriteInvalidatesStatusCache(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)

	_, err := client.BoilerOn(context.Background())
	require.NoError(t, err)

	ok, err := client.SetDevice(context.Background(), DeviceValve, ModeManual, 19, 60)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = client.BoilerOn(context.Background())
	require.NoError(t, err)

	_, _, _, status, _ := f.counts()
	assert.Equal(t, 2, status, "a successful write must drop the shared status entry")
}

func TestClient_ValveWriteCouplesToThermostat_SameRoom(t *testing.T) {
	f := newFakeNetatmo(t)
	f.sameRoom = true
	client := newTestClient(t, f)
	assert.Equal(t, client.Topology().RoomID, client.Topology().ThermostatRoomID)

	_, err := client.Temperature(context.Background(), DeviceThermostat)
	require.NoError(t, err)

	ok, err := client.SetDevice(context.Background(), DeviceValve, ModeManual, 19, 60)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = client.Temperature(context.Background(), DeviceThermostat)
	require.NoError(t, err)

	_, _, _, _, measure := f.counts()
	assert.Equal(t, 2, measure, "a valve write in the thermostat's room invalidates the thermostat's entry")
}

func TestClient_ValveWriteLeavesThermostat_DifferentRooms(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)

	_, err := client.Temperature(context.Background(), DeviceThermostat)
	require.NoError(t, err)

	ok, err := client.SetDevice(context.Background(), DeviceValve, ModeManual, 19, 60)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = client.Temperature(context.Background(), DeviceThermostat)
	require.NoError(t, err)

	_, _, _, _, measure := f.counts()
	assert.Equal(t, 1, measure, "rooms differ, so the thermostat's entry stays cached")
}

func TestClient_AuthRejectionRefreshesAndRetriesOnce(t *testing.T) {
	f := newFakeNetatmo(t)

	var rotations []TokenPair
	cfg := f.config()
	cfg.OnTokenRotate = func(pair TokenPair) { rotations = append(rotations, pair) }
	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)

	// Invalidate the token server-side; the next call gets a 403, refreshes
	// once, and retries with the new token.
	f.mu.Lock()
	f.validToken = "revoked"
	f.mu.Unlock()

	reading, err := client.Temperature(context.Background(), DeviceThermostat)
	require.NoError(t, err)
	assert.Equal(t, 21.5, reading.Value)

	token, _, _, _, _ := f.counts()
	assert.Equal(t, 1, token, "exactly one refresh per expiry")
	require.Len(t, rotations, 1)
	assert.Equal(t, "refresh-2", rotations[0].RefreshToken, "the rotated pair is reported for persistence")
}

func TestClient_RevokedRefreshTokenIsTerminal(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)

	f.mu.Lock()
	f.validToken = "revoked"
	f.rejectRefresh = true
	f.mu.Unlock()

	_, err := client.Temperature(context.Background(), DeviceValve)
	var authErr *chaidata.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.True(t, authErr.Terminal)

	// Later operations fail immediately without touching the token endpoint.
	_, err = client.BoilerOn(context.Background())
	require.ErrorAs(t, err, &authErr)
	token, _, _, _, _ := f.counts()
	assert.Equal(t, 0, token)
}

func TestClient_Historic_ForwardFill(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	f.mu.Lock()
	f.historicBody = map[string][]float64{
		"1704067200": {4}, // 00:00
		"1704070800": {7}, // 01:00
	}
	f.mu.Unlock()

	series, err := client.Historic(context.Background(), DeviceThermostat, start, end, chaidata.Min30)
	require.NoError(t, err)

	require.Len(t, series, 4)
	values := []float64{series[0].Value, series[1].Value, series[2].Value, series[3].Value}
	assert.Equal(t, []float64{4, 4, 7, 7}, values, "values carry forward between readings")
	assert.Equal(t, start, series[0].Start)
	assert.Equal(t, end, series[3].End)
}

func TestClient_Historic_AlignsToInterval(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)

	f.mu.Lock()
	f.historicBody = map[string][]float64{"1704067200": {20}}
	f.mu.Unlock()

	start := time.Date(2024, 1, 1, 0, 7, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)

	series, err := client.Historic(context.Background(), DeviceThermostat, start, end, chaidata.Min5)
	require.NoError(t, err)

	require.Len(t, series, 11)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC), series[0].Start)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC), series[0].End)
	assert.Equal(t, end, series[10].End)
}

func TestClient_Historic_Validation(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := client.Historic(context.Background(), DeviceValve, start, start, chaidata.Min5)
	assert.ErrorIs(t, err, ErrEndBeforeStart)

	_, err = client.Historic(context.Background(), DeviceValve, start, start.Add(time.Hour), chaidata.Minutes(25))
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestClient_Historic_NoReadings(t *testing.T) {
	f := newFakeNetatmo(t)
	client := newTestClient(t, f)

	f.mu.Lock()
	f.historicBody = map[string][]float64{}
	f.mu.Unlock()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := client.Historic(context.Background(), DeviceValve, start, start.Add(time.Hour), chaidata.Min30)
	assert.ErrorIs(t, err, ErrMeasurement)
}
