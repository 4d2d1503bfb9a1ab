package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/heatpump-thermostat/db"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/api"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/config"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/engine"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/hardware"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/history"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/sensor"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/setpoint"
)

type testRig struct {
	server *api.Server
	engine *engine.Engine
	hw     *hardware.Fake
	poller *sensor.Poller
	sp     *setpoint.Store
	cfg    *config.Config
}

func newRig(t *testing.T) *testRig {
	t.Helper()

	cfg := &config.Config{
		DeploymentType:                 model.DeployThermostat,
		Mode:                           model.HardwareLinux,
		TemperatureUnit:                "F",
		CoolingOffset:                  0.5,
		HeatingOffset:                  0.5,
		TemperatureDifferenceThreshold: 1.3,
		CompressorMinOffMinutes:        3,
		SensorPollIntervalSeconds:      10,
		DataSendIntervalSeconds:        120,
		ControlLoopIntervalMs:          5000,
		DefaultUserSetTemperature:      70,
		DeviceID:                       "thermo-01",
		Parsed: config.RelayCommands{
			Off:       []byte{0x00},
			FanOnly:   []byte{0x01},
			Cool:      []byte{0x03},
			Heat:      []byte{0x05},
			Emergency: []byte{0x0d},
		},
	}

	hw := hardware.NewFake().Script(71.6, 45.2)
	poller := sensor.New(hw, cfg.SensorPollIntervalSeconds, 5)
	poller.Poll()

	sp := setpoint.New(cfg.DefaultUserSetTemperature)
	eng := engine.New(hw, cfg.Parsed, poller, sp, history.New(), engine.Settings{
		CoolingOffset:    cfg.CoolingOffset,
		HeatingOffset:    cfg.HeatingOffset,
		Threshold:        cfg.TemperatureDifferenceThreshold,
		CompressorMinOff: 3 * time.Minute,
	})

	events, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	return &testRig{
		server: api.NewServer(eng, poller, sp, cfg, events),
		engine: eng,
		hw:     hw,
		poller: poller,
		sp:     sp,
		cfg:    cfg,
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStatusSnapshot(t *testing.T) {
	rig := newRig(t)

	rec := doJSON(t, rig.server.Handler(), http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status api.StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "off", status.State)
	assert.Equal(t, "off", status.Mode)
	assert.True(t, status.HaveReading)
	assert.InDelta(t, 71.6, status.Temperature, 0.001)
	assert.InDelta(t, 70.0, status.Target, 0.001)
	assert.Equal(t, "default", status.SetPointSource)
	assert.Equal(t, "F", status.TemperatureUnit)
	assert.False(t, status.EmergencyStop)
}

func TestSetpointUpdate(t *testing.T) {
	rig := newRig(t)

	rec := doJSON(t, rig.server.Handler(), http.MethodPut, "/api/setpoint", api.SetpointRequest{Target: 72.5})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 72.5, rig.sp.Get(), 0.001)

	_, source, _ := rig.sp.Snapshot()
	assert.Equal(t, model.SourceUser, source)
}

func TestSetpointRejectsOutOfRange(t *testing.T) {
	rig := newRig(t)

	rec := doJSON(t, rig.server.Handler(), http.MethodPut, "/api/setpoint", api.SetpointRequest{Target: 120})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.InDelta(t, 70.0, rig.sp.Get(), 0.001)
}

func TestSetpointRejectsBadJSON(t *testing.T) {
	rig := newRig(t)

	req := httptest.NewRequest(http.MethodPut, "/api/setpoint", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	rig.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFanToggle(t *testing.T) {
	rig := newRig(t)

	rec := doJSON(t, rig.server.Handler(), http.MethodPut, "/api/fan", api.ToggleRequest{Enabled: true})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, rig.engine.FanMode())
	assert.Equal(t, "fan_only", rig.engine.StateName())
}

func TestEmergencyStopToggle(t *testing.T) {
	rig := newRig(t)

	rec := doJSON(t, rig.server.Handler(), http.MethodPut, "/api/emergency_stop", api.ToggleRequest{Enabled: true})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, rig.engine.EmergencyStopped())
	assert.Equal(t, "off", rig.engine.StateName())
	assert.Equal(t, []byte{0x00}, rig.hw.LastCommand())

	rec = doJSON(t, rig.server.Handler(), http.MethodPut, "/api/emergency_stop", api.ToggleRequest{Enabled: false})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, rig.engine.EmergencyStopped())
}

func TestConfigSnapshotRendersRelayCommands(t *testing.T) {
	rig := newRig(t)

	rec := doJSON(t, rig.server.Handler(), http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view api.ConfigView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, "Thermostat", view.DeploymentType)
	assert.Equal(t, "0x00", view.RelayCommands.Off)
	assert.Equal(t, "0x0d", view.RelayCommands.Emergency)
	assert.InDelta(t, 1.3, view.TemperatureDifferenceThreshold, 0.001)
}

func TestConfigPatch(t *testing.T) {
	rig := newRig(t)

	offset := 0.8
	rec := doJSON(t, rig.server.Handler(), http.MethodPatch, "/api/config", api.ConfigUpdate{CoolingOffset: &offset})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.8, rig.cfg.CoolingOffset, 0.001)
}

func TestConfigPatchRejectsInvalid(t *testing.T) {
	rig := newRig(t)

	threshold := -1.0
	rec := doJSON(t, rig.server.Handler(), http.MethodPatch, "/api/config",
		api.ConfigUpdate{TemperatureDifferenceThreshold: &threshold})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.InDelta(t, 1.3, rig.cfg.TemperatureDifferenceThreshold, 0.001)
}

func TestEventsEndpoint(t *testing.T) {
	rig := newRig(t)

	rec := doJSON(t, rig.server.Handler(), http.MethodGet, "/api/events?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var events []db.Event
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&events))
	assert.Empty(t, events)
}

func TestMethodNotAllowed(t *testing.T) {
	rig := newRig(t)

	rec := doJSON(t, rig.server.Handler(), http.MethodPost, "/api/status", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doJSON(t, rig.server.Handler(), http.MethodGet, "/api/setpoint", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSPreflightIsAccepted(t *testing.T) {
	rig := newRig(t)

	rec := doJSON(t, rig.server.Handler(), http.MethodOptions, "/api/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
