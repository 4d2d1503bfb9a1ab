package hardware_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/config"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/hardware"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
)

func TestProbeFailsWithNoConfiguredBackends(t *testing.T) {
	cfg := &config.Config{
		DeploymentType: model.DeployThermostat,
		Mode:           model.HardwareLinux,
	}

	backend, err := hardware.Probe(cfg)
	require.Error(t, err)
	assert.Nil(t, backend)
	assert.Contains(t, err.Error(), "no hardware backend available")
}

func TestProbeReportsEachCandidateFailure(t *testing.T) {
	pin := 4
	cfg := &config.Config{
		DeploymentType: model.DeployThermostat,
		Mode:           model.HardwareLinux,
		ArduinoComPort: "/dev/ttyUSB-does-not-exist",
		BaudRate:       9600,
		ComTimeoutMs:   100,
		RelayPins:      []int{17, 27, 22, 23},
		DHTSensorPin:   &pin,
		Parsed:         config.RelayCommands{Off: []byte{0x00}},
	}

	_, err := hardware.Probe(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serial-bridge")
	assert.Contains(t, err.Error(), "gpio")
}
