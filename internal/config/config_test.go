package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/config"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
)

func validConfig() *config.Config {
	pin := 4
	return &config.Config{
		DeploymentType:                 model.DeployThermostat,
		Mode:                           model.HardwareLinux,
		TemperatureUnit:                "F",
		CoolingOffset:                  0.5,
		HeatingOffset:                  0.5,
		TemperatureDifferenceThreshold: 1.3,
		CompressorMinOffMinutes:        3,
		RelayPins:                      []int{17, 27, 22, 23},
		DHTSensorPin:                   &pin,
		DeviceID:                       "thermo-01",
		VMServer:                       "http://192.168.1.10:5000",
		Parsed: config.RelayCommands{
			Off:       []byte{0x00},
			FanOnly:   []byte{0x01},
			Cool:      []byte{0x03},
			Heat:      []byte{0x05},
			Emergency: []byte{0x0d},
		},
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsDuplicateRelayPins(t *testing.T) {
	cfg := validConfig()
	cfg.RelayPins = []int{17, 27, 17, 23}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pin 17")
}

func TestValidateRejectsSensorPinOverlap(t *testing.T) {
	cfg := validConfig()
	pin := 27
	cfg.DHTSensorPin = &pin
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dht_sensor_pin")
}

func TestValidateRequiresFourRelayPinsForThermostat(t *testing.T) {
	cfg := validConfig()
	cfg.RelayPins = []int{17, 27}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownUnit(t *testing.T) {
	cfg := validConfig()
	cfg.TemperatureUnit = "K"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingRelayCommandsForControlRole(t *testing.T) {
	cfg := validConfig()
	cfg.Parsed.Heat = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay_commands.heat")
}

func TestValidateAllowsProbeWithoutRelayCommands(t *testing.T) {
	cfg := validConfig()
	cfg.DeploymentType = model.DeployProbe
	cfg.Parsed = config.RelayCommands{}
	cfg.RelayPins = nil
	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiresFTDISerialWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.EnableFTDIRelay = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftdi_serial_number")
}
