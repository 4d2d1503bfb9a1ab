// Package hardware provides a uniform relay-write and sensor-read interface
// over three very different backends: a serial microcontroller bridge, Linux
// GPIO character-device lines, and an FTDI bit-bang relay board. Each backend
// serializes access to its underlying handle; callers may invoke concurrently.
package hardware

import (
	"errors"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
)

// Backend is the capability set the control engine and sensor poller share.
//
// WriteRelay never surfaces an error: write failures are logged and the call
// is a no-op, the engine retries on its next tick. ReadSensor reports ok=false
// on any protocol or parse failure. Cleanup must assert the OFF command once
// more before releasing handles.
type Backend interface {
	Name() string
	Init() error
	WriteRelay(cmd []byte)
	ReadSensor() (model.Reading, bool)
	Cleanup()
}

// Initialization failure kinds. Probe distinguishes these to decide whether
// to continue down the probe order or abort.
var (
	ErrPortNotFound       = errors.New("port not found")
	ErrDeviceBusy         = errors.New("device busy")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrDriverMissing      = errors.New("driver missing")
	ErrConfigIncompatible = errors.New("configuration incompatible with backend")
)

// fahrenheitToCelsius converts the serial bridge's native unit.
func fahrenheitToCelsius(f float64) float64 {
	return (f - 32.0) * 5.0 / 9.0
}

// celsiusToFahrenheit converts the DHT22 native unit.
func celsiusToFahrenheit(c float64) float64 {
	return c*9.0/5.0 + 32.0
}
