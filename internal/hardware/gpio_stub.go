//go:build !linux

package hardware

import (
	"fmt"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
)

// GPIO is unavailable off Linux; Init reports a driver-missing probe failure
// so Probe continues down its order.
type GPIO struct{}

func NewGPIO(relayPins []int, activeLow bool, sensorPin *int, unit string, offCmd []byte) *GPIO {
	return &GPIO{}
}

func (g *GPIO) Name() string { return "gpio" }

func (g *GPIO) Init() error {
	return fmt.Errorf("%w: gpio character device requires linux", ErrDriverMissing)
}

func (g *GPIO) WriteRelay(cmd []byte) {}

func (g *GPIO) ReadSensor() (model.Reading, bool) { return model.Reading{}, false }

func (g *GPIO) Cleanup() {}
