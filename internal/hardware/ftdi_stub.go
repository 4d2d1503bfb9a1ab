//go:build !linux || !cgo

package hardware

import (
	"fmt"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
)

// FTDI bit-bang requires libftdi via cgo on Linux; elsewhere Init reports a
// driver-missing probe failure.
type FTDI struct {
	sensor Backend
}

func NewFTDI(serialNumber string, sensor Backend, offCmd []byte) *FTDI {
	return &FTDI{sensor: sensor}
}

func (f *FTDI) Name() string { return "ftdi" }

func (f *FTDI) Init() error {
	return fmt.Errorf("%w: ftdi bitbang requires linux with cgo and libftdi", ErrDriverMissing)
}

func (f *FTDI) WriteRelay(cmd []byte) {}

func (f *FTDI) ReadSensor() (model.Reading, bool) { return model.Reading{}, false }

func (f *FTDI) Cleanup() {}
