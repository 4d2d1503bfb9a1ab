//go:build linux && cgo

package hardware

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/ziutek/ftdi"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
)

const (
	ftdiVendorID  = 0x0403
	ftdiProductID = 0x6001
)

// FTDI drives a relay board through an FT232-class device in bit-bang mode
// with all 8 pins as outputs. Sensor reading is delegated to a composed
// sensor-only backend (serial bridge or GPIO), chosen at probe time.
type FTDI struct {
	mu sync.Mutex

	serialNumber string
	sensor       Backend
	offCmd       []byte

	dev *ftdi.Device
}

func NewFTDI(serialNumber string, sensor Backend, offCmd []byte) *FTDI {
	return &FTDI{
		serialNumber: serialNumber,
		sensor:       sensor,
		offCmd:       offCmd,
	}
}

func (f *FTDI) Name() string { return "ftdi" }

func (f *FTDI) Init() error {
	f.mu.Lock()

	if f.serialNumber == "" {
		f.mu.Unlock()
		return fmt.Errorf("%w: ftdi serial number not configured", ErrConfigIncompatible)
	}

	dev, err := ftdi.Open(ftdiVendorID, ftdiProductID, "", f.serialNumber, 0, ftdi.ChannelAny)
	if err != nil {
		f.mu.Unlock()
		return classifyFTDIError(f.serialNumber, err)
	}

	if err := dev.SetBitmode(0xFF, ftdi.ModeBitbang); err != nil {
		dev.Close()
		f.mu.Unlock()
		return fmt.Errorf("%w: enable bitbang: %v", ErrConfigIncompatible, err)
	}

	f.dev = dev
	f.mu.Unlock()

	// The composed sensor backend manages its own serialization.
	if f.sensor != nil {
		if err := f.sensor.Init(); err != nil {
			f.mu.Lock()
			f.dev.Close()
			f.dev = nil
			f.mu.Unlock()
			return fmt.Errorf("ftdi sensor sub-backend: %w", err)
		}
	}

	log.Info().
		Str("serial_number", f.serialNumber).
		Msg("FTDI relay backend initialized")

	return nil
}

// WriteRelay drives the pin states from the command's final byte. In bit-bang
// mode every byte written latches all 8 outputs at once, so serial framings
// must not be strobed through the device byte-for-byte.
func (f *FTDI) WriteRelay(cmd []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dev == nil {
		log.Debug().Msg("FTDI device not open; relay write skipped")
		return
	}
	if len(cmd) == 0 {
		log.Error().Msg("Empty relay command ignored")
		return
	}

	if _, err := f.dev.Write(cmd[len(cmd)-1:]); err != nil {
		log.Error().Err(err).Str("command", fmt.Sprintf("%x", cmd)).Msg("FTDI relay write failed")
	}
}

func (f *FTDI) ReadSensor() (model.Reading, bool) {
	if f.sensor == nil {
		return model.Reading{}, false
	}
	return f.sensor.ReadSensor()
}

func (f *FTDI) Cleanup() {
	f.mu.Lock()
	if f.dev != nil {
		if len(f.offCmd) > 0 {
			if _, err := f.dev.Write(f.offCmd[len(f.offCmd)-1:]); err != nil {
				log.Error().Err(err).Msg("Failed to assert OFF during FTDI cleanup")
			}
		}
		if err := f.dev.SetBitmode(0, ftdi.ModeReset); err != nil {
			log.Debug().Err(err).Msg("FTDI bitmode reset failed")
		}
		f.dev.Close()
		f.dev = nil
	}
	f.mu.Unlock()

	if f.sensor != nil {
		f.sensor.Cleanup()
	}

	log.Info().Msg("FTDI backend released")
}

func classifyFTDIError(serialNumber string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: ftdi device %s", ErrPortNotFound, serialNumber)
	case strings.Contains(msg, "busy"):
		return fmt.Errorf("%w: ftdi device %s", ErrDeviceBusy, serialNumber)
	case strings.Contains(msg, "permission") || strings.Contains(msg, "access"):
		return fmt.Errorf("%w: ftdi device %s", ErrPermissionDenied, serialNumber)
	default:
		return fmt.Errorf("%w: ftdi device %s: %v", ErrPortNotFound, serialNumber, err)
	}
}
