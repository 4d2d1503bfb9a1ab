//go:build linux

package hardware

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/warthog618/go-gpiocdev"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/hardware/dht"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
)

const gpioChipName = "gpiochip0"

// GPIO drives relay lines through the Linux GPIO character device and reads
// the DHT22 through the native pigpio polling thread. Either half may be
// absent: a sensor-only instance is composed under the FTDI backend or probed
// for a deployment that drives no relays, and an instance without a sensor
// pin reports no sensor readings.
type GPIO struct {
	mu sync.Mutex

	relayPins []int
	activeLow bool
	sensorPin *int
	unit      string
	offCmd    []byte

	chip   *gpiocdev.Chip
	lines  []*gpiocdev.Line
	sensor *dht.Handle
}

func NewGPIO(relayPins []int, activeLow bool, sensorPin *int, unit string, offCmd []byte) *GPIO {
	return &GPIO{
		relayPins: relayPins,
		activeLow: activeLow,
		sensorPin: sensorPin,
		unit:      unit,
		offCmd:    offCmd,
	}
}

func (g *GPIO) Name() string { return "gpio" }

func (g *GPIO) Init() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.relayPins) == 0 && g.sensorPin == nil {
		return fmt.Errorf("%w: no relay pins or sensor pin configured", ErrConfigIncompatible)
	}

	if len(g.relayPins) > 0 {
		chip, err := gpiocdev.NewChip(gpioChipName)
		if err != nil {
			return fmt.Errorf("%w: open %s: %v", ErrDriverMissing, gpioChipName, err)
		}
		g.chip = chip

		released := g.levelFor(false)
		for _, pin := range g.relayPins {
			line, err := chip.RequestLine(pin, gpiocdev.AsOutput(released))
			if err != nil {
				g.closeLines()
				return fmt.Errorf("%w: request relay pin %d: %v", ErrDeviceBusy, pin, err)
			}
			g.lines = append(g.lines, line)
		}
	}

	if g.sensorPin != nil {
		handle, err := dht.Acquire(*g.sensorPin)
		if err != nil {
			g.closeLines()
			return fmt.Errorf("%w: %v", ErrDriverMissing, err)
		}
		g.sensor = handle
	}

	log.Info().
		Ints("relay_pins", g.relayPins).
		Bool("active_low", g.activeLow).
		Msg("GPIO backend initialized")

	return nil
}

// WriteRelay maps the command's relay bitmap onto the configured lines: bit i
// of the byte engages relay i. Multi-byte serial framings carry the bitmap in
// their final byte.
func (g *GPIO) WriteRelay(cmd []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.lines) == 0 {
		log.Debug().Msg("GPIO backend has no relay lines; relay write skipped")
		return
	}
	if len(cmd) == 0 {
		log.Error().Msg("Empty relay command ignored")
		return
	}

	bitmap := cmd[len(cmd)-1]
	for i, line := range g.lines {
		engaged := bitmap&(1<<uint(i)) != 0
		if err := line.SetValue(g.levelFor(engaged)); err != nil {
			log.Error().Err(err).Int("pin", g.relayPins[i]).Msg("Relay line write failed")
		}
	}
}

func (g *GPIO) ReadSensor() (model.Reading, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sensor == nil {
		return model.Reading{}, false
	}

	tempC, hum, ok := g.sensor.Read()
	if !ok {
		return model.Reading{}, false
	}
	if hum < 0 || hum > 100 {
		log.Debug().Float64("humidity", hum).Msg("Rejecting implausible humidity")
		return model.Reading{}, false
	}

	temp := tempC
	if g.unit == "F" {
		temp = celsiusToFahrenheit(tempC)
	}

	return model.Reading{
		Temperature: temp,
		Humidity:    hum,
		ObservedAt:  time.Now(),
	}, true
}

func (g *GPIO) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.lines) > 0 && len(g.offCmd) > 0 {
		bitmap := g.offCmd[len(g.offCmd)-1]
		for i, line := range g.lines {
			engaged := bitmap&(1<<uint(i)) != 0
			if err := line.SetValue(g.levelFor(engaged)); err != nil {
				log.Error().Err(err).Int("pin", g.relayPins[i]).Msg("Failed to assert OFF during cleanup")
			}
		}
	}
	g.closeLines()

	if g.sensor != nil {
		g.sensor.Release()
		g.sensor = nil
	}

	log.Info().Msg("GPIO backend released")
}

func (g *GPIO) levelFor(engaged bool) int {
	if engaged != g.activeLow {
		return 1
	}
	return 0
}

func (g *GPIO) closeLines() {
	for _, line := range g.lines {
		line.Close()
	}
	g.lines = nil
	if g.chip != nil {
		g.chip.Close()
		g.chip = nil
	}
}
