package hardware

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
)

// sensorRequestByte asks the microcontroller bridge for a reading. The reply
// is "T:<float>,H:<float>\n" in degrees Fahrenheit.
const sensorRequestByte = 'R'

// settleDelay is how long freshly opened microcontroller ports need before
// they answer reliably; opening the port resets most Arduino-class boards.
const settleDelay = 2 * time.Second

// SerialBridge talks to a microcontroller sensor bridge on one COM port and
// a raw-byte relay controller on another. Either port may be absent: a
// sensor-only bridge (composed under the FTDI backend, or probed for a
// deployment that drives no relays) opens no relay port, and a bridge with
// only a relay port reports no sensor readings.
type SerialBridge struct {
	mu sync.Mutex

	sensorPath string
	relayPath  string
	baudRate   int
	timeout    time.Duration
	unit       string

	sensorPort serial.Port
	relayPort  serial.Port

	offCmd []byte
}

func NewSerialBridge(sensorPath, relayPath string, baudRate, timeoutMs int, unit string, offCmd []byte) *SerialBridge {
	return &SerialBridge{
		sensorPath: sensorPath,
		relayPath:  relayPath,
		baudRate:   baudRate,
		timeout:    time.Duration(timeoutMs) * time.Millisecond,
		unit:       unit,
		offCmd:     offCmd,
	}
}

func (b *SerialBridge) Name() string { return "serial-bridge" }

func (b *SerialBridge) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sensorPath == "" && b.relayPath == "" {
		return fmt.Errorf("%w: no COM ports configured", ErrConfigIncompatible)
	}

	mode := &serial.Mode{BaudRate: b.baudRate}

	if b.sensorPath != "" {
		port, err := serial.Open(b.sensorPath, mode)
		if err != nil {
			return classifySerialError(b.sensorPath, err)
		}
		if err := port.SetReadTimeout(b.timeout); err != nil {
			port.Close()
			return fmt.Errorf("%w: set read timeout on %s: %v", ErrConfigIncompatible, b.sensorPath, err)
		}
		b.sensorPort = port
	}

	if b.relayPath != "" {
		port, err := serial.Open(b.relayPath, mode)
		if err != nil {
			if b.sensorPort != nil {
				b.sensorPort.Close()
				b.sensorPort = nil
			}
			return classifySerialError(b.relayPath, err)
		}
		b.relayPort = port
	}

	// Opening a port resets the microcontroller; give it time to boot.
	time.Sleep(settleDelay)

	log.Info().
		Str("sensor_port", b.sensorPath).
		Str("relay_port", b.relayPath).
		Int("baud_rate", b.baudRate).
		Msg("Serial bridge initialized")

	return nil
}

func (b *SerialBridge) WriteRelay(cmd []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.relayPort == nil {
		log.Debug().Msg("Serial bridge has no relay port; relay write skipped")
		return
	}

	if _, err := b.relayPort.Write(cmd); err != nil {
		log.Error().Err(err).Str("command", fmt.Sprintf("%x", cmd)).Msg("Relay write failed")
	}
}

func (b *SerialBridge) ReadSensor() (model.Reading, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sensorPort == nil {
		return model.Reading{}, false
	}

	// Drop anything left over from a previous exchange so the reply we read
	// matches the request we are about to send.
	if err := b.sensorPort.ResetInputBuffer(); err != nil {
		log.Debug().Err(err).Msg("Failed to reset serial input buffer")
	}
	if err := b.sensorPort.ResetOutputBuffer(); err != nil {
		log.Debug().Err(err).Msg("Failed to reset serial output buffer")
	}

	if _, err := b.sensorPort.Write([]byte{sensorRequestByte}); err != nil {
		log.Warn().Err(err).Msg("Sensor request write failed")
		return model.Reading{}, false
	}

	line, err := b.readLine()
	if err != nil {
		log.Debug().Err(err).Msg("Sensor read failed")
		return model.Reading{}, false
	}

	tempF, hum, err := parseSensorResponse(line)
	if err != nil {
		log.Debug().Err(err).Str("line", line).Msg("Sensor response rejected")
		return model.Reading{}, false
	}

	temp := tempF
	if b.unit == "C" {
		temp = fahrenheitToCelsius(tempF)
	}

	return model.Reading{
		Temperature: temp,
		Humidity:    hum,
		ObservedAt:  time.Now(),
	}, true
}

// readLine accumulates bytes until newline. The port read timeout bounds each
// Read call; a zero-byte read means the timeout expired.
func (b *SerialBridge) readLine() (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	deadline := time.Now().Add(b.timeout)

	for time.Now().Before(deadline) {
		n, err := b.sensorPort.Read(buf)
		if err != nil {
			return "", fmt.Errorf("serial read: %w", err)
		}
		if n == 0 {
			return "", fmt.Errorf("serial read timed out")
		}
		if buf[0] == '\n' {
			return sb.String(), nil
		}
		sb.WriteByte(buf[0])
	}
	return "", fmt.Errorf("serial response incomplete before deadline")
}

// parseSensorResponse parses "T:<float>,H:<float>". Sentinel values the
// firmware emits when its own DHT read failed are rejected along with
// anything physically implausible.
func parseSensorResponse(line string) (float64, float64, error) {
	line = strings.TrimSpace(line)

	var temp, hum float64
	if _, err := fmt.Sscanf(line, "T:%f,H:%f", &temp, &hum); err != nil {
		return 0, 0, fmt.Errorf("malformed sensor response: %w", err)
	}

	if temp < -90 || temp > 200 {
		return 0, 0, fmt.Errorf("sentinel or implausible temperature %.2f", temp)
	}
	if hum < 0 || hum > 100 {
		return 0, 0, fmt.Errorf("humidity %.2f out of range", hum)
	}

	return temp, hum, nil
}

func (b *SerialBridge) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.relayPort != nil {
		// Assert OFF once more before releasing the handle.
		if len(b.offCmd) > 0 {
			if _, err := b.relayPort.Write(b.offCmd); err != nil {
				log.Error().Err(err).Msg("Failed to write OFF command during cleanup")
			}
		}
		b.relayPort.Close()
		b.relayPort = nil
	}
	if b.sensorPort != nil {
		b.sensorPort.Close()
		b.sensorPort = nil
	}

	log.Info().Msg("Serial bridge closed")
}

// classifySerialError maps go.bug.st/serial failures onto the probe error
// kinds so Probe can decide whether to keep walking the order.
func classifySerialError(path string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound:
			return fmt.Errorf("%w: %s", ErrPortNotFound, path)
		case serial.PortBusy:
			return fmt.Errorf("%w: %s", ErrDeviceBusy, path)
		case serial.PermissionDenied:
			return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrPortNotFound, path, err)
}
