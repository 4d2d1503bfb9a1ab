package hardware

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/config"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
)

// Probe walks the backend candidates in platform order and returns the first
// that initializes. Candidates whose configuration is absent are skipped
// without an attempt.
//
// Auto order: on Windows, serial bridge then GPIO; on Linux, FTDI (when
// enabled), then serial bridge, then GPIO. A pinned mode restricts the order to its
// platform's entries regardless of the running OS.
func Probe(cfg *config.Config) (Backend, error) {
	var candidates []Backend

	effective := cfg.Mode
	if effective == model.HardwareAuto {
		if runtime.GOOS == "windows" {
			effective = model.HardwareWindows
		} else {
			effective = model.HardwareLinux
		}
	}

	switch effective {
	case model.HardwareWindows:
		candidates = append(candidates, serialCandidate(cfg))
		candidates = append(candidates, gpioCandidate(cfg))
	case model.HardwareLinux:
		candidates = append(candidates, ftdiCandidate(cfg))
		candidates = append(candidates, serialCandidate(cfg))
		candidates = append(candidates, gpioCandidate(cfg))
	}

	var failures []string
	for _, backend := range candidates {
		if backend == nil {
			continue
		}

		log.Info().Str("backend", backend.Name()).Msg("Probing hardware backend")
		err := backend.Init()
		if err == nil {
			log.Info().Str("backend", backend.Name()).Msg("Hardware backend selected")
			return backend, nil
		}

		log.Warn().Err(err).Str("backend", backend.Name()).Msg("Hardware probe failed")
		failures = append(failures, fmt.Sprintf("%s: %v", backend.Name(), err))
	}

	return nil, fmt.Errorf("no hardware backend available: %s", strings.Join(failures, "; "))
}

func serialCandidate(cfg *config.Config) Backend {
	if cfg.ArduinoComPort == "" && cfg.RelayComPort == "" {
		return nil
	}
	relayPath := cfg.RelayComPort
	if !cfg.DeploymentType.RunsControlLoop() {
		relayPath = ""
	}
	return NewSerialBridge(cfg.ArduinoComPort, relayPath, cfg.BaudRate, cfg.ComTimeoutMs, cfg.TemperatureUnit, cfg.Parsed.Off)
}

func gpioCandidate(cfg *config.Config) Backend {
	if len(cfg.RelayPins) == 0 && cfg.DHTSensorPin == nil {
		return nil
	}
	relayPins := cfg.RelayPins
	if !cfg.DeploymentType.RunsControlLoop() {
		relayPins = nil
	}
	return NewGPIO(relayPins, cfg.RelayActiveLow, cfg.DHTSensorPin, cfg.TemperatureUnit, cfg.Parsed.Off)
}

// ftdiCandidate composes the relay half with a sensor-only sub-backend: the
// serial bridge when an arduino port is configured, otherwise the DHT22 over
// GPIO. GPIO relay lines are never combined with an FTDI board; the pin
// assignment would be ambiguous.
func ftdiCandidate(cfg *config.Config) Backend {
	if !cfg.EnableFTDIRelay || cfg.FTDISerialNumber == "" {
		return nil
	}

	var sensor Backend
	if cfg.ArduinoComPort != "" {
		sensor = NewSerialBridge(cfg.ArduinoComPort, "", cfg.BaudRate, cfg.ComTimeoutMs, cfg.TemperatureUnit, nil)
	} else if cfg.DHTSensorPin != nil {
		sensor = NewGPIO(nil, cfg.RelayActiveLow, cfg.DHTSensorPin, cfg.TemperatureUnit, nil)
	}

	return NewFTDI(cfg.FTDISerialNumber, sensor, cfg.Parsed.Off)
}
