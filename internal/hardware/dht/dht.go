//go:build linux && cgo

// Package dht wraps the pigpio-based DHT22 polling thread. The native side
// owns a background OS thread that drives the sensor protocol and caches the
// latest checksum-valid reading; this package exposes it as a process-wide
// singleton handle with exclusive acquisition and idempotent release.
package dht

/*
#cgo LDFLAGS: -lpigpio -lpthread
#include "dht22.h"
*/
import "C"

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	mu       sync.Mutex
	acquired bool
)

// Handle is the exclusive grant on the native polling thread.
type Handle struct {
	pin      int
	released bool
	mu       sync.Mutex
}

// Acquire initialises pigpio and starts the polling thread on the given BCM
// pin. Only one handle may exist per process; a second Acquire fails until
// the first is released.
func Acquire(pin int) (*Handle, error) {
	mu.Lock()
	defer mu.Unlock()

	if acquired {
		return nil, fmt.Errorf("dht22 polling thread already acquired")
	}

	if C.dht22_init() != 0 {
		return nil, fmt.Errorf("pigpio initialization failed")
	}
	if C.dht22_start_polling(C.int(pin)) != 0 {
		C.dht22_terminate()
		return nil, fmt.Errorf("failed to start dht22 polling thread on pin %d", pin)
	}

	acquired = true
	log.Info().Int("pin", pin).Msg("DHT22 polling thread started")

	return &Handle{pin: pin}, nil
}

// Read returns the most recent valid reading in degrees Celsius, or ok=false
// when the poller has not produced one yet.
func (h *Handle) Read() (tempC, humidity float64, ok bool) {
	var t, hum C.float
	if C.dht22_get_last_valid_reading(&t, &hum) != 0 {
		return 0, 0, false
	}
	return float64(t), float64(hum), true
}

// Release stops the polling thread (bounded join, force-cancel on timeout)
// and tears pigpio down. Safe to call more than once.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return
	}
	h.released = true

	C.dht22_terminate()

	mu.Lock()
	acquired = false
	mu.Unlock()

	log.Info().Int("pin", h.pin).Msg("DHT22 polling thread terminated")
}
