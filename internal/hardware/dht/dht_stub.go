//go:build !linux || !cgo

package dht

import "errors"

var ErrUnsupported = errors.New("dht22 polling requires linux with cgo and pigpio")

type Handle struct{}

func Acquire(pin int) (*Handle, error) {
	return nil, ErrUnsupported
}

func (h *Handle) Read() (tempC, humidity float64, ok bool) {
	return 0, 0, false
}

func (h *Handle) Release() {}
