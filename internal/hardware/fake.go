package hardware

import (
	"sync"
	"time"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
)

// Fake is a test double. Scripted readings are consumed one per ReadSensor
// call; when exhausted the last one repeats. Relay writes are recorded.
type Fake struct {
	mu sync.Mutex

	Readings []model.Reading
	// ReadOK mirrors Readings; a false entry yields a failed read.
	ReadOK []bool

	index    int
	Commands [][]byte

	InitErr   error
	CleanedUp bool
}

func NewFake() *Fake {
	return &Fake{}
}

// Script appends a successful reading.
func (f *Fake) Script(temp, hum float64) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Readings = append(f.Readings, model.Reading{Temperature: temp, Humidity: hum, ObservedAt: time.Now()})
	f.ReadOK = append(f.ReadOK, true)
	return f
}

// ScriptFailure appends a failed read.
func (f *Fake) ScriptFailure() *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Readings = append(f.Readings, model.Reading{})
	f.ReadOK = append(f.ReadOK, false)
	return f
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Init() error { return f.InitErr }

func (f *Fake) WriteRelay(cmd []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make([]byte, len(cmd))
	copy(copied, cmd)
	f.Commands = append(f.Commands, copied)
}

func (f *Fake) ReadSensor() (model.Reading, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.Readings) == 0 {
		return model.Reading{}, false
	}

	r, ok := f.Readings[f.index], f.ReadOK[f.index]
	if f.index < len(f.Readings)-1 {
		f.index++
	}
	return r, ok
}

func (f *Fake) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CleanedUp = true
}

// LastCommand returns the most recent relay write, or nil.
func (f *Fake) LastCommand() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Commands) == 0 {
		return nil
	}
	return f.Commands[len(f.Commands)-1]
}

// CommandCount returns how many relay writes have been recorded.
func (f *Fake) CommandCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Commands)
}
