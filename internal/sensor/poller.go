// Package sensor owns the background polling loop that turns raw hardware
// reads into the latest valid (temperature, humidity) pair.
package sensor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/datadog"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/hardware"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/notifications"
)

// WarmupSuccessCount is how many successful reads the poller needs before
// failures stop being expected DHT22 noise and start counting toward the
// failure threshold.
const WarmupSuccessCount = 3

type Stats struct {
	SuccessfulReads     int  `json:"successful_reads"`
	ConsecutiveFailures int  `json:"consecutive_failures"`
	WarmedUp            bool `json:"warmed_up"`
}

type Poller struct {
	hw               hardware.Backend
	interval         time.Duration
	failureThreshold int

	mu      sync.Mutex
	current *model.Reading
	stats   Stats
	warned  bool
}

func New(hw hardware.Backend, pollIntervalSeconds, failureThreshold int) *Poller {
	return &Poller{
		hw:               hw,
		interval:         time.Duration(pollIntervalSeconds) * time.Second,
		failureThreshold: failureThreshold,
	}
}

// Run polls until the context is cancelled. The first poll happens
// immediately so the engine is not blind for a full interval after boot.
func (p *Poller) Run(ctx context.Context) {
	log.Info().Dur("interval", p.interval).Msg("Starting sensor poller")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Sensor poller stopped")
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Poll performs one read cycle. Exported so tests can drive the poller
// without timers.
func (p *Poller) Poll() {
	reading, ok := p.hw.ReadSensor()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !ok {
		p.stats.ConsecutiveFailures++
		p.recordFailureLocked()
		return
	}

	reading.Temperature = math.Round(reading.Temperature*10) / 10
	reading.Humidity = math.Round(reading.Humidity*100) / 100

	p.current = &reading
	p.stats.SuccessfulReads++
	p.stats.ConsecutiveFailures = 0
	p.stats.WarmedUp = p.stats.SuccessfulReads >= WarmupSuccessCount
	p.warned = false

	datadog.Gauge("sensor.temperature", reading.Temperature, "component:sensor")
	datadog.Gauge("sensor.humidity", reading.Humidity, "component:sensor")

	log.Debug().
		Float64("temp", reading.Temperature).
		Float64("humidity", reading.Humidity).
		Msg("Sensor reading published")
}

func (p *Poller) recordFailureLocked() {
	datadog.Incr("sensor.read_failure", "component:sensor")

	if !p.stats.WarmedUp {
		// DHT22 sensors routinely miss reads right after power-up.
		log.Debug().
			Int("consecutive_failures", p.stats.ConsecutiveFailures).
			Msg("Sensor read failed during warm-up")
		return
	}

	if p.stats.ConsecutiveFailures <= p.failureThreshold {
		log.Debug().
			Int("consecutive_failures", p.stats.ConsecutiveFailures).
			Msg("Sensor read failed")
		return
	}

	if !p.warned {
		p.warned = true
		log.Warn().
			Int("consecutive_failures", p.stats.ConsecutiveFailures).
			Int("threshold", p.failureThreshold).
			Msg("Sensor failure streak exceeded threshold")

		if err := notifications.Send("Thermostat sensor failure",
			fmt.Sprintf("%d consecutive failed sensor reads", p.stats.ConsecutiveFailures)); err != nil {
			log.Debug().Err(err).Msg("Sensor failure notification not sent")
		}
	}
}

// CurrentReadings returns an atomic snapshot of the latest valid pair, or
// ok=false when no valid reading has been produced yet.
func (p *Poller) CurrentReadings() (model.Reading, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return model.Reading{}, false
	}
	return *p.current, true
}

func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
