// Package shutdown runs the ordered stop sequence: engine off first, then
// the periodic tasks, then hardware release, then the event log.
package shutdown

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-thermostat/db"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/engine"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/hardware"
)

type Cascade struct {
	Cancel   context.CancelFunc
	Engine   *engine.Engine
	Hardware hardware.Backend
	Events   *sql.DB
}

// Run tears the process down. The engine writes OFF and stops accepting
// ticks before anything else is released; hardware cleanup asserts OFF once
// more and, for the GPIO variant, joins the native polling thread with a
// bounded timeout.
func (c Cascade) Run() {
	log.Info().Msg("Shutting down")

	if c.Engine != nil {
		c.Engine.Shutdown()
	}

	if c.Cancel != nil {
		c.Cancel()
	}
	// Give the periodic tasks a moment to observe cancellation before their
	// hardware disappears underneath them.
	time.Sleep(250 * time.Millisecond)

	if c.Hardware != nil {
		c.Hardware.Cleanup()
	}

	if c.Events != nil {
		if err := db.InsertShutdownEvent(c.Events, time.Now()); err != nil {
			log.Debug().Err(err).Msg("Shutdown event not recorded")
		}
		c.Events.Close()
	}

	log.Info().Msg("Shutdown complete")
}
