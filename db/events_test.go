package db_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/heatpump-thermostat/db"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
)

func TestEventLogRoundTrip(t *testing.T) {
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	at := time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC)

	require.NoError(t, db.InsertBootEvent(conn, at, "serial-bridge"))
	require.NoError(t, db.InsertModeChange(conn, at.Add(time.Minute), model.ModeCool, 72.5, 70))
	require.NoError(t, db.InsertModeChange(conn, at.Add(5*time.Minute), model.ModeOff, 69.4, 70))
	require.NoError(t, db.InsertShutdownEvent(conn, at.Add(time.Hour)))

	events, err := db.RecentEvents(conn, 10)
	require.NoError(t, err)
	require.Len(t, events, 4)

	// Newest first.
	assert.Equal(t, db.KindShutdown, events[0].Kind)
	assert.Equal(t, db.KindModeChange, events[1].Kind)
	assert.Equal(t, "off", events[1].Mode)
	assert.InDelta(t, 69.4, events[1].Temperature, 0.001)
	assert.Equal(t, db.KindModeChange, events[2].Kind)
	assert.Equal(t, "cool", events[2].Mode)
	assert.Equal(t, db.KindBoot, events[3].Kind)
	assert.Equal(t, "serial-bridge", events[3].Detail)
	assert.Equal(t, at, events[3].OccurredAt)
}

func TestRecentEventsHonorsLimit(t *testing.T) {
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	at := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, db.InsertModeChange(conn, at.Add(time.Duration(i)*time.Minute), model.ModeHeat, 68, 72))
	}

	events, err := db.RecentEvents(conn, 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestRecentEventsEmptyLog(t *testing.T) {
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	events, err := db.RecentEvents(conn, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
