package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
)

const (
	KindBoot       = "boot"
	KindShutdown   = "shutdown"
	KindModeChange = "mode_change"
)

type Event struct {
	ID          int64     `json:"id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Kind        string    `json:"kind"`
	Mode        string    `json:"mode,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Target      float64   `json:"target,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// InsertBootEvent records process start with the backend that won the probe.
func InsertBootEvent(conn *sql.DB, at time.Time, backend string) error {
	_, err := conn.Exec(
		`INSERT INTO events (occurred_at, kind, detail) VALUES (?, ?, ?)`,
		at.UTC().Format(time.RFC3339), KindBoot, backend)
	if err != nil {
		return fmt.Errorf("failed to insert boot event: %w", err)
	}
	return nil
}

// InsertShutdownEvent records an orderly stop.
func InsertShutdownEvent(conn *sql.DB, at time.Time) error {
	_, err := conn.Exec(
		`INSERT INTO events (occurred_at, kind) VALUES (?, ?)`,
		at.UTC().Format(time.RFC3339), KindShutdown)
	if err != nil {
		return fmt.Errorf("failed to insert shutdown event: %w", err)
	}
	return nil
}

// InsertModeChange records a deduplicated engine transition with the
// temperatures that drove it.
func InsertModeChange(conn *sql.DB, at time.Time, mode model.Mode, temperature, target float64) error {
	_, err := conn.Exec(
		`INSERT INTO events (occurred_at, kind, mode, temperature, target) VALUES (?, ?, ?, ?, ?)`,
		at.UTC().Format(time.RFC3339), KindModeChange, string(mode), temperature, target)
	if err != nil {
		return fmt.Errorf("failed to insert mode change: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events first.
func RecentEvents(conn *sql.DB, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := conn.Query(
		`SELECT id, occurred_at, kind, COALESCE(mode, ''), COALESCE(temperature, 0), COALESCE(target, 0), COALESCE(detail, '')
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var occurred string
		if err := rows.Scan(&e.ID, &occurred, &e.Kind, &e.Mode, &e.Temperature, &e.Target, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.OccurredAt, _ = time.Parse(time.RFC3339, occurred)
		events = append(events, e)
	}
	return events, rows.Err()
}
