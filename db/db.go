// Package db keeps a small append-only diagnostic log in SQLite: boot events
// and control mode transitions. It is write-only from the control path; the
// engine never reads it back, so a wiped or missing file changes nothing
// about control behavior.
package db

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply event schema: %w", err)
	}

	return conn, nil
}
