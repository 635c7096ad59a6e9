// Package db is the SQLite event store. The schema is owned by embedded
// golang-migrate migrations; the ingestion pipeline writes through batches
// and the localization engine and query tools only read.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/deauth.watch/internal/event"
)

// DefaultPath is the database file used when none is configured.
const DefaultPath = "deauthwatch.db"

type DB struct {
	*sql.DB
	path string
}

// EventStore is the read side shared by the SQLite and ClickHouse stores.
type EventStore interface {
	LatestPerSensor(ctx context.Context, since uint64) ([]event.Record, error)
	EventsInWindow(ctx context.Context, center, window uint64) ([]event.Record, error)
	SensorSummaries(ctx context.Context) ([]SensorSummary, error)
	Close() error
}

// SensorSummary is the per-sensor activity shown by the API.
type SensorSummary struct {
	Sensor   event.MAC `json:"sensor_mac"`
	Events   int64     `json:"events"`
	LastSeen uint64    `json:"last_seen"`
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// OpenDB opens the database and applies connection pragmas without touching
// the schema. The migrate command uses it directly.
func OpenDB(path string) (*DB, error) {
	if path == "" {
		path = DefaultPath
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if isMemory(path) {
		// every pooled connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// NewDB opens the database and migrates it to the latest schema.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the path the database was opened with.
func (db *DB) Path() string { return db.path }

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}
