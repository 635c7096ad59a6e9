// Package clickhouse is an alternative event store for deployments that
// keep attack history in ClickHouse instead of the local SQLite file.
package clickhouse

import (
	"context"
	"errors"
	"fmt"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/banshee-data/deauth.watch/internal/db"
	"github.com/banshee-data/deauth.watch/internal/event"
	"github.com/banshee-data/deauth.watch/internal/ingest"
	"github.com/banshee-data/deauth.watch/internal/monitoring"
)

const createTable = `
CREATE TABLE IF NOT EXISTS deauth_events (
    timestamp     UInt64,
    attack_mac    String,
    sensor_mac    String,
    rssi_mean     Int8,
    rssi_variance Float32,
    frame_count   Int32
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(fromUnixTimestamp64Micro(toInt64(timestamp)))
ORDER BY (timestamp, attack_mac, sensor_mac);
`

// Config locates the ClickHouse server.
type Config struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// conn is the subset of driver.Conn the store uses.
type conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Close() error
}

type Store struct {
	conn conn
}

var logf = monitoring.Component("clickhouse")

var (
	_ ingest.Store   = (*Store)(nil)
	_ db.EventStore = (*Store)(nil)
)

// Open connects, pings, and ensures the events table exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	c, err := ch.Open(&ch.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &ch.Compression{Method: ch.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	s, err := newStore(ctx, c)
	if err != nil {
		c.Close()
		return nil, err
	}
	logf("connected to %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	return s, nil
}

func newStore(ctx context.Context, c conn) (*Store, error) {
	if err := c.Exec(ctx, createTable); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &Store{conn: c}, nil
}

func (s *Store) Close() error { return s.conn.Close() }

type batch struct {
	b driver.Batch
}

func (s *Store) BeginBatch(ctx context.Context) (ingest.Batch, error) {
	b, err := s.conn.PrepareBatch(ctx, "INSERT INTO deauth_events")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare batch: %w", err)
	}
	return &batch{b: b}, nil
}

func (b *batch) Append(rec event.Record) error {
	if err := rec.CheckTimestamp(); err != nil {
		return err
	}
	err := b.b.Append(
		rec.Timestamp,
		rec.Attacker.String(),
		rec.Sensor.String(),
		rec.RSSIMean,
		rec.RSSIVariance,
		rec.FrameCount,
	)
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

func (b *batch) Flush() error {
	if err := b.b.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func (b *batch) Abort() error {
	if b.b.IsSent() {
		return nil
	}
	return b.b.Abort()
}

func (s *Store) LatestPerSensor(ctx context.Context, since uint64) ([]event.Record, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT
			max(timestamp),
			attack_mac,
			sensor_mac,
			argMax(rssi_mean, timestamp),
			argMax(rssi_variance, timestamp),
			argMax(frame_count, timestamp)
		FROM deauth_events
		WHERE timestamp >= ?
		GROUP BY attack_mac, sensor_mac
		ORDER BY attack_mac, sensor_mac`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest per sensor: %w", err)
	}
	return scanEvents(rows)
}

func (s *Store) EventsInWindow(ctx context.Context, center, window uint64) ([]event.Record, error) {
	lo, hi := event.WindowBounds(center, window)
	rows, err := s.conn.Query(ctx, `
		SELECT timestamp, attack_mac, sensor_mac, rssi_mean, rssi_variance, frame_count
		FROM deauth_events
		WHERE timestamp BETWEEN ? AND ?
		ORDER BY attack_mac, timestamp`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("failed to query events in window: %w", err)
	}
	return scanEvents(rows)
}

func (s *Store) SensorSummaries(ctx context.Context) ([]db.SensorSummary, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT sensor_mac, count(), max(timestamp)
		FROM deauth_events
		GROUP BY sensor_mac
		ORDER BY sensor_mac`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensors: %w", err)
	}
	defer rows.Close()

	var out []db.SensorSummary
	for rows.Next() {
		var (
			mac    string
			count  uint64
			latest uint64
		)
		if err := rows.Scan(&mac, &count, &latest); err != nil {
			return nil, fmt.Errorf("failed to scan sensor summary: %w", err)
		}
		sensor, err := event.ParseMAC(mac)
		if err != nil {
			return nil, fmt.Errorf("stored sensor mac %q: %w", mac, err)
		}
		out = append(out, db.SensorSummary{Sensor: sensor, Events: int64(count), LastSeen: latest})
	}
	return out, rows.Err()
}

func scanEvents(rows driver.Rows) ([]event.Record, error) {
	defer rows.Close()
	var out []event.Record
	for rows.Next() {
		var (
			rec            event.Record
			attack, sensor string
		)
		if err := rows.Scan(&rec.Timestamp, &attack, &sensor, &rec.RSSIMean, &rec.RSSIVariance, &rec.FrameCount); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var errA, errS error
		rec.Attacker, errA = event.ParseMAC(attack)
		rec.Sensor, errS = event.ParseMAC(sensor)
		if err := errors.Join(errA, errS); err != nil {
			return nil, fmt.Errorf("stored mac: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
