package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/deauth.watch/internal/event"
	"github.com/banshee-data/deauth.watch/internal/ingest"
)

const insertEvent = `INSERT INTO events
	(timestamp, attack_mac, sensor_mac, rssi_mean, rssi_variance, frame_count)
	VALUES (?, ?, ?, ?, ?, ?)`

const eventColumns = `timestamp, attack_mac, sensor_mac, rssi_mean, rssi_variance, frame_count`

// EventBatch is one transaction with a prepared insert. Nothing is visible
// to readers until Flush commits.
type EventBatch struct {
	ctx  context.Context
	tx   *sql.Tx
	stmt *sql.Stmt
}

// BeginBatch opens a transaction for one reorder bucket.
func (db *DB) BeginBatch(ctx context.Context) (ingest.Batch, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	return &EventBatch{ctx: ctx, tx: tx, stmt: stmt}, nil
}

func (b *EventBatch) Append(rec event.Record) error {
	if err := rec.CheckTimestamp(); err != nil {
		return err
	}
	_, err := b.stmt.ExecContext(b.ctx,
		int64(rec.Timestamp),
		rec.Attacker.String(),
		rec.Sensor.String(),
		int64(rec.RSSIMean),
		float64(rec.RSSIVariance),
		int64(rec.FrameCount),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (b *EventBatch) Flush() error {
	b.stmt.Close()
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Abort rolls the batch back. Aborting an already finished batch is a no-op.
func (b *EventBatch) Abort() error {
	b.stmt.Close()
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback batch: %w", err)
	}
	return nil
}

// InsertEvents writes records in a single batch. Used by imports and tests.
func (db *DB) InsertEvents(ctx context.Context, recs []event.Record) error {
	b, err := db.BeginBatch(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := b.Append(rec); err != nil {
			return errors.Join(err, b.Abort())
		}
	}
	return b.Flush()
}

// LatestPerSensor returns, for every (attacker, sensor) pair with a record at
// or after since, the most recent record. Rows are ordered by attacker then
// sensor.
func (db *DB) LatestPerSensor(ctx context.Context, since uint64) ([]event.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT e.`+eventColumns+`
		FROM events e
		JOIN (
			SELECT attack_mac, sensor_mac, MAX(timestamp) AS ts
			FROM events
			WHERE timestamp >= ?
			GROUP BY attack_mac, sensor_mac
		) latest
		ON e.attack_mac = latest.attack_mac
		AND e.sensor_mac = latest.sensor_mac
		AND e.timestamp = latest.ts
		GROUP BY e.attack_mac, e.sensor_mac
		ORDER BY e.attack_mac, e.sensor_mac`, int64(min(since, event.MaxTimestamp)))
	if err != nil {
		return nil, fmt.Errorf("query latest per sensor: %w", err)
	}
	return scanEvents(rows)
}

// EventsInWindow returns records whose timestamp lies within window
// microseconds of center on either side, ordered by attacker then time.
func (db *DB) EventsInWindow(ctx context.Context, center, window uint64) ([]event.Record, error) {
	lo, hi := event.WindowBounds(center, window)
	rows, err := db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE timestamp BETWEEN ? AND ?
		ORDER BY attack_mac, timestamp`, int64(lo), int64(hi))
	if err != nil {
		return nil, fmt.Errorf("query events in window: %w", err)
	}
	return scanEvents(rows)
}

// RecentEvents returns the newest limit records, newest first.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]event.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		ORDER BY timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	return scanEvents(rows)
}

// SensorSummaries counts events per reporting sensor.
func (db *DB) SensorSummaries(ctx context.Context) ([]SensorSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sensor_mac, COUNT(*), MAX(timestamp)
		FROM events
		GROUP BY sensor_mac
		ORDER BY sensor_mac`)
	if err != nil {
		return nil, fmt.Errorf("query sensors: %w", err)
	}
	defer rows.Close()

	var out []SensorSummary
	for rows.Next() {
		var (
			mac  string
			s    SensorSummary
			last int64
		)
		if err := rows.Scan(&mac, &s.Events, &last); err != nil {
			return nil, err
		}
		if s.Sensor, err = event.ParseMAC(mac); err != nil {
			return nil, fmt.Errorf("stored sensor mac %q: %w", mac, err)
		}
		s.LastSeen = uint64(last)
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountEvents returns the number of stored records.
func (db *DB) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

func scanEvents(rows *sql.Rows) ([]event.Record, error) {
	defer rows.Close()
	var out []event.Record
	for rows.Next() {
		var (
			ts             int64
			attack, sensor string
			mean           int64
			variance       float64
			count          int64
		)
		if err := rows.Scan(&ts, &attack, &sensor, &mean, &variance, &count); err != nil {
			return nil, err
		}
		rec := event.Record{
			RSSIMean:     int8(mean),
			RSSIVariance: float32(variance),
			FrameCount:   int32(count),
			Timestamp:    uint64(ts),
		}
		var err error
		if rec.Attacker, err = event.ParseMAC(attack); err != nil {
			return nil, fmt.Errorf("stored attacker mac %q: %w", attack, err)
		}
		if rec.Sensor, err = event.ParseMAC(sensor); err != nil {
			return nil, fmt.Errorf("stored sensor mac %q: %w", sensor, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
