// Package ingest is the host-side pipeline between the serial link and the
// event store. A reader goroutine pushes records onto a shared queue; a
// persister goroutine reorders them in quantum-sized buckets and writes each
// bucket as one batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/deauth.watch/internal/event"
	"github.com/banshee-data/deauth.watch/internal/monitoring"
)

// Source yields records one at a time, blocking until one is available.
type Source interface {
	ReadRecord(ctx context.Context) (event.Record, error)
}

// Batch is one buffered write. Records become durable on Flush; Abort
// discards whatever was appended.
type Batch interface {
	Append(rec event.Record) error
	Flush() error
	Abort() error
}

// Store opens batches against the persistent event store.
type Store interface {
	BeginBatch(ctx context.Context) (Batch, error)
}

// Stats are cumulative pipeline counters.
type Stats struct {
	RecordsRead    uint64 `json:"records_read"`
	// RecordsDiscarded counts records the stores cannot hold.
	RecordsDiscarded uint64 `json:"records_discarded"`
	BatchesFlushed uint64 `json:"batches_flushed"`
	RowsPersisted  uint64 `json:"rows_persisted"`
	BatchesFailed  uint64 `json:"batches_failed"`
	QueueDepth     int    `json:"queue_depth"`
}

// Pipeline owns the reader and persister goroutines.
type Pipeline struct {
	src     Source
	store   Store
	queue   *Queue
	quantum time.Duration

	// OnBatch, if set, is called after every bucket write with the sorted
	// records and the write error.
	OnBatch func(records []event.Record, err error)

	read      atomic.Uint64
	discarded atomic.Uint64
	flushed   atomic.Uint64
	rows    atomic.Uint64
	failed  atomic.Uint64
	logf    func(string, ...any)
}

// New builds a pipeline. A non-positive quantum selects DefaultQuantum.
func New(src Source, store Store, quantum time.Duration) *Pipeline {
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	return &Pipeline{
		src:     src,
		store:   store,
		queue:   NewQueue(),
		quantum: quantum,
		logf:    monitoring.Component("ingest"),
	}
}

// Run starts both workers and blocks until ctx is done and every queued and
// bucketed record has been handed to the store.
func (p *Pipeline) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer p.queue.Close()
		p.readLoop(ctx)
	}()

	// The persister outlives ctx so it can drain; it stops when the queue
	// is closed and empty.
	go func() {
		defer wg.Done()
		p.persistLoop()
	}()

	wg.Wait()
	p.logf("pipeline stopped: %+v", p.Stats())
	return nil
}

func (p *Pipeline) readLoop(ctx context.Context) {
	for {
		rec, err := p.src.ReadRecord(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Sources retry transient errors themselves; anything that
			// reaches here means the source is gone.
			p.logf("reader stopping: %v", err)
			return
		}
		p.read.Add(1)
		monitoring.IngestRecord()
		if err := rec.CheckTimestamp(); err != nil {
			p.discarded.Add(1)
			p.logf("discarding record from sensor %s: %v", rec.Sensor, err)
			continue
		}
		p.queue.Push(rec)
		monitoring.IngestQueueDepth(p.queue.Len())
	}
}

func (p *Pipeline) persistLoop() {
	b := NewBucketer(p.quantum)
	for {
		rec, ok := p.queue.Pop()
		if !ok {
			break
		}
		monitoring.IngestQueueDepth(p.queue.Len())
		if closed := b.Add(rec); len(closed) > 0 {
			p.write(closed)
		}
	}
	if last := b.Flush(); len(last) > 0 {
		p.write(last)
	}
}

// write persists one sorted bucket. The store has its own lifetime, so the
// write is not tied to the pipeline context.
func (p *Pipeline) write(records []event.Record) {
	err := p.writeBatch(context.Background(), records)
	monitoring.IngestBatch(len(records), err)
	if err != nil {
		p.failed.Add(1)
		p.logf("dropping bucket of %d records starting at %d: %v", len(records), records[0].Timestamp, err)
	} else {
		p.flushed.Add(1)
		p.rows.Add(uint64(len(records)))
	}
	if p.OnBatch != nil {
		p.OnBatch(records, err)
	}
}

func (p *Pipeline) writeBatch(ctx context.Context, records []event.Record) error {
	batch, err := p.store.BeginBatch(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	for _, rec := range records {
		if err := batch.Append(rec); err != nil {
			return errors.Join(fmt.Errorf("append: %w", err), batch.Abort())
		}
	}
	if err := batch.Flush(); err != nil {
		return errors.Join(fmt.Errorf("flush: %w", err), batch.Abort())
	}
	return nil
}

// Push injects a record as if it had been read from the source.
func (p *Pipeline) Push(rec event.Record) bool {
	return p.queue.Push(rec)
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		RecordsRead:      p.read.Load(),
		RecordsDiscarded: p.discarded.Load(),
		BatchesFlushed:   p.flushed.Load(),
		RowsPersisted:    p.rows.Load(),
		BatchesFailed:    p.failed.Load(),
		QueueDepth:       p.queue.Len(),
	}
}
