package ingest

import (
	"cmp"
	"slices"
	"time"

	"github.com/banshee-data/deauth.watch/internal/event"
)

// DefaultQuantum is the reordering window: records whose timestamps fall
// within it of the bucket's first record are sorted together.
const DefaultQuantum = 2 * time.Second

// Bucketer groups records into time-ordered batches. At most one bucket is
// open at a time; it is keyed by the timestamp of the record that opened it.
type Bucketer struct {
	quantum uint64

	open    bool
	key     uint64
	records []event.Record
}

func NewBucketer(quantum time.Duration) *Bucketer {
	return &Bucketer{quantum: uint64(quantum.Microseconds())}
}

// Add places rec in the open bucket. If rec lies beyond the open bucket's
// quantum, that bucket is closed and returned sorted, and rec opens a new one.
func (b *Bucketer) Add(rec event.Record) (closed []event.Record) {
	if b.open && rec.Timestamp > b.key && rec.Timestamp-b.key > b.quantum {
		closed = b.Flush()
	}
	if !b.open {
		b.open = true
		b.key = rec.Timestamp
	}
	b.records = append(b.records, rec)
	return closed
}

// Flush closes the open bucket, if any, and returns its records sorted by
// timestamp. Records with equal timestamps keep arrival order.
func (b *Bucketer) Flush() []event.Record {
	if !b.open {
		return nil
	}
	out := b.records
	slices.SortStableFunc(out, func(x, y event.Record) int {
		return cmp.Compare(x.Timestamp, y.Timestamp)
	})
	b.open = false
	b.key = 0
	b.records = nil
	return out
}

// Open reports the open bucket's key and size.
func (b *Bucketer) Open() (key uint64, n int, ok bool) {
	return b.key, len(b.records), b.open
}
