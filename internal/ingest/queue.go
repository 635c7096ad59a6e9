package ingest

import (
	"sync"

	"github.com/banshee-data/deauth.watch/internal/event"
)

// Queue is an unbounded FIFO shared by the reader and the persister. Pop
// blocks on a condition variable that is signalled by every Push and
// broadcast by Close.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []event.Record
	closed bool
}

func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends rec and wakes the consumer. Pushing to a closed queue is a
// no-op and reports false.
func (q *Queue) Push(rec event.Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, rec)
	q.cond.Signal()
	return true
}

// Pop removes the oldest record, blocking while the queue is empty and open.
// After Close it keeps returning queued records until the queue is empty,
// then reports ok=false.
func (q *Queue) Pop() (rec event.Record, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return rec, false
	}
	rec = q.items[0]
	q.items[0] = event.Record{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return rec, true
}

// Close stops further pushes and wakes every waiter.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
