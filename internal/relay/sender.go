package relay

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/deauth.watch/internal/event"
	"github.com/banshee-data/deauth.watch/internal/monitoring"
)

// DrainTimeout bounds each send made while flushing the queue after
// cancellation.
const DrainTimeout = 250 * time.Millisecond

var logf = monitoring.Component("relay")

// StatusFunc observes the outcome of each send. It must not block.
type StatusFunc func(rec event.Record, err error)

// Sender drains the detector's relay queue and transmits each record once.
type Sender struct {
	link   Link
	queue  <-chan event.Record
	status StatusFunc

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewSender builds a sender. A nil status logs failed sends.
func NewSender(link Link, queue <-chan event.Record, status StatusFunc) *Sender {
	if status == nil {
		status = func(rec event.Record, err error) {
			if err != nil {
				logf("send failed for attacker %s: %v", rec.Attacker, err)
			}
		}
	}
	return &Sender{link: link, queue: queue, status: status}
}

// Run blocks on the queue until ctx is done or the queue is closed. On
// cancellation the records already queued are still sent, each bounded by
// DrainTimeout, before Run returns ctx.Err().
func (s *Sender) Run(ctx context.Context) error {
	buf := make([]byte, event.Size)
	for {
		select {
		case <-ctx.Done():
			s.drain(ctx, buf)
			return ctx.Err()
		case rec, ok := <-s.queue:
			if !ok {
				return nil
			}
			s.send(ctx, rec, buf)
		}
	}
}

func (s *Sender) drain(ctx context.Context, buf []byte) {
	base := context.WithoutCancel(ctx)
	var n int
	for {
		select {
		case rec, ok := <-s.queue:
			if !ok {
				if n > 0 {
					logf("flushed %d queued alerts on shutdown", n)
				}
				return
			}
			sendCtx, cancel := context.WithTimeout(base, DrainTimeout)
			s.send(sendCtx, rec, buf)
			cancel()
			n++
		default:
			if n > 0 {
				logf("flushed %d queued alerts on shutdown", n)
			}
			return
		}
	}
}

func (s *Sender) send(ctx context.Context, rec event.Record, buf []byte) {
	rec.Put(buf)
	err := s.link.Send(ctx, buf)
	if err != nil {
		s.failed.Add(1)
	} else {
		s.sent.Add(1)
	}
	monitoring.RelaySend(err)
	s.status(rec, err)
}

// Counts returns the number of successful and failed sends.
func (s *Sender) Counts() (sent, failed uint64) {
	return s.sent.Load(), s.failed.Load()
}
