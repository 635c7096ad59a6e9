// Package serialmux wraps the gateway-to-host serial link. The link carries
// fixed-length event records back to back with no delimiter, so the reader
// accumulates exactly one record's worth of bytes at a time. Decoded records
// can be tailed by any number of subscribers.
package serialmux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/deauth.watch/internal/event"
	"github.com/banshee-data/deauth.watch/internal/monitoring"
)

// ErrClosed is returned by ReadRecord once Close has been called.
var ErrClosed = errors.New("serialmux: closed")

// DefaultRetryDelay is the pause after a failed read before trying again.
const DefaultRetryDelay = 50 * time.Millisecond

// SerialMux reads records from a single serial port and fans them out to
// subscribers. ReadRecord must only be called from one goroutine.
type SerialMux[T SerialPorter] struct {
	port T

	subscribers  map[string]chan event.Record
	subscriberMu sync.Mutex
	writeMu      sync.Mutex
	closing      atomic.Bool

	// RetryDelay is the pause after a read error.
	RetryDelay time.Duration

	buf    [event.Size]byte
	filled int

	records    atomic.Uint64
	readErrors atomic.Uint64
	logf       func(string, ...any)
}

// NewSerialMux creates a SerialMux over port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan event.Record),
		RetryDelay:  DefaultRetryDelay,
		logf:        monitoring.Component("serial"),
	}
}

// ReadRecord blocks until a full record has been read, ctx is done, or the
// mux is closed. Short reads and read timeouts mean more data is pending.
// Read errors are logged and retried; bytes already accumulated are kept.
func (s *SerialMux[T]) ReadRecord(ctx context.Context) (event.Record, error) {
	for s.filled < event.Size {
		if err := ctx.Err(); err != nil {
			return event.Record{}, err
		}
		if s.closing.Load() {
			return event.Record{}, ErrClosed
		}

		n, err := s.port.Read(s.buf[s.filled:])
		s.filled += n
		if err == nil || (n > 0 && errors.Is(err, io.EOF)) {
			continue
		}
		if s.closing.Load() {
			return event.Record{}, ErrClosed
		}

		s.readErrors.Add(1)
		monitoring.SerialReadError()
		if !errors.Is(err, io.EOF) {
			s.logf("read error after %d of %d bytes, retrying: %v", s.filled, event.Size, err)
		}
		if err := sleepCtx(ctx, s.RetryDelay); err != nil {
			return event.Record{}, err
		}
	}

	rec, err := event.Decode(s.buf[:])
	s.filled = 0
	if err != nil {
		return event.Record{}, err
	}
	s.records.Add(1)
	s.publish(rec)
	return rec, nil
}

// Write sends raw bytes to the port, retrying short writes.
func (s *SerialMux[T]) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	written := 0
	for written < len(p) {
		n, err := s.port.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// Subscribe registers a new listener for decoded records. The returned ID
// is passed to Unsubscribe.
func (s *SerialMux[T]) Subscribe() (string, chan event.Record) {
	id := uuid.NewString()
	ch := make(chan event.Record, 16)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing.Load() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *SerialMux[T]) publish(rec event.Record) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- rec:
		default:
			// slow subscribers miss records rather than stall the reader
		}
	}
}

// Stats returns the number of records decoded and read errors retried.
func (s *SerialMux[T]) Stats() (records, readErrors uint64) {
	return s.records.Load(), s.readErrors.Load()
}

// Close closes all subscriber channels and the port.
func (s *SerialMux[T]) Close() error {
	if s.closing.Swap(true) {
		return nil
	}
	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

// AttachAdminRoutes attaches a live tail of incoming records and link
// counters to the /debug/ routes on mux.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("serial", "serial link counters", func(w http.ResponseWriter, r *http.Request) {
		records, readErrors := s.Stats()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "records %d\nread_errors %d\nsubscribers %d\n", records, readErrors, s.subscriberCount())
	})

	// Server-sent events, one JSON record per message.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case rec, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(rec)
				if err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

func (s *SerialMux[T]) subscriberCount() int {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	return len(s.subscribers)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
