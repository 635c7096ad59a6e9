package serialmux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/deauth.watch/internal/event"
)

var errPortClosed = errors.New("serial port closed")

// SyntheticPort is a SerialPorter whose read side is fed by a generator
// goroutine. Writes are discarded. It stands in for the gateway in -dev mode.
type SyntheticPort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

// NewSyntheticSerialMux returns a mux that receives one record from next
// every interval until ctx is done.
func NewSyntheticSerialMux(ctx context.Context, interval time.Duration, next func() event.Record) *SerialMux[*SyntheticPort] {
	r, w := io.Pipe()
	port := &SyntheticPort{r: r, w: w}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		buf := make([]byte, event.Size)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rec := next()
				rec.Put(buf)
				if _, err := w.Write(buf); err != nil {
					return
				}
			}
		}
	}()

	return NewSerialMux(port)
}

func (p *SyntheticPort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *SyntheticPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *SyntheticPort) Close() error {
	p.w.CloseWithError(errPortClosed)
	return p.r.Close()
}

// TestableSerialPort implements SerialPorter with configurable behaviour for
// testing: chunked (short) reads, injected errors and blocking reads.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls.
	ReadBuffer *bytes.Buffer
	// WriteBuffer captures data written to the port.
	WriteBuffer *bytes.Buffer

	// MaxReadChunk caps the bytes returned per Read, simulating short reads.
	MaxReadChunk int
	// MaxWriteChunk caps the bytes accepted per Write.
	MaxWriteChunk int

	// ErrorOnCall fails the Nth Read call (1-based) with the mapped error.
	ErrorOnCall map[int]error
	// WriteError is returned by the next Write call if set.
	WriteError error

	// BlockReads makes Read wait for data or Close instead of returning
	// (0, nil) on an empty buffer.
	BlockReads bool

	Closed     bool
	ReadCalls  int
	WriteCalls int

	ReadTimeout time.Duration

	readCond *sync.Cond
}

func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++
	if t.Closed {
		return 0, errPortClosed
	}
	if err, ok := t.ErrorOnCall[t.ReadCalls]; ok {
		return 0, err
	}

	if t.BlockReads {
		for !t.Closed && t.ReadBuffer.Len() == 0 {
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, errPortClosed
		}
	} else if t.ReadBuffer.Len() == 0 {
		// behaves like a read timeout on a real port
		t.mu.Unlock()
		time.Sleep(time.Millisecond)
		t.mu.Lock()
		return 0, nil
	}

	if t.MaxReadChunk > 0 && len(p) > t.MaxReadChunk {
		p = p[:t.MaxReadChunk]
	}
	return t.ReadBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++
	if t.Closed {
		return 0, errPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	if t.MaxWriteChunk > 0 && len(p) > t.MaxWriteChunk {
		p = p[:t.MaxWriteChunk]
	}
	return t.WriteBuffer.Write(p)
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	t.readCond.Broadcast()
	return nil
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}

// AddReadData appends data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// WrittenData returns a copy of everything written to the port.
func (t *TestableSerialPort) WrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.WriteBuffer.Bytes())
}
