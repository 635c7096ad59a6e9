package relay

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/deauth.watch/internal/event"
	"github.com/banshee-data/deauth.watch/internal/monitoring"
)

// Forwarder accepts raw datagrams from a receiver.
type Forwarder interface {
	Forward(datagram []byte) error
}

// Gateway validates datagram length and copies valid records unchanged onto
// the serial link. Writes are serialised so records from concurrent
// receivers never interleave on the wire.
type Gateway struct {
	mu  sync.Mutex
	out io.Writer

	forwarded atomic.Uint64
	discarded atomic.Uint64
	logf      func(string, ...any)
}

func NewGateway(out io.Writer) *Gateway {
	return &Gateway{out: out, logf: monitoring.Component("gateway")}
}

// Forward writes datagram to the serial link if it is exactly one record.
// Any other length is discarded without being parsed.
func (g *Gateway) Forward(datagram []byte) error {
	if len(datagram) != event.Size {
		g.discarded.Add(1)
		monitoring.GatewayDiscarded()
		g.logf("discarding datagram of %d bytes, want %d", len(datagram), event.Size)
		return fmt.Errorf("%w: got %d bytes, want %d", event.ErrInvalidLength, len(datagram), event.Size)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.out.Write(datagram); err != nil {
		return fmt.Errorf("serial write failed: %w", err)
	}
	g.forwarded.Add(1)
	monitoring.GatewayForwarded()
	return nil
}

// Counts returns forwarded and discarded totals.
func (g *Gateway) Counts() (forwarded, discarded uint64) {
	return g.forwarded.Load(), g.discarded.Load()
}
