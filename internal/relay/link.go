// Package relay moves encoded event records from sensors to the gateway
// and from the gateway onto the serial link. Delivery is best effort: there
// is no acknowledgement and no retry.
package relay

import (
	"context"
	"fmt"
	"net"

	"github.com/nats-io/nats.go"
)

// DefaultPort is the UDP port sensors broadcast on.
const DefaultPort = 4210

// DefaultSubject is the NATS subject records are published on.
const DefaultSubject = "deauthwatch.records"

// Link sends one datagram towards the gateway.
type Link interface {
	Send(ctx context.Context, datagram []byte) error
	Close() error
}

// UDPLink sends connectionless datagrams, typically to a broadcast address.
type UDPLink struct {
	conn *net.UDPConn
}

// NewUDPLink resolves addr ("host:port", e.g. "255.255.255.255:4210").
func NewUDPLink(addr string) (*UDPLink, error) {
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve relay address %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to open relay socket: %w", err)
	}
	return &UDPLink{conn: conn}, nil
}

func (l *UDPLink) Send(ctx context.Context, datagram []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		if err := l.conn.SetWriteDeadline(dl); err != nil {
			return err
		}
	}
	n, err := l.conn.Write(datagram)
	if err != nil {
		return err
	}
	if n != len(datagram) {
		return fmt.Errorf("short datagram write: %d of %d bytes", n, len(datagram))
	}
	return nil
}

func (l *UDPLink) Close() error { return l.conn.Close() }

// publisher is the subset of *nats.Conn used by NATSLink.
type publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSLink publishes each datagram as one NATS message.
type NATSLink struct {
	nc      publisher
	subject string
}

// NewNATSLink connects to the NATS server at url.
func NewNATSLink(url, subject string) (*NATSLink, error) {
	nc, err := nats.Connect(url, nats.Name("deauthwatch-sensor"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSLink{nc: nc, subject: subject}, nil
}

func (l *NATSLink) Send(_ context.Context, datagram []byte) error {
	return l.nc.Publish(l.subject, datagram)
}

func (l *NATSLink) Close() error { return l.nc.Drain() }
