package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/banshee-data/deauth.watch/internal/monitoring"
)

// UDPSocket is the part of *net.UDPConn the listener needs.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory opens the listening socket.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

type netFactory struct{}

func (netFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// pollInterval bounds how long a read may block before the context is
// checked again.
const pollInterval = 100 * time.Millisecond

// UDPListener receives sensor datagrams and hands each to a Forwarder.
type UDPListener struct {
	Address string
	Factory UDPSocketFactory
	Forward Forwarder

	logf func(string, ...any)
}

func NewUDPListener(address string, fwd Forwarder) *UDPListener {
	return &UDPListener{
		Address: address,
		Factory: netFactory{},
		Forward: fwd,
		logf:    monitoring.Component("gateway"),
	}
}

// Run listens until ctx is done.
func (l *UDPListener) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp4", l.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.Factory.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()
	l.logf("listening for sensor datagrams on %s", conn.LocalAddr())

	// Oversized so that long datagrams are seen at full length and rejected.
	buf := make([]byte, 2048)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			l.logf("UDP read error: %v", err)
			continue
		}
		if err := l.Forward.Forward(buf[:n]); err != nil {
			l.logf("datagram from %v not forwarded: %v", from, err)
		}
	}
}

// NATSListener subscribes to the record subject and forwards each message.
type NATSListener struct {
	nc      *nats.Conn
	subject string
	fwd     Forwarder
	logf    func(string, ...any)
}

func NewNATSListener(url, subject string, fwd Forwarder) (*NATSListener, error) {
	nc, err := nats.Connect(url, nats.Name("deauthwatch-gateway"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSListener{nc: nc, subject: subject, fwd: fwd, logf: monitoring.Component("gateway")}, nil
}

// Run subscribes and blocks until ctx is done, then unsubscribes.
func (l *NATSListener) Run(ctx context.Context) error {
	sub, err := l.nc.Subscribe(l.subject, l.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", l.subject, err)
	}
	l.logf("subscribed to %s", l.subject)
	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		l.logf("unsubscribe %s: %v", l.subject, err)
	}
	l.nc.Close()
	return ctx.Err()
}

func (l *NATSListener) handle(msg *nats.Msg) {
	if err := l.fwd.Forward(msg.Data); err != nil {
		l.logf("message on %s not forwarded: %v", msg.Subject, err)
	}
}
