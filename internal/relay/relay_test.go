package relay

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/deauth.watch/internal/event"
	"github.com/banshee-data/deauth.watch/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func testRecord(ts uint64) event.Record {
	return event.Record{
		Attacker:     event.MustParseMAC("DE:AD:BE:EF:00:01"),
		Sensor:       event.MustParseMAC("78:1C:3C:E3:AB:CC"),
		RSSIMean:     -58,
		RSSIVariance: 2.5,
		FrameCount:   50,
		Timestamp:    ts,
	}
}

type fakeLink struct {
	mu     sync.Mutex
	sent   [][]byte
	fail   error
	closed bool
}

func (l *fakeLink) Send(_ context.Context, b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return l.fail
	}
	l.sent = append(l.sent, append([]byte(nil), b...))
	return nil
}

func (l *fakeLink) Close() error {
	l.closed = true
	return nil
}

func TestSenderTransmitsEachRecordOnce(t *testing.T) {
	t.Parallel()

	link := &fakeLink{}
	queue := make(chan event.Record, 4)
	var statuses []error
	s := NewSender(link, queue, func(_ event.Record, err error) { statuses = append(statuses, err) })

	queue <- testRecord(1)
	queue <- testRecord(2)
	close(queue)

	require.NoError(t, s.Run(context.Background()))
	require.Len(t, link.sent, 2)
	for i, b := range link.sent {
		rec, err := event.Decode(b)
		require.NoError(t, err)
		assert.Equal(t, testRecord(uint64(i+1)), rec)
	}
	assert.Equal(t, []error{nil, nil}, statuses)

	sent, failed := s.Counts()
	assert.Equal(t, uint64(2), sent)
	assert.Zero(t, failed)
}

func TestSenderReportsFailureWithoutRetry(t *testing.T) {
	t.Parallel()

	sendErr := errors.New("no route")
	link := &fakeLink{fail: sendErr}
	queue := make(chan event.Record, 1)
	var got []error
	s := NewSender(link, queue, func(_ event.Record, err error) { got = append(got, err) })

	queue <- testRecord(1)
	close(queue)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []error{sendErr}, got)
	_, failed := s.Counts()
	assert.Equal(t, uint64(1), failed)
}

func TestSenderStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSender(&fakeLink{}, make(chan event.Record), nil)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not stop")
	}
}

func TestSenderFlushesQueueOnCancel(t *testing.T) {
	t.Parallel()

	queue := make(chan event.Record, 4)
	for ts := uint64(1); ts <= 3; ts++ {
		queue <- testRecord(ts)
	}
	link := &fakeLink{}
	s := NewSender(link, queue, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)

	sent, failed := s.Counts()
	assert.Equal(t, uint64(3), sent)
	assert.Zero(t, failed)
	require.Len(t, link.sent, 3)
	for i, b := range link.sent {
		var got event.Record
		require.NoError(t, got.UnmarshalBinary(b))
		assert.Equal(t, uint64(i+1), got.Timestamp)
	}
	assert.Empty(t, queue)
}

func TestGatewayForwardsExactRecords(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	g := NewGateway(&out)
	b, err := testRecord(7).MarshalBinary()
	require.NoError(t, err)

	require.NoError(t, g.Forward(b))
	assert.Equal(t, b, out.Bytes())

	for _, n := range []int{0, event.Size - 1, event.Size + 1, 250} {
		err := g.Forward(make([]byte, n))
		assert.ErrorIs(t, err, event.ErrInvalidLength)
	}
	assert.Equal(t, event.Size, out.Len(), "discarded datagrams must not reach the serial link")

	fwd, disc := g.Counts()
	assert.Equal(t, uint64(1), fwd)
	assert.Equal(t, uint64(4), disc)
}

func TestGatewayConcurrentForwardsDoNotInterleave(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	g := NewGateway(&out)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, _ := testRecord(uint64(i)).MarshalBinary()
			for j := 0; j < 25; j++ {
				assert.NoError(t, g.Forward(b))
			}
		}(i)
	}
	wg.Wait()

	data := out.Bytes()
	require.Equal(t, 200*event.Size, len(data))
	for off := 0; off < len(data); off += event.Size {
		rec, err := event.Decode(data[off : off+event.Size])
		require.NoError(t, err)
		assert.Less(t, rec.Timestamp, uint64(8))
	}
}

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, errors.New("port gone") }

func TestGatewaySerialWriteError(t *testing.T) {
	t.Parallel()

	g := NewGateway(errWriter{})
	b, _ := testRecord(1).MarshalBinary()
	assert.Error(t, g.Forward(b))
	fwd, _ := g.Counts()
	assert.Zero(t, fwd)
}

type captureForwarder struct {
	mu   sync.Mutex
	got  [][]byte
	errs int
}

func (c *captureForwarder) Forward(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(b) != event.Size {
		c.errs++
		return event.ErrInvalidLength
	}
	c.got = append(c.got, append([]byte(nil), b...))
	return nil
}

func (c *captureForwarder) count() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got), c.errs
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// mockSocket replays datagrams then reports read timeouts.
type mockSocket struct {
	packets [][]byte
	idx     int
	closed  bool
}

func (m *mockSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	if m.idx >= len(m.packets) {
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutErr{}}
	}
	n := copy(b, m.packets[m.idx])
	m.idx++
	return n, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: DefaultPort}, nil
}

func (m *mockSocket) SetReadDeadline(time.Time) error { return nil }
func (m *mockSocket) Close() error                    { m.closed = true; return nil }
func (m *mockSocket) LocalAddr() net.Addr             { return &net.UDPAddr{Port: DefaultPort} }

type mockFactory struct{ sock *mockSocket }

func (f mockFactory) ListenUDP(string, *net.UDPAddr) (UDPSocket, error) { return f.sock, nil }

func TestUDPListenerForwardsAndDiscards(t *testing.T) {
	t.Parallel()

	good, _ := testRecord(42).MarshalBinary()
	sock := &mockSocket{packets: [][]byte{good, {1, 2, 3}, good, make([]byte, 64)}}
	fwd := &captureForwarder{}
	l := NewUDPListener("0.0.0.0:4210", fwd)
	l.Factory = mockFactory{sock: sock}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		ok, bad := fwd.count()
		return ok == 2 && bad == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestUDPLinkLoopback(t *testing.T) {
	t.Parallel()

	srv, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer srv.Close()

	link, err := NewUDPLink(srv.LocalAddr().String())
	require.NoError(t, err)
	defer link.Close()

	b, _ := testRecord(9).MarshalBinary()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, link.Send(ctx, b))

	require.NoError(t, srv.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 128)
	n, _, err := srv.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, b, buf[:n])
}

type fakePublisher struct {
	subject string
	data    []byte
	drained bool
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.subject = subject
	p.data = append([]byte(nil), data...)
	return nil
}

func (p *fakePublisher) Drain() error {
	p.drained = true
	return nil
}

func TestNATSLinkPublishes(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	link := &NATSLink{nc: pub, subject: DefaultSubject}
	b, _ := testRecord(3).MarshalBinary()

	require.NoError(t, link.Send(context.Background(), b))
	assert.Equal(t, DefaultSubject, pub.subject)
	assert.Equal(t, b, pub.data)
	require.NoError(t, link.Close())
	assert.True(t, pub.drained)
}

func TestNATSListenerHandle(t *testing.T) {
	t.Parallel()

	fwd := &captureForwarder{}
	l := &NATSListener{subject: DefaultSubject, fwd: fwd, logf: func(string, ...any) {}}
	b, _ := testRecord(5).MarshalBinary()

	l.handle(&nats.Msg{Subject: DefaultSubject, Data: b})
	l.handle(&nats.Msg{Subject: DefaultSubject, Data: b[:10]})

	ok, bad := fwd.count()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, bad)
}
