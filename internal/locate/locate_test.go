package locate

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/deauth.watch/internal/event"
	"github.com/banshee-data/deauth.watch/internal/monitoring"
	"github.com/banshee-data/deauth.watch/internal/timeutil"
)

var (
	attacker = event.MustParseMAC("DE:AD:BE:EF:00:01")
	sensorA  = event.MustParseMAC("00:4B:12:3C:04:B0")
	sensorB  = event.MustParseMAC("78:1C:3C:2D:15:D4")
	sensorC  = event.MustParseMAC("78:1C:3C:E3:AB:CC")
	sensorD  = event.MustParseMAC("78:1C:3C:00:00:0D")
)

const tol = 1e-9

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func TestTrilaterateRightTriangle(t *testing.T) {
	p, err := Trilaterate(
		Reference{Point{0, 0}, 1},
		Reference{Point{2, 0}, 1},
		Reference{Point{0, 3}, 1},
	)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, p.X, tol)
	assert.InDelta(t, 1.5, p.Y, tol)
}

func TestTrilaterateRecoversTarget(t *testing.T) {
	target := Point{1.2, 0.7}
	refs := []Point{{0, 0}, {2, 0}, {1, 1.732}}
	var r [3]Reference
	for i, p := range refs {
		r[i] = Reference{Point: p, R: p.Dist(target)}
	}
	got, err := Trilaterate(r[0], r[1], r[2])
	require.NoError(t, err)
	assert.InDelta(t, target.X, got.X, 1e-9)
	assert.InDelta(t, target.Y, got.Y, 1e-9)
}

func TestTrilaterateCollinear(t *testing.T) {
	_, err := Trilaterate(
		Reference{Point{0, 0}, 1},
		Reference{Point{1, 0}, 1},
		Reference{Point{2, 0}, 1},
	)
	assert.ErrorIs(t, err, ErrIndeterminate)

	// coincident references are just as degenerate
	_, err = Trilaterate(
		Reference{Point{1, 1}, 1},
		Reference{Point{1, 1}, 2},
		Reference{Point{0, 3}, 1},
	)
	assert.True(t, errors.Is(err, ErrIndeterminate))
}

func TestPathLoss(t *testing.T) {
	m := DefaultPathLoss()
	assert.InDelta(t, 1.0, m.Distance(-45), tol)
	assert.InDelta(t, 10.0, m.Distance(-75), tol)
	assert.InDelta(t, math.Pow(10, 0.25), m.Distance(-52.5), tol)

	m4 := PathLoss{RSSI0: -45, N: 4}
	assert.InDelta(t, 10.0, m4.Distance(-85), tol)
	// stronger than the reference means closer than a metre
	assert.Less(t, m.Distance(-40), 1.0)
}

func TestNewPositions(t *testing.T) {
	p, err := NewPositions([]SensorPosition{
		{MAC: "00:4B:12:3C:04:B0", X: 0, Y: 0},
		{MAC: "78-1c-3c-2d-15-d4", X: 2, Y: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, Point{2, 0}, p[sensorB])

	_, err = NewPositions([]SensorPosition{{MAC: "nope"}})
	assert.Error(t, err)

	_, err = NewPositions([]SensorPosition{
		{MAC: "00:4B:12:3C:04:B0"},
		{MAC: "00:4b:12:3c:04:b0"},
	})
	assert.Error(t, err)
}

func rightTriangle() Positions {
	return Positions{
		sensorA: {0, 0},
		sensorB: {2, 0},
		sensorC: {0, 3},
	}
}

func reading(sensor event.MAC, rssi int8, ts uint64) event.Record {
	return event.Record{Attacker: attacker, Sensor: sensor, RSSIMean: rssi, FrameCount: 50, Timestamp: ts}
}

func TestEstimateOK(t *testing.T) {
	e := NewEngine(nil, rightTriangle(), Options{})
	got := e.Estimate([]event.Record{
		reading(sensorA, -45, 10),
		reading(sensorB, -45, 20),
		reading(sensorC, -45, 30),
	})
	require.Len(t, got, 1)
	assert.Equal(t, StatusOK, got[0].Status)
	assert.InDelta(t, 1.0, got[0].Position.X, tol)
	assert.InDelta(t, 1.5, got[0].Position.Y, tol)
	assert.Equal(t, uint64(30), got[0].Timestamp)
	assert.Len(t, got[0].Distances, 3)
}

func TestEstimateInsufficient(t *testing.T) {
	e := NewEngine(nil, rightTriangle(), Options{})
	got := e.Estimate([]event.Record{
		reading(sensorA, -45, 10),
		reading(sensorB, -45, 20),
		// unknown sensor does not count
		reading(sensorD, -45, 30),
	})
	require.Len(t, got, 1)
	assert.Equal(t, StatusInsufficient, got[0].Status)
	assert.ElementsMatch(t, []event.MAC{sensorA, sensorB}, got[0].Sensors)
}

func TestEstimateIndeterminate(t *testing.T) {
	e := NewEngine(nil, Positions{
		sensorA: {0, 0},
		sensorB: {1, 0},
		sensorC: {2, 0},
	}, Options{})
	got := e.Estimate([]event.Record{
		reading(sensorA, -45, 1),
		reading(sensorB, -45, 1),
		reading(sensorC, -45, 1),
	})
	require.Len(t, got, 1)
	assert.Equal(t, StatusIndeterminate, got[0].Status)
	assert.NotEqual(t, StatusInsufficient, got[0].Status)
}

func TestEstimateUsesStrongestThree(t *testing.T) {
	pos := rightTriangle()
	pos[sensorD] = Point{4, 0}
	e := NewEngine(nil, pos, Options{})
	got := e.Estimate([]event.Record{
		reading(sensorD, -80, 50),
		reading(sensorA, -45, 10),
		reading(sensorB, -45, 20),
		reading(sensorC, -45, 30),
	})
	require.Len(t, got, 1)
	assert.Equal(t, StatusOK, got[0].Status)
	assert.NotContains(t, got[0].Sensors, sensorD)
	assert.InDelta(t, 1.5, got[0].Position.Y, tol)
	assert.Equal(t, uint64(30), got[0].Timestamp)
}

func TestEstimateKeepsNewestPerSensor(t *testing.T) {
	e := NewEngine(nil, rightTriangle(), Options{})
	got := e.Estimate([]event.Record{
		reading(sensorA, -20, 1), // stale, superseded below
		reading(sensorA, -45, 10),
		reading(sensorB, -45, 20),
		reading(sensorC, -45, 30),
	})
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Distances[0], tol)
	assert.InDelta(t, 1.0, got[0].Position.X, tol)
}

func TestEstimateGroupsByAttacker(t *testing.T) {
	other := event.MustParseMAC("02:00:00:00:00:99")
	e := NewEngine(nil, rightTriangle(), Options{})
	r := reading(sensorA, -45, 5)
	r.Attacker = other
	got := e.Estimate([]event.Record{
		reading(sensorA, -45, 10),
		r,
		reading(sensorB, -45, 20),
		reading(sensorC, -45, 30),
	})
	require.Len(t, got, 2)
	assert.Equal(t, other, got[0].Attacker)
	assert.Equal(t, StatusInsufficient, got[0].Status)
	assert.Equal(t, attacker, got[1].Attacker)
	assert.Equal(t, StatusOK, got[1].Status)
}

type fakeReader struct {
	mu     sync.Mutex
	recs   []event.Record
	err    error
	sinces []uint64
}

func (f *fakeReader) LatestPerSensor(_ context.Context, since uint64) ([]event.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)
	return f.recs, f.err
}

func TestCycleQueriesLookback(t *testing.T) {
	now := time.Unix(100, 0)
	clock := timeutil.NewMockClock(now)
	store := &fakeReader{}
	e := NewEngine(store, rightTriangle(), Options{Clock: clock, Lookback: 5 * time.Second})

	got, err := e.Cycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, []uint64{95_000_000}, store.sinces)
	assert.Empty(t, e.Latest())

	store.err = errors.New("database is locked")
	_, err = e.Cycle(context.Background())
	assert.Error(t, err)
	assert.Equal(t, uint64(1), e.Cycles())
}

func TestCycleClearsLatestWhenAttacksStop(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	store := &fakeReader{recs: []event.Record{
		reading(sensorA, -45, 99_000_000),
		reading(sensorB, -45, 99_000_000),
		reading(sensorC, -45, 99_000_000),
	}}
	e := NewEngine(store, rightTriangle(), Options{Clock: clock})

	_, err := e.Cycle(context.Background())
	require.NoError(t, err)
	require.Len(t, e.Latest(), 1)

	// a failed query keeps what was last published
	store.err = errors.New("database is locked")
	_, err = e.Cycle(context.Background())
	require.Error(t, err)
	assert.Len(t, e.Latest(), 1)

	store.err = nil
	store.recs = nil
	got, err := e.Cycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, e.Latest())
}

func TestRunPublishesLatest(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	store := &fakeReader{recs: []event.Record{
		reading(sensorA, -45, 99_000_000),
		reading(sensorB, -45, 99_000_000),
		reading(sensorC, -45, 99_000_000),
	}}
	e := NewEngine(store, rightTriangle(), Options{Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, time.Second, time.Millisecond)
	clock.Advance(DefaultInterval)
	require.Eventually(t, func() bool { return len(e.Latest()) == 1 }, time.Second, time.Millisecond)

	want := []Estimate{{
		Attacker:  attacker,
		Status:    StatusOK,
		Position:  Point{1, 1.5},
		Sensors:   []event.MAC{sensorA, sensorB, sensorC},
		Distances: []float64{1, 1, 1},
		Timestamp: 99_000_000,
	}}
	if diff := cmp.Diff(want, e.Latest(), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("Latest mismatch (-want +got):\n%s", diff)
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{0.4, 0.1, 0.3, 0.2})
	assert.Equal(t, 4, s.N)
	assert.InDelta(t, 0.25, s.Mean, tol)
	assert.InDelta(t, 0.25, s.Median, tol)
	assert.InDelta(t, 0.1, s.Min, tol)
	assert.InDelta(t, 0.4, s.Max, tol)

	odd := Summarize([]float64{3, 1, 2})
	assert.InDelta(t, 2.0, odd.Median, tol)

	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestEvaluateAndSummarizeBy(t *testing.T) {
	trials := []Trial{
		{
			Name: "right-a", Layout: "right", Exponent: 3,
			Expected: Point{1, 1.5},
			Sensors:  []Reference{{Point{0, 0}, 1}, {Point{2, 0}, 1}, {Point{0, 3}, 1}},
		},
		{
			Name: "right-b", Layout: "right", Exponent: 4,
			Expected: Point{1, 1},
			Sensors:  []Reference{{Point{0, 0}, 1}, {Point{2, 0}, 1}, {Point{0, 3}, 1}},
		},
		{
			Name: "line", Layout: "line", Exponent: 3,
			Sensors: []Reference{{Point{0, 0}, 1}, {Point{1, 0}, 1}, {Point{2, 0}, 1}},
		},
		{Name: "short", Layout: "right", Sensors: []Reference{{Point{0, 0}, 1}}},
	}
	results := Evaluate(trials)
	require.Len(t, results, 4)
	assert.Equal(t, StatusOK, results[0].Status)
	assert.InDelta(t, 0, results[0].Error, tol)
	assert.InDelta(t, 0.5, results[1].Error, tol)
	assert.Equal(t, StatusIndeterminate, results[2].Status)
	assert.Equal(t, StatusInsufficient, results[3].Status)

	groups := SummarizeBy(results, func(r TrialResult) string { return r.Trial.Layout })
	require.Len(t, groups, 1)
	assert.Equal(t, "right", groups[0].Key)
	assert.Equal(t, 2, groups[0].Summary.N)
	assert.InDelta(t, 0.25, groups[0].Summary.Mean, tol)
}

func TestPlotWritesImage(t *testing.T) {
	r := Evaluate([]Trial{{
		Name:     "right",
		Expected: Point{1, 1},
		Sensors:  []Reference{{Point{0, 0}, 1}, {Point{2, 0}, 1}, {Point{0, 3}, 1}},
	}})[0]
	path := filepath.Join(t.TempDir(), "right.png")
	require.NoError(t, Plot(r, path))
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, fi.Size())
}

func TestStatusText(t *testing.T) {
	b, err := StatusIndeterminate.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "indeterminate", string(b))
	assert.Equal(t, "unknown", Status(9).String())
}
