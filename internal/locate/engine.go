package locate

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/deauth.watch/internal/event"
	"github.com/banshee-data/deauth.watch/internal/monitoring"
	"github.com/banshee-data/deauth.watch/internal/timeutil"
)

const (
	DefaultInterval = time.Second
	DefaultLookback = 5 * time.Second
)

// Status classifies an estimate.
type Status int

const (
	StatusOK Status = iota
	// StatusInsufficient means fewer than three positioned sensors reported.
	StatusInsufficient
	// StatusIndeterminate means the chosen sensors are collinear.
	StatusIndeterminate
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInsufficient:
		return "insufficient"
	case StatusIndeterminate:
		return "indeterminate"
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Estimate is the result for one attacker.
type Estimate struct {
	Attacker  event.MAC   `json:"attack_mac"`
	Status    Status      `json:"status"`
	Position  Point       `json:"position"`
	Sensors   []event.MAC `json:"sensors"`
	Distances []float64   `json:"distances,omitempty"`
	// Timestamp is the newest reading that contributed.
	Timestamp uint64 `json:"timestamp"`
}

// Reader is the read-only store access the engine needs.
type Reader interface {
	LatestPerSensor(ctx context.Context, since uint64) ([]event.Record, error)
}

type Options struct {
	Interval time.Duration
	Lookback time.Duration
	PathLoss PathLoss
	Clock    timeutil.Clock
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Lookback <= 0 {
		o.Lookback = DefaultLookback
	}
	if o.PathLoss == (PathLoss{}) {
		o.PathLoss = DefaultPathLoss()
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
}

// Engine periodically estimates every active attacker's position from the
// most recent reading of each sensor.
type Engine struct {
	store     Reader
	positions Positions
	opts      Options

	mu     sync.RWMutex
	latest []Estimate

	cycles atomic.Uint64
}

var logf = monitoring.Component("locate")

func NewEngine(store Reader, positions Positions, opts Options) *Engine {
	opts.defaults()
	return &Engine{store: store, positions: positions, opts: opts}
}

// Estimate groups readings by attacker and trilaterates each group.
// Readings from sensors without a configured position are ignored, and a
// sensor contributes only its newest reading. With more than three sensors
// the three strongest signals are used, ties broken by recency. Results are
// ordered by attacker MAC.
func (e *Engine) Estimate(readings []event.Record) []Estimate {
	groups := make(map[event.MAC]map[event.MAC]event.Record)
	for _, r := range readings {
		if _, ok := e.positions[r.Sensor]; !ok {
			continue
		}
		g := groups[r.Attacker]
		if g == nil {
			g = make(map[event.MAC]event.Record)
			groups[r.Attacker] = g
		}
		if prev, ok := g[r.Sensor]; !ok || r.Timestamp > prev.Timestamp {
			g[r.Sensor] = r
		}
	}

	attackers := make([]event.MAC, 0, len(groups))
	for a := range groups {
		attackers = append(attackers, a)
	}
	slices.SortFunc(attackers, func(a, b event.MAC) int { return cmp.Compare(a.String(), b.String()) })

	out := make([]Estimate, 0, len(attackers))
	for _, a := range attackers {
		est := e.estimate(a, groups[a])
		monitoring.LocateEstimate(est.Status.String())
		out = append(out, est)
	}
	return out
}

func (e *Engine) estimate(attacker event.MAC, bySensor map[event.MAC]event.Record) Estimate {
	recs := make([]event.Record, 0, len(bySensor))
	for _, r := range bySensor {
		recs = append(recs, r)
	}
	slices.SortFunc(recs, func(a, b event.Record) int {
		if c := cmp.Compare(b.RSSIMean, a.RSSIMean); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Timestamp, a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Sensor.String(), b.Sensor.String())
	})

	est := Estimate{Attacker: attacker}
	if len(recs) < 3 {
		est.Status = StatusInsufficient
		for _, r := range recs {
			est.Sensors = append(est.Sensors, r.Sensor)
			est.Timestamp = max(est.Timestamp, r.Timestamp)
		}
		return est
	}

	var refs [3]Reference
	for i, r := range recs[:3] {
		est.Timestamp = max(est.Timestamp, r.Timestamp)
		d := e.opts.PathLoss.Distance(float64(r.RSSIMean))
		refs[i] = Reference{Point: e.positions[r.Sensor], R: d}
		est.Sensors = append(est.Sensors, r.Sensor)
		est.Distances = append(est.Distances, d)
	}
	p, err := Trilaterate(refs[0], refs[1], refs[2])
	if err != nil {
		est.Status = StatusIndeterminate
		return est
	}
	est.Status = StatusOK
	est.Position = p
	return est
}

// Cycle runs one query and estimate pass and publishes the result.
func (e *Engine) Cycle(ctx context.Context) ([]Estimate, error) {
	now := e.opts.Clock.Now()
	since := timeutil.Micros(now.Add(-e.opts.Lookback))
	readings, err := e.store.LatestPerSensor(ctx, since)
	if err != nil {
		return nil, err
	}
	e.cycles.Add(1)
	var ests []Estimate
	if len(readings) > 0 {
		ests = e.Estimate(readings)
	}
	e.mu.Lock()
	e.latest = ests
	e.mu.Unlock()
	return ests, nil
}

// Run calls Cycle every interval until ctx is cancelled. A query failure
// skips the cycle and keeps the previous estimates.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.opts.Clock.NewTicker(e.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
		ests, err := e.Cycle(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logf("query failed, skipping cycle: %v", err)
			}
			continue
		}
		for _, est := range ests {
			if est.Status == StatusOK {
				logf("attacker %s at %s from %d sensors", est.Attacker, est.Position, len(est.Sensors))
			} else {
				logf("attacker %s: %s (%d sensors)", est.Attacker, est.Status, len(est.Sensors))
			}
		}
	}
}

// Latest returns the estimates from the most recent successful cycle. It is
// empty once no attacker has a reading within the lookback.
func (e *Engine) Latest() []Estimate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.latest)
}

// Cycles counts completed store queries.
func (e *Engine) Cycles() uint64 { return e.cycles.Load() }
