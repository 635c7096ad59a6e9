// Package detector implements the sensor-side deauthentication flood
// detector: a sliding window of frame arrival times with a threshold, and a
// signal-strength summary emitted with each alert.
package detector

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/deauth.watch/internal/event"
	"github.com/banshee-data/deauth.watch/internal/monitoring"
)

const (
	DefaultThreshold  = 50
	DefaultWindow     = 500 * time.Millisecond
	DefaultBufferSize = 1024
	DefaultQueueLen   = 8
)

// Config holds the detector tuning knobs.
type Config struct {
	// Threshold is the number of deauth frames within Window that raises an
	// alert. It also sizes the signal-strength ring.
	Threshold int
	Window    time.Duration
	// BufferSize caps the number of timestamps the window can hold.
	BufferSize int
}

// DefaultConfig returns T=50, W=500ms, N=1024.
func DefaultConfig() Config {
	return Config{
		Threshold:  DefaultThreshold,
		Window:     DefaultWindow,
		BufferSize: DefaultBufferSize,
	}
}

// Validate rejects configurations that could never fire.
func (c Config) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("threshold must be positive, got %d", c.Threshold)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", c.Window)
	}
	if c.BufferSize < c.Threshold {
		return fmt.Errorf("buffer size %d is smaller than threshold %d", c.BufferSize, c.Threshold)
	}
	return nil
}

// Stats are cumulative detector counters.
type Stats struct {
	Frames  uint64 `json:"frames"`
	Deauths uint64 `json:"deauths"`
	Alerts  uint64 `json:"alerts"`
	Dropped uint64 `json:"dropped"`
}

// Detector consumes frame notifications and emits an event.Record each time
// the threshold is crossed. HandleFrame must be called from a single
// goroutine; Stats may be read concurrently.
type Detector struct {
	cfg      Config
	windowUS int64
	self     event.MAC
	window   *Window
	rssi     *Accumulator
	relay    chan<- event.Record

	frames  atomic.Uint64
	deauths atomic.Uint64
	alerts  atomic.Uint64
	dropped atomic.Uint64
}

// New builds a detector for the sensor whose own address is self. Alerts are
// offered to relay without blocking; a nil relay only returns them.
func New(cfg Config, self event.MAC, relay chan<- event.Record) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		cfg:      cfg,
		windowUS: cfg.Window.Microseconds(),
		self:     self,
		window:   NewWindow(cfg.BufferSize),
		rssi:     NewAccumulator(cfg.Threshold),
		relay:    relay,
	}, nil
}

// HandleFrame processes one frame. It never blocks and does not allocate. When
// the frame completes a detection the record is returned with ok set, after
// being offered to the relay queue.
func (d *Detector) HandleFrame(f Frame) (rec event.Record, ok bool) {
	d.frames.Add(1)
	attacker, err := Classify(f.Payload)
	if err != nil {
		return rec, false
	}
	d.deauths.Add(1)

	now := f.Timestamp
	d.window.Prune(now - d.windowUS)
	d.window.Insert(now)
	d.rssi.Add(f.RSSI)

	if d.window.Len() < d.cfg.Threshold {
		return rec, false
	}

	mean, variance := d.rssi.MeanVariance()
	rec = event.Record{
		Attacker:     attacker,
		Sensor:       d.self,
		RSSIMean:     int8(mean),
		RSSIVariance: float32(variance),
		FrameCount:   int32(d.cfg.Threshold),
		Timestamp:    uint64(now),
	}
	d.alerts.Add(1)
	monitoring.DetectorAlert()

	if d.relay != nil {
		select {
		case d.relay <- rec:
		default:
			d.dropped.Add(1)
			monitoring.DetectorDropped()
		}
	}

	d.window.Reset()
	d.rssi.Reset()
	return rec, true
}

// Pending returns the number of timestamps currently in the window.
func (d *Detector) Pending() int { return d.window.Len() }

// Dropped returns the number of alerts lost to a full relay queue.
func (d *Detector) Dropped() uint64 { return d.dropped.Load() }

func (d *Detector) Stats() Stats {
	return Stats{
		Frames:  d.frames.Load(),
		Deauths: d.deauths.Load(),
		Alerts:  d.alerts.Load(),
		Dropped: d.dropped.Load(),
	}
}
