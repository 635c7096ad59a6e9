package capture

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/banshee-data/deauth.watch/internal/detector"
	"github.com/banshee-data/deauth.watch/internal/event"
)

// Flood synthesises a burst of deauthentication frames from one attacker.
type Flood struct {
	Attacker event.MAC
	Target   event.MAC
	Count    int
	Interval time.Duration
	// RSSI is the mean signal strength; Jitter spreads samples uniformly
	// over RSSI±Jitter.
	RSSI   int8
	Jitter int8
	// Start is the timestamp of the first frame. Zero means time.Now.
	Start time.Time
	// Pace sleeps Interval between frames.
	Pace bool
}

func (f Flood) Run(ctx context.Context, handle func(detector.Frame)) error {
	payload, err := DeauthFrame(f.Attacker, f.Target, 7)
	if err != nil {
		return err
	}
	start := f.Start
	if start.IsZero() {
		start = time.Now()
	}
	step := f.Interval.Microseconds()
	for i := 0; i < f.Count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Pace && i > 0 {
			if err := sleepCtx(ctx, f.Interval); err != nil {
				return err
			}
		}
		handle(detector.Frame{
			Payload:   payload,
			RSSI:      f.sample(),
			Timestamp: start.UnixMicro() + int64(i)*step,
		})
	}
	return nil
}

func (f Flood) sample() int8 {
	if f.Jitter <= 0 {
		return f.RSSI
	}
	span := 2*int(f.Jitter) + 1
	v := int(f.RSSI) - int(f.Jitter) + rand.IntN(span)
	return int8(max(-128, min(127, v)))
}
