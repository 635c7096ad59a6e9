package main

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/banshee-data/deauth.watch/internal/event"
	"github.com/banshee-data/deauth.watch/internal/locate"
	"github.com/banshee-data/deauth.watch/internal/timeutil"
)

// devGenerator emits alerts for one synthetic attacker from three sensors in
// turn, with signal strength matching the attacker's true position.
type devGenerator struct {
	mu       sync.Mutex
	attacker event.MAC
	sensors  []event.MAC
	places   []locate.Point
	target   locate.Point
	model    locate.PathLoss
	i        int
}

func newDevGenerator() *devGenerator {
	return &devGenerator{
		attacker: event.MustParseMAC("02:DE:AD:00:00:01"),
		sensors: []event.MAC{
			event.MustParseMAC("00:4B:12:3C:04:B0"),
			event.MustParseMAC("78:1C:3C:2D:15:D4"),
			event.MustParseMAC("78:1C:3C:E3:AB:CC"),
		},
		places: []locate.Point{{X: 2, Y: 0}, {X: 0, Y: 3}, {X: 0, Y: 0}},
		target: locate.Point{X: 1, Y: 1},
		model:  locate.DefaultPathLoss(),
	}
}

func (g *devGenerator) positions() locate.Positions {
	p := make(locate.Positions, len(g.sensors))
	for i, s := range g.sensors {
		p[s] = g.places[i]
	}
	return p
}

// rssiAt inverts the path-loss model.
func (g *devGenerator) rssiAt(d float64) float64 {
	return g.model.RSSI0 - 10*g.model.N*math.Log10(d)
}

func (g *devGenerator) next() event.Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.i % len(g.sensors)
	g.i++

	d := max(g.places[i].Dist(g.target), 0.1)
	rssi := g.rssiAt(d) + rand.NormFloat64()
	return event.Record{
		Attacker:     g.attacker,
		Sensor:       g.sensors[i],
		RSSIMean:     int8(rssi),
		RSSIVariance: float32(1 + rand.Float64()),
		FrameCount:   50,
		Timestamp:    timeutil.Micros(timeutil.RealClock{}.Now()),
	}
}
