package locate

import (
	"fmt"

	"github.com/banshee-data/deauth.watch/internal/event"
)

// SensorPosition is one configured sensor placement.
type SensorPosition struct {
	MAC string  `json:"mac" yaml:"mac"`
	X   float64 `json:"x" yaml:"x"`
	Y   float64 `json:"y" yaml:"y"`
}

// Positions maps a sensor MAC to its fixed coordinates.
type Positions map[event.MAC]Point

// NewPositions parses a configured position table. Duplicate MACs are an
// error.
func NewPositions(list []SensorPosition) (Positions, error) {
	p := make(Positions, len(list))
	for _, sp := range list {
		mac, err := event.ParseMAC(sp.MAC)
		if err != nil {
			return nil, fmt.Errorf("sensor position %q: %w", sp.MAC, err)
		}
		if _, dup := p[mac]; dup {
			return nil, fmt.Errorf("sensor %s listed twice", mac)
		}
		p[mac] = Point{X: sp.X, Y: sp.Y}
	}
	return p, nil
}
