package locate

import "math"

const (
	DefaultRSSI0    = -45.0
	DefaultExponent = 3.0
)

// PathLoss is the log-distance model d = 10^((RSSI0 - rssi) / (10 N)).
// RSSI0 is the expected signal at one metre in dBm and N the environment's
// path-loss exponent.
type PathLoss struct {
	RSSI0 float64 `json:"rssi0" yaml:"rssi0"`
	N     float64 `json:"exponent" yaml:"exponent"`
}

func DefaultPathLoss() PathLoss {
	return PathLoss{RSSI0: DefaultRSSI0, N: DefaultExponent}
}

// Distance converts a mean RSSI to an estimated range in metres.
func (m PathLoss) Distance(rssi float64) float64 {
	return math.Pow(10, (m.RSSI0-rssi)/(10*m.N))
}
