package detector

import (
	"errors"

	"github.com/banshee-data/deauth.watch/internal/event"
)

// MinFrameLen is the length of an 802.11 management header. Shorter frames
// are rejected before any field is read.
const MinFrameLen = 24

const (
	typeManagement   = 0
	subtypeDeauth    = 0xC
	transmitterStart = 10
)

var (
	ErrShortFrame = errors.New("detector: frame shorter than management header")
	ErrNotDeauth  = errors.New("detector: not a deauthentication frame")
)

// Frame is one management frame observed by the radio. Payload begins at the
// 802.11 frame control field.
type Frame struct {
	Payload []byte
	RSSI    int8
	// Timestamp is the capture time in microseconds since the Unix epoch.
	Timestamp int64
}

// FrameControl splits the little-endian frame control word into its type and
// subtype fields.
func FrameControl(payload []byte) (ftype, subtype uint8) {
	fc := uint16(payload[1])<<8 | uint16(payload[0])
	return uint8((fc >> 2) & 0x3), uint8((fc >> 4) & 0xF)
}

// Classify checks that payload is a deauthentication frame and returns its
// transmitter address (addr2).
func Classify(payload []byte) (event.MAC, error) {
	var mac event.MAC
	if len(payload) < MinFrameLen {
		return mac, ErrShortFrame
	}
	ftype, subtype := FrameControl(payload)
	if ftype != typeManagement || subtype != subtypeDeauth {
		return mac, ErrNotDeauth
	}
	copy(mac[:], payload[transmitterStart:transmitterStart+6])
	return mac, nil
}
