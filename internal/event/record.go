// Package event defines the detection record that crosses every tier of the
// system: sensor radio datagrams, the gateway serial link and the host store.
package event

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Size is the encoded length of a Record in bytes.
//
// Layout (little-endian, no padding):
//
//	0  attacker MAC    [6]byte
//	6  sensor MAC      [6]byte
//	12 rssi mean       int8 dBm
//	13 rssi variance   float32
//	17 frame count     int32
//	21 timestamp       uint64 µs since the Unix epoch
const Size = 29

const (
	offAttacker = 0
	offSensor   = 6
	offMean     = 12
	offVariance = 13
	offCount    = 17
	offTime     = 21
)

// MaxTimestamp is the largest timestamp the stores can hold: both keep it in
// a signed 64-bit column.
const MaxTimestamp = math.MaxInt64

var (
	// ErrInvalidLength is returned when a buffer is not exactly Size bytes long.
	ErrInvalidLength = errors.New("event: invalid record length")
	// ErrTimestampRange is returned for timestamps above MaxTimestamp.
	ErrTimestampRange = errors.New("event: timestamp out of range")
)

// Record is a single deauthentication-flood detection reported by a sensor.
type Record struct {
	Attacker     MAC     `json:"attack_mac"`
	Sensor       MAC     `json:"sensor_mac"`
	RSSIMean     int8    `json:"rssi_mean"`
	RSSIVariance float32 `json:"rssi_variance"`
	FrameCount   int32   `json:"frame_count"`
	// Timestamp is assigned by the sensor when the detection fires.
	Timestamp uint64 `json:"timestamp"`
}

// Put encodes r into buf, which must be at least Size bytes. It does not
// allocate and is safe to call from the frame path.
func (r *Record) Put(buf []byte) {
	_ = buf[Size-1]
	copy(buf[offAttacker:offSensor], r.Attacker[:])
	copy(buf[offSensor:offMean], r.Sensor[:])
	buf[offMean] = byte(r.RSSIMean)
	binary.LittleEndian.PutUint32(buf[offVariance:offCount], math.Float32bits(r.RSSIVariance))
	binary.LittleEndian.PutUint32(buf[offCount:offTime], uint32(r.FrameCount))
	binary.LittleEndian.PutUint64(buf[offTime:Size], r.Timestamp)
}

// AppendBinary appends the encoded record to dst.
func (r Record) AppendBinary(dst []byte) ([]byte, error) {
	n := len(dst)
	dst = append(dst, make([]byte, Size)...)
	r.Put(dst[n:])
	return dst, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r Record) MarshalBinary() ([]byte, error) {
	return r.AppendBinary(make([]byte, 0, Size))
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) != Size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(b), Size)
	}
	copy(r.Attacker[:], b[offAttacker:offSensor])
	copy(r.Sensor[:], b[offSensor:offMean])
	r.RSSIMean = int8(b[offMean])
	r.RSSIVariance = math.Float32frombits(binary.LittleEndian.Uint32(b[offVariance:offCount]))
	r.FrameCount = int32(binary.LittleEndian.Uint32(b[offCount:offTime]))
	r.Timestamp = binary.LittleEndian.Uint64(b[offTime:Size])
	return nil
}

// Decode parses an encoded record. Any input that is not exactly Size bytes
// is rejected without being parsed.
func Decode(b []byte) (Record, error) {
	var r Record
	err := r.UnmarshalBinary(b)
	return r, err
}

// Time returns the record timestamp as a UTC time.
func (r Record) Time() time.Time {
	return time.UnixMicro(int64(r.Timestamp)).UTC()
}

// CheckTimestamp reports whether r can be persisted. The wire format carries
// the full uint64 range, so this is checked at the store boundary rather
// than at decode.
func (r Record) CheckTimestamp() error {
	if r.Timestamp > MaxTimestamp {
		return fmt.Errorf("%w: %d", ErrTimestampRange, r.Timestamp)
	}
	return nil
}

// WindowBounds returns the inclusive range [center-window, center+window],
// clamped to [0, MaxTimestamp].
func WindowBounds(center, window uint64) (lo, hi uint64) {
	if center > window {
		lo = center - window
	}
	hi = MaxTimestamp
	if center <= MaxTimestamp && window <= MaxTimestamp-center {
		hi = center + window
	}
	return min(lo, MaxTimestamp), hi
}

func (r Record) String() string {
	return fmt.Sprintf("attacker=%s sensor=%s rssi=%d var=%.2f frames=%d ts=%d",
		r.Attacker, r.Sensor, r.RSSIMean, r.RSSIVariance, r.FrameCount, r.Timestamp)
}
