package event

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	return Record{
		Attacker:     MustParseMAC("DE:AD:BE:EF:00:01"),
		Sensor:       MustParseMAC("78:1C:3C:E3:AB:CC"),
		RSSIMean:     -61,
		RSSIVariance: 3.25,
		FrameCount:   50,
		Timestamp:    1_700_000_000_123_456,
	}
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rec  Record
	}{
		{name: "typical", rec: sampleRecord()},
		{name: "zero", rec: Record{}},
		{name: "extremes", rec: Record{
			Attacker:     MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			Sensor:       MAC{0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
			RSSIMean:     math.MinInt8,
			RSSIVariance: math.MaxFloat32,
			FrameCount:   math.MinInt32,
			Timestamp:    math.MaxUint64,
		}},
		{name: "nan variance bits", rec: Record{RSSIVariance: math.Float32frombits(0x7fc00001)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := tt.rec.MarshalBinary()
			require.NoError(t, err)
			require.Len(t, b, Size)

			got, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, tt.rec.Attacker, got.Attacker)
			assert.Equal(t, tt.rec.Sensor, got.Sensor)
			assert.Equal(t, tt.rec.RSSIMean, got.RSSIMean)
			assert.Equal(t, math.Float32bits(tt.rec.RSSIVariance), math.Float32bits(got.RSSIVariance))
			assert.Equal(t, tt.rec.FrameCount, got.FrameCount)
			assert.Equal(t, tt.rec.Timestamp, got.Timestamp)
		})
	}
}

func TestRecordLayout(t *testing.T) {
	t.Parallel()

	rec := Record{
		Attacker:     MAC{1, 2, 3, 4, 5, 6},
		Sensor:       MAC{7, 8, 9, 10, 11, 12},
		RSSIMean:     -2,
		RSSIVariance: 1.0,
		FrameCount:   50,
		Timestamp:    0x0102030405060708,
	}
	b, err := rec.MarshalBinary()
	require.NoError(t, err)

	want := []byte{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
		0xfe,
		0x00, 0x00, 0x80, 0x3f,
		50, 0, 0, 0,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
	}
	if diff := cmp.Diff(want, b); diff != "" {
		t.Errorf("encoded layout mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, Size - 1, Size + 1, 64} {
		_, err := Decode(make([]byte, n))
		assert.ErrorIs(t, err, ErrInvalidLength, "length %d", n)
	}
}

func TestAppendBinary(t *testing.T) {
	t.Parallel()

	prefix := []byte{0xaa, 0xbb}
	out, err := sampleRecord().AppendBinary(prefix)
	require.NoError(t, err)
	require.Len(t, out, 2+Size)
	assert.Equal(t, prefix, out[:2])

	got, err := Decode(out[2:])
	require.NoError(t, err)
	assert.Equal(t, sampleRecord(), got)
}

func TestRecordTime(t *testing.T) {
	t.Parallel()

	rec := Record{Timestamp: 1_500_000}
	assert.Equal(t, time.Unix(1, 500_000_000).UTC(), rec.Time())
}

func TestMAC(t *testing.T) {
	t.Parallel()

	m, err := ParseMAC("78:1c:3c:e3:ab:cc")
	require.NoError(t, err)
	assert.Equal(t, "78:1C:3C:E3:AB:CC", m.String())

	dashed, err := ParseMAC("78-1C-3C-E3-AB-CC")
	require.NoError(t, err)
	assert.Equal(t, m, dashed)

	for _, bad := range []string{"", "78:1C:3C", "zz:1C:3C:E3:AB:CC", "78:1C:3C:E3:AB:CC:00"} {
		_, err := ParseMAC(bad)
		assert.Error(t, err, bad)
	}

	assert.True(t, MAC{}.IsZero())
	assert.False(t, m.IsZero())
}

func TestRecordJSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(sampleRecord())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"attack_mac":"DE:AD:BE:EF:00:01"`)
	assert.Contains(t, string(b), `"sensor_mac":"78:1C:3C:E3:AB:CC"`)

	var back Record
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, sampleRecord(), back)
}

func TestCheckTimestamp(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Record{Timestamp: MaxTimestamp}.CheckTimestamp())
	assert.ErrorIs(t, Record{Timestamp: MaxTimestamp + 1}.CheckTimestamp(), ErrTimestampRange)
	assert.ErrorIs(t, Record{Timestamp: math.MaxUint64}.CheckTimestamp(), ErrTimestampRange)
}

func TestWindowBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		center, window uint64
		lo, hi         uint64
	}{
		{name: "typical", center: 10_000, window: 2_000, lo: 8_000, hi: 12_000},
		{name: "underflow clamps at zero", center: 5, window: 10, lo: 0, hi: 15},
		{name: "overflow saturates", center: MaxTimestamp - 1, window: 10, lo: MaxTimestamp - 11, hi: MaxTimestamp},
		{name: "uint64 wrap", center: math.MaxUint64, window: math.MaxUint64, lo: 0, hi: MaxTimestamp},
		{name: "center beyond range", center: math.MaxUint64, window: 1, lo: MaxTimestamp, hi: MaxTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := WindowBounds(tt.center, tt.window)
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
		})
	}
}
