// Package testutil holds fixtures shared by package tests: the reference
// sensor MACs, record builders and a few HTTP assertions.
package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/deauth.watch/internal/event"
)

var (
	SensorA  = event.MustParseMAC("00:4B:12:3C:04:B0")
	SensorB  = event.MustParseMAC("78:1C:3C:2D:15:D4")
	SensorC  = event.MustParseMAC("78:1C:3C:E3:AB:CC")
	Attacker = event.MustParseMAC("DE:AD:BE:EF:00:01")
)

// Record builds an alert record with a fixed frame count and variance.
func Record(attacker, sensor event.MAC, rssi int8, ts uint64) event.Record {
	return event.Record{
		Attacker:     attacker,
		Sensor:       sensor,
		RSSIMean:     rssi,
		RSSIVariance: 1,
		FrameCount:   50,
		Timestamp:    ts,
	}
}

// Triangle returns one record per reference sensor for Attacker, all at the
// same RSSI and timestamp.
func Triangle(rssi int8, ts uint64) []event.Record {
	return []event.Record{
		Record(Attacker, SensorA, rssi, ts),
		Record(Attacker, SensorB, rssi, ts),
		Record(Attacker, SensorC, rssi, ts),
	}
}

// AssertStatusCode checks a recorded response status.
func AssertStatusCode(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Errorf("status code = %d, want %d (body %q)", w.Code, want, w.Body.String())
	}
}

// DecodeJSON unmarshals a recorded response body into out.
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}
