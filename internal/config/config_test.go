package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/deauth.watch/internal/detector"
	"github.com/banshee-data/deauth.watch/internal/event"
	"github.com/banshee-data/deauth.watch/internal/locate"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, detector.DefaultConfig(), cfg.DetectorConfig())
	assert.Equal(t, detector.DefaultQueueLen, cfg.GetQueueLen())
	assert.Equal(t, TransportUDP, cfg.GetTransport())
	assert.Equal(t, "255.255.255.255:4210", cfg.GetRelayAddress())
	assert.Equal(t, ":4210", cfg.GetListenAddress())
	assert.Equal(t, DriverSQLite, cfg.GetDriver())
	assert.Equal(t, 2*time.Second, cfg.GetQuantum())
	assert.Equal(t, "921600/8N1", cfg.GetSerialOptions().String())

	opts := cfg.LocateOptions()
	assert.Equal(t, time.Second, opts.Interval)
	assert.Equal(t, 5*time.Second, opts.Lookback)
	assert.Equal(t, locate.DefaultPathLoss(), opts.PathLoss)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "c.yaml", `
detector:
  threshold: 20
  window: 250ms
ingest:
  quantum: 1s
relay:
  transport: nats
  nats_url: nats://broker:4222
locate:
  exponent: 4
  sensors:
    - {mac: "00:4B:12:3C:04:B0", x: 2, y: 0}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	dc := cfg.DetectorConfig()
	assert.Equal(t, 20, dc.Threshold)
	assert.Equal(t, 250*time.Millisecond, dc.Window)
	assert.Equal(t, detector.DefaultBufferSize, dc.BufferSize)
	assert.Equal(t, time.Second, cfg.GetQuantum())
	assert.Equal(t, TransportNATS, cfg.GetTransport())
	assert.Equal(t, "nats://broker:4222", cfg.GetNATSURL())
	assert.Equal(t, 4.0, cfg.GetExponent())

	pos, err := cfg.Positions()
	require.NoError(t, err)
	assert.Equal(t, locate.Point{X: 2, Y: 0}, pos[event.MustParseMAC("00:4B:12:3C:04:B0")])
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "c.json", `{"store": {"driver": "sqlite", "path": "/var/lib/deauth.db"}, "serial": {"options": {"baud_rate": 115200}}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/deauth.db", cfg.GetDBPath())
	assert.Equal(t, "115200/8N1", cfg.GetSerialOptions().String())
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name, file, body, want string
	}{
		{"extension", "c.toml", "x = 1", "must be .json"},
		{"bad duration", "c.yaml", "detector: {window: soon}", "detector.window"},
		{"negative duration", "c.yaml", "ingest: {quantum: -1s}", "ingest.quantum"},
		{"threshold above buffer", "c.yaml", "detector: {threshold: 10, buffer_size: 5}", "detector"},
		{"transport", "c.yaml", "relay: {transport: carrier-pigeon}", "relay.transport"},
		{"clickhouse host", "c.yaml", "store: {driver: clickhouse}", "store.clickhouse.host"},
		{"parity", "c.yaml", "serial: {options: {parity: X}}", "serial"},
		{"sensor mac", "c.yaml", "locate: {sensors: [{mac: bogus}]}", "locate.sensors"},
		{"exponent", "c.yaml", "locate: {exponent: 0}", "locate.exponent"},
		{"syntax", "c.json", "{", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadTooLarge(t *testing.T) {
	path := writeFile(t, "big.yaml", "# "+strings.Repeat("x", maxFileSize))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)
	pos, err := cfg.Positions()
	require.NoError(t, err)
	assert.Len(t, pos, 3)
	assert.Equal(t, 50, cfg.DetectorConfig().Threshold)
}
