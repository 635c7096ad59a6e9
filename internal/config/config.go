// Package config loads the deployment configuration shared by the sensor,
// gateway, host daemon and query tool. Every field is optional: the Get*
// methods fall back to built-in defaults, so partial files are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/deauth.watch/internal/db"
	"github.com/banshee-data/deauth.watch/internal/db/clickhouse"
	"github.com/banshee-data/deauth.watch/internal/detector"
	"github.com/banshee-data/deauth.watch/internal/ingest"
	"github.com/banshee-data/deauth.watch/internal/locate"
	"github.com/banshee-data/deauth.watch/internal/relay"
	"github.com/banshee-data/deauth.watch/internal/serialmux"
)

// DefaultConfigPath is the example configuration checked into the repo.
const DefaultConfigPath = "config/deauthwatch.example.yaml"

const maxFileSize = 1 << 20

const (
	TransportUDP  = "udp"
	TransportNATS = "nats"

	DriverSQLite     = "sqlite"
	DriverClickHouse = "clickhouse"
)

type Config struct {
	Detector DetectorConfig `json:"detector" yaml:"detector"`
	Relay    RelayConfig    `json:"relay" yaml:"relay"`
	Serial   SerialConfig   `json:"serial" yaml:"serial"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Ingest   IngestConfig   `json:"ingest" yaml:"ingest"`
	Locate   LocateConfig   `json:"locate" yaml:"locate"`
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
}

type DetectorConfig struct {
	Threshold  *int    `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Window     *string `json:"window,omitempty" yaml:"window,omitempty"` // duration string like "500ms"
	BufferSize *int    `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`
	QueueLen   *int    `json:"queue_len,omitempty" yaml:"queue_len,omitempty"`
}

type RelayConfig struct {
	// Transport is "udp" or "nats".
	Transport *string `json:"transport,omitempty" yaml:"transport,omitempty"`
	// Address is the UDP destination on sensors and the listen address on
	// the gateway.
	Address *string `json:"address,omitempty" yaml:"address,omitempty"`
	NATSURL *string `json:"nats_url,omitempty" yaml:"nats_url,omitempty"`
	Subject *string `json:"subject,omitempty" yaml:"subject,omitempty"`
}

type SerialConfig struct {
	Port    *string               `json:"port,omitempty" yaml:"port,omitempty"`
	Options serialmux.PortOptions `json:"options" yaml:"options"`
}

type StoreConfig struct {
	// Driver is "sqlite" or "clickhouse".
	Driver     *string            `json:"driver,omitempty" yaml:"driver,omitempty"`
	Path       *string            `json:"path,omitempty" yaml:"path,omitempty"`
	ClickHouse *clickhouse.Config `json:"clickhouse,omitempty" yaml:"clickhouse,omitempty"`
}

type IngestConfig struct {
	Quantum *string `json:"quantum,omitempty" yaml:"quantum,omitempty"`
}

type LocateConfig struct {
	Interval *string                 `json:"interval,omitempty" yaml:"interval,omitempty"`
	Lookback *string                 `json:"lookback,omitempty" yaml:"lookback,omitempty"`
	RSSI0    *float64                `json:"rssi0,omitempty" yaml:"rssi0,omitempty"`
	Exponent *float64                `json:"exponent,omitempty" yaml:"exponent,omitempty"`
	Sensors  []locate.SensorPosition `json:"sensors,omitempty" yaml:"sensors,omitempty"`
}

type HTTPConfig struct {
	Listen     *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`
}

// Load reads a .json, .yaml or .yml file and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must be .json, .yaml or .yml, got %q", ext)
	}

	fi, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fi.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fi.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", cleanPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault returns an empty Config when path is "".
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	return Load(path)
}

// Validate checks ranges and that every duration parses.
func (c *Config) Validate() error {
	for name, s := range map[string]*string{
		"detector.window": c.Detector.Window,
		"ingest.quantum":  c.Ingest.Quantum,
		"locate.interval": c.Locate.Interval,
		"locate.lookback": c.Locate.Lookback,
	} {
		if s == nil || *s == "" {
			continue
		}
		d, err := time.ParseDuration(*s)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *s, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if err := c.DetectorConfig().Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if c.GetQueueLen() < 1 {
		return fmt.Errorf("detector.queue_len must be positive, got %d", c.GetQueueLen())
	}
	switch c.GetTransport() {
	case TransportUDP, TransportNATS:
	default:
		return fmt.Errorf("relay.transport must be %q or %q, got %q", TransportUDP, TransportNATS, c.GetTransport())
	}
	switch c.GetDriver() {
	case DriverSQLite:
	case DriverClickHouse:
		if c.Store.ClickHouse == nil || c.Store.ClickHouse.Host == "" {
			return fmt.Errorf("store.clickhouse.host is required for the clickhouse driver")
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", DriverSQLite, DriverClickHouse, c.GetDriver())
	}
	if _, err := c.Serial.Options.Normalize(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	if c.GetExponent() <= 0 {
		return fmt.Errorf("locate.exponent must be positive, got %f", c.GetExponent())
	}
	if _, err := locate.NewPositions(c.Locate.Sensors); err != nil {
		return fmt.Errorf("locate.sensors: %w", err)
	}
	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

func stringOr(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

// DetectorConfig returns detector settings with defaults applied.
func (c *Config) DetectorConfig() detector.Config {
	dc := detector.DefaultConfig()
	if c.Detector.Threshold != nil {
		dc.Threshold = *c.Detector.Threshold
	}
	if c.Detector.BufferSize != nil {
		dc.BufferSize = *c.Detector.BufferSize
	}
	dc.Window = durationOr(c.Detector.Window, dc.Window)
	return dc
}

func (c *Config) GetQueueLen() int {
	if c.Detector.QueueLen == nil {
		return detector.DefaultQueueLen
	}
	return *c.Detector.QueueLen
}

func (c *Config) GetTransport() string {
	return stringOr(c.Relay.Transport, TransportUDP)
}

// GetRelayAddress defaults to the limited broadcast address.
func (c *Config) GetRelayAddress() string {
	return stringOr(c.Relay.Address, fmt.Sprintf("255.255.255.255:%d", relay.DefaultPort))
}

// GetListenAddress is the gateway's UDP listen address.
func (c *Config) GetListenAddress() string {
	return stringOr(c.Relay.Address, fmt.Sprintf(":%d", relay.DefaultPort))
}

func (c *Config) GetNATSURL() string {
	return stringOr(c.Relay.NATSURL, "nats://127.0.0.1:4222")
}

func (c *Config) GetSubject() string {
	return stringOr(c.Relay.Subject, relay.DefaultSubject)
}

func (c *Config) GetSerialPort() string {
	return stringOr(c.Serial.Port, "/dev/ttyUSB0")
}

// GetSerialOptions returns normalised port options; invalid options were
// already rejected by Validate.
func (c *Config) GetSerialOptions() serialmux.PortOptions {
	opts, err := c.Serial.Options.Normalize()
	if err != nil {
		return serialmux.PortOptions{}
	}
	return opts
}

func (c *Config) GetDriver() string {
	return stringOr(c.Store.Driver, DriverSQLite)
}

func (c *Config) GetDBPath() string {
	return stringOr(c.Store.Path, db.DefaultPath)
}

func (c *Config) GetQuantum() time.Duration {
	return durationOr(c.Ingest.Quantum, ingest.DefaultQuantum)
}

// LocateOptions returns engine options with defaults applied. The clock
// is left to the caller.
func (c *Config) LocateOptions() locate.Options {
	return locate.Options{
		Interval: durationOr(c.Locate.Interval, locate.DefaultInterval),
		Lookback: durationOr(c.Locate.Lookback, locate.DefaultLookback),
		PathLoss: locate.PathLoss{RSSI0: c.GetRSSI0(), N: c.GetExponent()},
	}
}

func (c *Config) GetRSSI0() float64 {
	if c.Locate.RSSI0 == nil {
		return locate.DefaultRSSI0
	}
	return *c.Locate.RSSI0
}

func (c *Config) GetExponent() float64 {
	if c.Locate.Exponent == nil {
		return locate.DefaultExponent
	}
	return *c.Locate.Exponent
}

// Positions parses the sensor position table.
func (c *Config) Positions() (locate.Positions, error) {
	return locate.NewPositions(c.Locate.Sensors)
}

func (c *Config) GetHTTPListen() string {
	return stringOr(c.HTTP.Listen, ":8080")
}

func (c *Config) GetGRPCListen() string {
	return stringOr(c.HTTP.GRPCListen, ":8081")
}
