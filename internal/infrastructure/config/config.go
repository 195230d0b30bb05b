package config

import (
	"fmt"
	"net/netip"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/knxnetip/internal/knx/address"
)

// Config is the root configuration structure for the knxnetip daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	KNX      KNXConfig      `yaml:"knx"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Bridge   BridgeConfig   `yaml:"bridge"`
}

// KNXConfig contains the KNXnet/IP connection settings.
type KNXConfig struct {
	// Gateway is the tunneling gateway address or the routing multicast
	// group (224.0.23.12).
	Gateway string `yaml:"gateway"`

	// Port is the gateway UDP port. Default: 3671
	Port int `yaml:"port"`

	// Interface names the local network interface. Empty selects the first
	// non-loopback interface with an IPv4 address.
	Interface string `yaml:"interface"`

	// ForceTunneling tunnels even to a multicast address.
	ForceTunneling bool `yaml:"force_tunneling"`

	// AutoReconnect restarts the connect cycle after a failure. Default: true
	AutoReconnect bool `yaml:"auto_reconnect"`

	// PhysAddr is the source individual address until the gateway assigns
	// one. Format: "area.line.device". Default: "15.15.15"
	PhysAddr string `yaml:"phys_addr"`

	// Timings in milliseconds.
	ReconnectDelay           int `yaml:"reconnect_delay"`
	ReceiveAckTimeout        int `yaml:"receive_ack_timeout"`
	MinimumDelay             int `yaml:"minimum_delay"`
	ConnstateRequestInterval int `yaml:"connstate_request_interval"`
	ConnstateResponseTimeout int `yaml:"connstate_response_timeout"`
	DisconnectTimeout        int `yaml:"disconnect_timeout"`
}

// KNXTimings are the connection timings as durations.
type KNXTimings struct {
	ReconnectDelay           time.Duration
	ReceiveAckTimeout        time.Duration
	MinimumDelay             time.Duration
	ConnstateRequestInterval time.Duration
	ConnstateResponseTimeout time.Duration
	DisconnectTimeout        time.Duration
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`

	// JWTSecret enables HS256 bearer-token checks on write and read
	// endpoints when set.
	JWTSecret string `yaml:"jwt_secret"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains telegram stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// BridgeConfig contains MQTT bridge settings.
type BridgeConfig struct {
	// TopicPrefix is the root of every bridge topic. Default: "knxnetip"
	TopicPrefix string `yaml:"topic_prefix"`

	// HealthInterval is the health publish period in seconds. Default: 30
	HealthInterval int `yaml:"health_interval"`

	// StatsInterval is the session stats telemetry period in seconds.
	// Default: 60
	StatsInterval int `yaml:"stats_interval"`

	// DPTs maps group addresses to datapoint types, used to add decoded
	// values to published telegrams.
	DPTs map[string]string `yaml:"dpts"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: KNXNETIP_SECTION_KEY
// For example: KNXNETIP_KNX_GATEWAY, KNXNETIP_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file; empty loads defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Read is Load without validation, for callers that apply further overrides
// (command-line flags) and then call Validate themselves.
func Read(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns the default configuration. The gateway is unset.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		KNX: KNXConfig{
			Port:                     3671,
			AutoReconnect:            true,
			PhysAddr:                 "15.15.15",
			ReconnectDelay:           3000,
			ReceiveAckTimeout:        2000,
			MinimumDelay:             20,
			ConnstateRequestInterval: 10000,
			ConnstateResponseTimeout: 1500,
			DisconnectTimeout:        3000,
		},
		Database: DatabaseConfig{
			Path:        "./data/knxnetip.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "knxnetip",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		InfluxDB: InfluxDBConfig{
			Org:           "knxnetip",
			Bucket:        "knx",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Bridge: BridgeConfig{
			TopicPrefix:    "knxnetip",
			HealthInterval: 30,
			StatsInterval:  60,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: KNXNETIP_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// KNX
	if v := os.Getenv("KNXNETIP_KNX_GATEWAY"); v != "" {
		cfg.KNX.Gateway = v
	}
	if v := os.Getenv("KNXNETIP_KNX_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.KNX.Port = n
		}
	}
	if v := os.Getenv("KNXNETIP_KNX_INTERFACE"); v != "" {
		cfg.KNX.Interface = v
	}

	// Database
	if v := os.Getenv("KNXNETIP_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("KNXNETIP_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("KNXNETIP_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("KNXNETIP_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("KNXNETIP_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("KNXNETIP_JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}

	// InfluxDB
	if v := os.Getenv("KNXNETIP_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("KNXNETIP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: All validation failures joined, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// KNX validation
	if c.KNX.Gateway == "" {
		errs = append(errs, "knx.gateway is required (set KNXNETIP_KNX_GATEWAY environment variable)")
	} else if _, err := netip.ParseAddr(c.KNX.Gateway); err != nil {
		errs = append(errs, fmt.Sprintf("knx.gateway %q is not an IP address", c.KNX.Gateway))
	}
	if c.KNX.Port < 1 || c.KNX.Port > 65535 {
		errs = append(errs, "knx.port must be between 1 and 65535")
	}
	for name, v := range map[string]int{
		"reconnect_delay":            c.KNX.ReconnectDelay,
		"receive_ack_timeout":        c.KNX.ReceiveAckTimeout,
		"connstate_request_interval": c.KNX.ConnstateRequestInterval,
		"connstate_response_timeout": c.KNX.ConnstateResponseTimeout,
		"disconnect_timeout":         c.KNX.DisconnectTimeout,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Sprintf("knx.%s must be positive", name))
		}
	}
	if c.KNX.PhysAddr != "" {
		if _, err := address.ParseDevice(c.KNX.PhysAddr); err != nil {
			errs = append(errs, fmt.Sprintf("knx.phys_addr: %v", err))
		}
	}
	if c.KNX.MinimumDelay < 0 {
		errs = append(errs, "knx.minimum_delay must not be negative")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	const minJWTSecretLength = 32
	if c.API.JWTSecret != "" && len(c.API.JWTSecret) < minJWTSecretLength {
		errs = append(errs, "api.jwt_secret must be at least 32 characters")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Bridge validation
	if c.MQTT.Enabled && strings.TrimSpace(c.Bridge.TopicPrefix) == "" {
		errs = append(errs, "bridge.topic_prefix is required")
	}

	if len(errs) > 0 {
		// Map iteration above is unordered.
		slices.Sort(errs)
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ConnectionTimings converts the millisecond timings to durations.
func (k KNXConfig) ConnectionTimings() KNXTimings {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return KNXTimings{
		ReconnectDelay:           ms(k.ReconnectDelay),
		ReceiveAckTimeout:        ms(k.ReceiveAckTimeout),
		MinimumDelay:             ms(k.MinimumDelay),
		ConnstateRequestInterval: ms(k.ConnstateRequestInterval),
		ConnstateResponseTimeout: ms(k.ConnstateResponseTimeout),
		DisconnectTimeout:        ms(k.DisconnectTimeout),
	}
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetHealthInterval returns the bridge health publish period.
func (b BridgeConfig) GetHealthInterval() time.Duration {
	return time.Duration(b.HealthInterval) * time.Second
}

// GetStatsInterval returns the session stats telemetry period.
func (b BridgeConfig) GetStatsInterval() time.Duration {
	return time.Duration(b.StatsInterval) * time.Second
}
