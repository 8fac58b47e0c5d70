package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for racelights.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Relay     RelayConfig     `yaml:"relay"`
	Sequence  SequenceConfig  `yaml:"sequence"`
	Database  DatabaseConfig  `yaml:"database"`
	History   HistoryConfig   `yaml:"history"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig identifies the club installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// RelayConfig contains the EasyDaq relay card settings.
type RelayConfig struct {
	// Port is the serial device, e.g. /dev/ttyUSB0 or COM3.
	Port string `yaml:"port"`

	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`

	// RelayCount is the number of lights on the board. Only 5 is supported.
	RelayCount int `yaml:"relay_count"`

	SettleDelay       time.Duration `yaml:"settle_delay"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PacingInterval    time.Duration `yaml:"pacing_interval"`
	ReconnectBackoff  time.Duration `yaml:"reconnect_backoff"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`

	// AutoConnect opens the relay session at startup.
	AutoConnect bool `yaml:"auto_connect"`
}

// SequenceConfig contains race sequence settings.
type SequenceConfig struct {
	// DefaultPolicy is used when a start request does not name one ("flag" or "class").
	DefaultPolicy string `yaml:"default_policy"`

	// TimeAcceleration speeds up every sequence for rehearsals. 1 is real time.
	TimeAcceleration float64 `yaml:"time_acceleration"`

	FlashInterval     time.Duration `yaml:"flash_interval"`
	MaxStarts         int           `yaml:"max_starts"`
	MaxMinutesToStart int           `yaml:"max_minutes_to_start"`

	// ShutdownGrace is the wait between switching the board off and closing the relay.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig controls the run and session event log.
type HistoryConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Retention time.Duration `yaml:"retention"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled        bool                `yaml:"enabled"`
	Broker         MQTTBrokerConfig    `yaml:"broker"`
	Auth           MQTTAuthConfig      `yaml:"auth"`
	QoS            int                 `yaml:"qos"`
	Reconnect      MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix    string              `yaml:"topic_prefix"`
	HealthInterval time.Duration       `yaml:"health_interval"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// APIAuthConfig switches bearer token checks on the control endpoints.
type APIAuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// TokenLifetime is in minutes.
	TokenLifetime int `yaml:"token_lifetime"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RACELIGHTS_SECTION_KEY
// For example: RACELIGHTS_RELAY_PORT, RACELIGHTS_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration, used when no file is given.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with the club's usual settings.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "hillhead",
			Name: "Hillhead Sailing Club",
		},
		Relay: RelayConfig{
			Port:              "/dev/ttyUSB0",
			BaudRate:          9600,
			RelayCount:        5,
			SettleDelay:       2 * time.Second,
			HeartbeatInterval: 5 * time.Second,
			PacingInterval:    100 * time.Millisecond,
			ReconnectBackoff:  5 * time.Second,
			ReadTimeout:       500 * time.Millisecond,
			AutoConnect:       true,
		},
		Sequence: SequenceConfig{
			DefaultPolicy:     "flag",
			TimeAcceleration:  1,
			FlashInterval:     500 * time.Millisecond,
			MaxStarts:         9,
			MaxMinutesToStart: 5,
			ShutdownGrace:     time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/racelights.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			Enabled:   true,
			Retention: 30 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "racelights",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix:    "racelights",
			HealthInterval: 30 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "hillhead",
			Bucket:        "racelights",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				TokenLifetime: 720,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RACELIGHTS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Relay
	if v := os.Getenv("RACELIGHTS_RELAY_PORT"); v != "" {
		cfg.Relay.Port = v
	}

	// Sequence
	if v := os.Getenv("RACELIGHTS_SEQUENCE_POLICY"); v != "" {
		cfg.Sequence.DefaultPolicy = v
	}
	if v := os.Getenv("RACELIGHTS_TIME_ACCELERATION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Sequence.TimeAcceleration = f
		}
	}

	// Database
	if v := os.Getenv("RACELIGHTS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("RACELIGHTS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RACELIGHTS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RACELIGHTS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("RACELIGHTS_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("RACELIGHTS_API_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = p
		}
	}

	// InfluxDB
	if v := os.Getenv("RACELIGHTS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("RACELIGHTS_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Relay validation
	if strings.TrimSpace(c.Relay.Port) == "" {
		errs = append(errs, "relay.port is required")
	}
	if c.Relay.RelayCount != 5 {
		errs = append(errs, "relay.relay_count must be 5")
	}
	if c.Relay.BaudRate <= 0 {
		errs = append(errs, "relay.baud_rate must be positive")
	}
	if c.Relay.PacingInterval < 0 || c.Relay.HeartbeatInterval < 0 ||
		c.Relay.ReconnectBackoff < 0 || c.Relay.SettleDelay < 0 || c.Relay.ReadTimeout < 0 {
		errs = append(errs, "relay timings must not be negative")
	}
	if c.Relay.HeartbeatInterval > 0 && c.Relay.HeartbeatInterval <= c.Relay.ReadTimeout {
		errs = append(errs, "relay.heartbeat_interval must be longer than relay.read_timeout")
	}

	// Sequence validation
	switch c.Sequence.DefaultPolicy {
	case "flag", "class":
	default:
		errs = append(errs, "sequence.default_policy must be flag or class")
	}
	if c.Sequence.TimeAcceleration < 1 {
		errs = append(errs, "sequence.time_acceleration must be at least 1")
	}
	if c.Sequence.MaxStarts < 1 {
		errs = append(errs, "sequence.max_starts must be at least 1")
	}
	if c.Sequence.MaxMinutesToStart < 0 {
		errs = append(errs, "sequence.max_minutes_to_start must not be negative")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// A JWT secret is only needed when the API checks tokens.
	const minJWTSecretLength = 32
	if c.API.Auth.Enabled {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when api.auth is enabled (set RACELIGHTS_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// GetTokenLifetime returns the JWT lifetime as a Duration.
func (c *Config) GetTokenLifetime() time.Duration {
	return time.Duration(c.Security.JWT.TokenLifetime) * time.Minute
}
