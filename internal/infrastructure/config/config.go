package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config mirrors config.yaml. Durations are whole seconds unless a field
// says otherwise.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Leshan    LeshanConfig    `yaml:"leshan"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// BridgeConfig identifies this bridge on the MQTT bus and points at its
// observation rules.
type BridgeConfig struct {
	ID             string `yaml:"id"`
	RulesFile      string `yaml:"rules_file"`
	HealthInterval int    `yaml:"health_interval"`
}

// LeshanConfig locates the Leshan server. A zero StreamIdleTimeout
// disables the stream watchdog.
type LeshanConfig struct {
	Host              string `yaml:"host"`
	RequestTimeout    int    `yaml:"request_timeout"`
	ReconnectBackoff  int    `yaml:"reconnect_backoff"`
	StreamIdleTimeout int    `yaml:"stream_idle_timeout"`
	ScanInterval      int    `yaml:"scan_interval"`
}

// DatabaseConfig is the SQLite reading log. RetentionDays of zero keeps
// readings forever.
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
}

// MQTTConfig is the broker session.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig is left empty for anonymous brokers.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig is the read-only status API.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists browser origins allowed to call the API. Empty allows
// any origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig tunes the notification socket. MaxMessageSize is in
// bytes.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig is the optional time-series sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig signs API bearer tokens. An empty Secret disables
// authentication. AccessTokenTTL is in minutes.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load builds the configuration in four layers, each overriding the last:
// built-in defaults, a .env file (which never replaces variables already
// set), the YAML file at path, then LESHAN_* environment variables. The
// result is validated.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if err := loadDotEnv(); err != nil {
		return nil, err
	}

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

// loadDotEnv reads LESHAN_ENV_FILE, or .env, into the environment. A
// missing file is fine.
func loadDotEnv() error {
	path := os.Getenv(EnvPrefix + "ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "leshan-bridge-01",
			RulesFile:      "./configs/rules.yaml",
			HealthInterval: 30,
		},
		Leshan: LeshanConfig{
			Host:             "http://localhost:8080",
			RequestTimeout:   10,
			ReconnectBackoff: 5,
			ScanInterval:     30,
		},
		Database: DatabaseConfig{
			Path:          "./data/leshan-bridge.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker:    MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "leshan-bridge"},
			QoS:       1,
			Reconnect: MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60},
		},
		API: APIConfig{
			Enabled:  true,
			Host:     "0.0.0.0",
			Port:     8090,
			Timeouts: APITimeoutConfig{Read: 30, Write: 30, Idle: 60},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Security: SecurityConfig{JWT: JWTConfig{AccessTokenTTL: 15}},
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// GetRequestTimeout bounds each Leshan REST call.
func (c *Config) GetRequestTimeout() time.Duration { return seconds(c.Leshan.RequestTimeout) }

// GetReconnectBackoff is the delay before re-opening the event stream.
func (c *Config) GetReconnectBackoff() time.Duration { return seconds(c.Leshan.ReconnectBackoff) }

// GetStreamIdleTimeout is zero when the watchdog is off.
func (c *Config) GetStreamIdleTimeout() time.Duration { return seconds(c.Leshan.StreamIdleTimeout) }

// GetScanInterval is the poll cycle period.
func (c *Config) GetScanInterval() time.Duration { return seconds(c.Leshan.ScanInterval) }

// Durations returns the HTTP server read, write and idle timeouts.
func (t APITimeoutConfig) Durations() (read, write, idle time.Duration) {
	return seconds(t.Read), seconds(t.Write), seconds(t.Idle)
}
