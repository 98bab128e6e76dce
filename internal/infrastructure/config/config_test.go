package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validJWTSecret meets the 32-character minimum requirement.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// isolateEnv points the .env lookup at a file that does not exist so a
// developer's local .env cannot leak into tests.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LESHAN_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoad_ValidConfig(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, `
bridge:
  id: "bridge-test"
leshan:
  host: "http://leshan.local:8080"
  request_timeout: 3
  scan_interval: 15
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "mqtt.local"
    port: 1883
  qos: 1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.ID != "bridge-test" {
		t.Errorf("Bridge.ID = %q, want %q", cfg.Bridge.ID, "bridge-test")
	}
	if cfg.Leshan.Host != "http://leshan.local:8080" {
		t.Errorf("Leshan.Host = %q", cfg.Leshan.Host)
	}
	if got := cfg.GetRequestTimeout(); got != 3*time.Second {
		t.Errorf("GetRequestTimeout() = %v, want 3s", got)
	}
	if got := cfg.GetScanInterval(); got != 15*time.Second {
		t.Errorf("GetScanInterval() = %v, want 15s", got)
	}
	// Not in the file: default kept.
	if got := cfg.GetReconnectBackoff(); got != 5*time.Second {
		t.Errorf("GetReconnectBackoff() = %v, want 5s", got)
	}
	if got := cfg.GetStreamIdleTimeout(); got != 0 {
		t.Errorf("GetStreamIdleTimeout() = %v, want 0", got)
	}
	if cfg.MQTT.Broker.Host != "mqtt.local" {
		t.Errorf("MQTT.Broker.Host = %q", cfg.MQTT.Broker.Host)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	isolateEnv(t)
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, `
leshan:
  host: "leshan-without-scheme"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error for relative leshan.host, got nil")
	}
	if !strings.Contains(err.Error(), "leshan.host") {
		t.Errorf("Load() error = %v, want mention of leshan.host", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, `
leshan:
  host: "http://from-file:8080"
`)
	t.Setenv("LESHAN_HOST", "http://from-env:8080")
	t.Setenv("LESHAN_SCAN_INTERVAL", "45")
	t.Setenv("LESHAN_MQTT_PORT", "not-a-number")
	t.Setenv("LESHAN_JWT_SECRET", validJWTSecret)
	t.Setenv("LESHAN_API_ENABLED", "false")
	t.Setenv("LESHAN_MQTT_TLS", "maybe")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Leshan.Host != "http://from-env:8080" {
		t.Errorf("Leshan.Host = %q, want env value", cfg.Leshan.Host)
	}
	if cfg.Leshan.ScanInterval != 45 {
		t.Errorf("Leshan.ScanInterval = %d, want 45", cfg.Leshan.ScanInterval)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default for unparseable override", cfg.MQTT.Broker.Port)
	}
	if cfg.Security.JWT.Secret != validJWTSecret {
		t.Error("Security.JWT.Secret not taken from env")
	}
	if cfg.API.Enabled {
		t.Error("API.Enabled = true, want false from env")
	}
	if cfg.MQTT.Broker.TLS {
		t.Error("MQTT.Broker.TLS set from unparseable env value")
	}
}

func TestAPITimeoutDurations(t *testing.T) {
	read, write, idle := APITimeoutConfig{Read: 1, Write: 2, Idle: 3}.Durations()
	if read != time.Second || write != 2*time.Second || idle != 3*time.Second {
		t.Errorf("Durations() = %v %v %v", read, write, idle)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("LESHAN_BRIDGE_ID=from-dotenv\n"), 0600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("LESHAN_ENV_FILE", envPath)
	// Registered so t.Setenv restores the unset state afterwards.
	t.Setenv("LESHAN_BRIDGE_ID", "")
	os.Unsetenv("LESHAN_BRIDGE_ID")

	cfg, err := Load(writeConfig(t, "bridge:\n  id: from-file\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bridge.ID != "from-dotenv" {
		t.Errorf("Bridge.ID = %q, want %q", cfg.Bridge.ID, "from-dotenv")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Security.JWT.Secret = validJWTSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults with secret", mutate: func(*Config) {}},
		{name: "auth disabled", mutate: func(c *Config) { c.Security.JWT.Secret = "" }},
		{name: "missing bridge id", mutate: func(c *Config) { c.Bridge.ID = "" }, wantErr: "bridge.id"},
		{name: "bad host", mutate: func(c *Config) { c.Leshan.Host = "://" }, wantErr: "leshan.host"},
		{name: "zero timeout", mutate: func(c *Config) { c.Leshan.RequestTimeout = 0 }, wantErr: "leshan.request_timeout"},
		{name: "zero backoff", mutate: func(c *Config) { c.Leshan.ReconnectBackoff = 0 }, wantErr: "leshan.reconnect_backoff"},
		{name: "negative idle", mutate: func(c *Config) { c.Leshan.StreamIdleTimeout = -1 }, wantErr: "stream_idle_timeout"},
		{name: "zero scan interval", mutate: func(c *Config) { c.Leshan.ScanInterval = 0 }, wantErr: "leshan.scan_interval"},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "invalid port", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: "api.port"},
		{name: "port ignored when api disabled", mutate: func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }},
		{name: "short secret", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: "security.jwt.secret"},
		{name: "negative retention", mutate: func(c *Config) { c.Database.RetentionDays = -1 }, wantErr: "database.retention_days"},
		{name: "influxdb without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Org = "o"; c.InfluxDB.Bucket = "b" }, wantErr: "influxdb.url"},
		{name: "influxdb without bucket", mutate: func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.URL = "http://influx:8086"; c.InfluxDB.Org = "o" }, wantErr: "influxdb.bucket"},
		{name: "influxdb complete", mutate: func(c *Config) {
			c.InfluxDB = InfluxDBConfig{Enabled: true, URL: "http://influx:8086", Org: "o", Bucket: "b"}
		}},
		{name: "unknown log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: "logging.level"},
		{name: "log level case", mutate: func(c *Config) { c.Logging.Level = "DEBUG" }},
		{name: "unknown log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Bridge.ID = ""
	cfg.Database.Path = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
	}
	if got := strings.Count(err.Error(), ";"); got != 1 {
		t.Errorf("Validate() error = %v, want two joined messages", err)
	}
}
