package config

import (
	"os"
	"strconv"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "LESHAN_"

// envBinding maps LESHAN_<key> onto one field. apply reports false when
// the value cannot be parsed; the field is then left alone.
type envBinding struct {
	key   string
	apply func(cfg *Config, v string) bool
}

func stringField(field func(*Config) *string) func(*Config, string) bool {
	return func(cfg *Config, v string) bool {
		*field(cfg) = v
		return true
	}
}

func intField(field func(*Config) *int) func(*Config, string) bool {
	return func(cfg *Config, v string) bool {
		n, err := strconv.Atoi(v)
		if err != nil {
			return false
		}
		*field(cfg) = n
		return true
	}
}

func boolField(field func(*Config) *bool) func(*Config, string) bool {
	return func(cfg *Config, v string) bool {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false
		}
		*field(cfg) = b
		return true
	}
}

var envBindings = []envBinding{
	{"HOST", stringField(func(c *Config) *string { return &c.Leshan.Host })},
	{"SCAN_INTERVAL", intField(func(c *Config) *int { return &c.Leshan.ScanInterval })},
	{"REQUEST_TIMEOUT", intField(func(c *Config) *int { return &c.Leshan.RequestTimeout })},

	{"BRIDGE_ID", stringField(func(c *Config) *string { return &c.Bridge.ID })},
	{"RULES_FILE", stringField(func(c *Config) *string { return &c.Bridge.RulesFile })},

	{"DATABASE_PATH", stringField(func(c *Config) *string { return &c.Database.Path })},
	{"RETENTION_DAYS", intField(func(c *Config) *int { return &c.Database.RetentionDays })},

	{"MQTT_HOST", stringField(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"MQTT_PORT", intField(func(c *Config) *int { return &c.MQTT.Broker.Port })},
	{"MQTT_TLS", boolField(func(c *Config) *bool { return &c.MQTT.Broker.TLS })},
	{"MQTT_USERNAME", stringField(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"MQTT_PASSWORD", stringField(func(c *Config) *string { return &c.MQTT.Auth.Password })},

	{"API_ENABLED", boolField(func(c *Config) *bool { return &c.API.Enabled })},
	{"API_HOST", stringField(func(c *Config) *string { return &c.API.Host })},
	{"API_PORT", intField(func(c *Config) *int { return &c.API.Port })},

	{"INFLUXDB_ENABLED", boolField(func(c *Config) *bool { return &c.InfluxDB.Enabled })},
	{"INFLUXDB_URL", stringField(func(c *Config) *string { return &c.InfluxDB.URL })},
	{"INFLUXDB_TOKEN", stringField(func(c *Config) *string { return &c.InfluxDB.Token })},

	{"LOG_LEVEL", stringField(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_FORMAT", stringField(func(c *Config) *string { return &c.Logging.Format })},

	{"JWT_SECRET", stringField(func(c *Config) *string { return &c.Security.JWT.Secret })},
}

// applyEnvOverrides applies every set LESHAN_* variable. Empty values and
// unparseable numbers or booleans are ignored.
func applyEnvOverrides(cfg *Config) {
	for _, b := range envBindings {
		if v := os.Getenv(EnvPrefix + b.key); v != "" {
			b.apply(cfg, v)
		}
	}
}
