package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// minJWTSecretLength is the shortest accepted signing secret.
const minJWTSecretLength = 32

var (
	logLevels  = []string{"debug", "info", "warn", "warning", "error"}
	logFormats = []string{"json", "text"}
)

// problems collects every failed check so one run reports them all.
type problems []string

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		*p = append(*p, fmt.Sprintf(format, args...))
	}
}

// Validate reports every problem in one error wrapping ErrInvalidConfig.
func (c *Config) Validate() error {
	var p problems

	p.check(c.Bridge.ID != "", "bridge.id is required")
	p.check(c.Bridge.HealthInterval >= 0, "bridge.health_interval cannot be negative")

	u, err := url.Parse(c.Leshan.Host)
	p.check(err == nil && u.Scheme != "" && u.Host != "", "leshan.host must be an absolute URL (e.g. http://leshan:8080)")
	p.check(c.Leshan.RequestTimeout > 0, "leshan.request_timeout must be positive")
	p.check(c.Leshan.ReconnectBackoff > 0, "leshan.reconnect_backoff must be positive")
	p.check(c.Leshan.StreamIdleTimeout >= 0, "leshan.stream_idle_timeout cannot be negative")
	p.check(c.Leshan.ScanInterval > 0, "leshan.scan_interval must be positive")

	p.check(c.Database.Path != "", "database.path is required")
	p.check(c.Database.RetentionDays >= 0, "database.retention_days cannot be negative")

	p.check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")

	if c.API.Enabled {
		p.check(c.API.Port >= 1 && c.API.Port <= 65535, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled {
		p.check(c.InfluxDB.URL != "", "influxdb.url is required when influxdb is enabled")
		p.check(c.InfluxDB.Org != "" && c.InfluxDB.Bucket != "", "influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	p.check(c.Logging.Level == "" || slices.Contains(logLevels, strings.ToLower(c.Logging.Level)),
		"logging.level %q is not one of %s", c.Logging.Level, strings.Join(logLevels, ", "))
	p.check(c.Logging.Format == "" || slices.Contains(logFormats, strings.ToLower(c.Logging.Format)),
		"logging.format %q is not one of %s", c.Logging.Format, strings.Join(logFormats, ", "))

	// Empty disables authentication; short is refused.
	s := c.Security.JWT.Secret
	p.check(s == "" || len(s) >= minJWTSecretLength, "security.jwt.secret must be at least %d characters", minJWTSecretLength)
	p.check(c.Security.JWT.AccessTokenTTL >= 0, "security.jwt.access_token_ttl cannot be negative")

	if len(p) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(p, "; "))
	}
	return nil
}
