// Package logging builds the bridge's slog loggers.
//
// Every entry carries service and version fields; components add their own
// with Component. The logging section of config.yaml picks the level
// (debug, info, warn, error), the handler (json or text) and the
// destination (stdout, stderr or discard):
//
//	log := logging.New(cfg.Logging, version)
//	mqttLog := log.Component("mqtt")
//	mqttLog.Warn("connection lost", "error", err)
//
// Do not log JWT secrets, InfluxDB tokens or broker passwords.
package logging
