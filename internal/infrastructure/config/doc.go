// Package config loads config.yaml for the Leshan bridge.
//
// Values come from built-in defaults, then an optional .env file
// (LESHAN_ENV_FILE), then the YAML file, then LESHAN_* environment
// variables such as LESHAN_HOST, LESHAN_MQTT_PASSWORD or LESHAN_JWT_SECRET.
// Validate reports every problem at once.
//
// Keep the MQTT password, InfluxDB token and JWT secret in the
// environment or .env rather than in the committed YAML.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
