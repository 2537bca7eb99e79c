package config

import (
	"fmt"
	"strings"
)

// minJWTSecretLength is the shortest accepted HS256 secret.
const minJWTSecretLength = 32

// Validate reports every problem at once, joined with "; ".
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if c.Site.ID == "" {
		add("site.id is required")
	}
	if c.Database.Path == "" {
		add("database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		add("mqtt.qos must be 0, 1, or 2")
	}
	if !validPort(c.MQTT.Broker.Port) {
		add("mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		add("mqtt.reconnect.max_delay must not be below initial_delay")
	}

	if c.Protocols.Dobiss.Enabled && c.Protocols.Dobiss.ConfigFile == "" {
		add("protocols.dobiss.config_file is required when the bridge is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			add("influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			add("influxdb.bucket is required when influxdb is enabled")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if f := strings.ToLower(c.Logging.Format); f != "json" && f != "text" {
		add("logging.format %q is not json or text", c.Logging.Format)
	}

	// The API switches lights, so it never runs with a secret short
	// enough to brute-force tokens.
	if c.API.Enabled {
		if !validPort(c.API.Port) {
			add("api.port must be between 1 and 65535")
		}
		switch {
		case c.Security.JWT.Secret == "":
			add("security.jwt.secret is required (set DOBISS_JWT_SECRET environment variable)")
		case len(c.Security.JWT.Secret) < minJWTSecretLength:
			add("security.jwt.secret must be at least %d characters", minJWTSecretLength)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }
