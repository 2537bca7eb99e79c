package config

import (
	"os"
	"strconv"
)

// envVar binds one DOBISS_* variable to a field. Values that do not parse
// are ignored and the file or default value stands.
type envVar struct {
	name  string
	apply func(c *Config, v string)
}

func setString(field func(*Config) *string) func(*Config, string) {
	return func(c *Config, v string) { *field(c) = v }
}

func setSecret(field func(*Config) *Secret) func(*Config, string) {
	return func(c *Config, v string) { *field(c) = Secret(v) }
}

func setInt(field func(*Config) *int) func(*Config, string) {
	return func(c *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*field(c) = n
		}
	}
}

func setBool(field func(*Config) *bool) func(*Config, string) {
	return func(c *Config, v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			*field(c) = b
		}
	}
}

// envVars lists the supported overrides. Secrets are meant to come from
// here rather than the file.
var envVars = []envVar{
	{"DOBISS_SITE_ID", setString(func(c *Config) *string { return &c.Site.ID })},
	{"DOBISS_DATABASE_PATH", setString(func(c *Config) *string { return &c.Database.Path })},

	{"DOBISS_MQTT_HOST", setString(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"DOBISS_MQTT_PORT", setInt(func(c *Config) *int { return &c.MQTT.Broker.Port })},
	{"DOBISS_MQTT_TLS", setBool(func(c *Config) *bool { return &c.MQTT.Broker.TLS })},
	{"DOBISS_MQTT_CLIENT_ID", setString(func(c *Config) *string { return &c.MQTT.Broker.ClientID })},
	{"DOBISS_MQTT_USERNAME", setString(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"DOBISS_MQTT_PASSWORD", setSecret(func(c *Config) *Secret { return &c.MQTT.Auth.Password })},

	{"DOBISS_API_HOST", setString(func(c *Config) *string { return &c.API.Host })},
	{"DOBISS_API_PORT", setInt(func(c *Config) *int { return &c.API.Port })},

	{"DOBISS_INFLUXDB_ENABLED", setBool(func(c *Config) *bool { return &c.InfluxDB.Enabled })},
	{"DOBISS_INFLUXDB_URL", setString(func(c *Config) *string { return &c.InfluxDB.URL })},
	{"DOBISS_INFLUXDB_TOKEN", setSecret(func(c *Config) *Secret { return &c.InfluxDB.Token })},

	{"DOBISS_LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
	{"DOBISS_BUS_CONFIG", setString(func(c *Config) *string { return &c.Protocols.Dobiss.ConfigFile })},
	{"DOBISS_JWT_SECRET", setSecret(func(c *Config) *Secret { return &c.Security.JWT.Secret })},
}

// applyEnvOverrides applies every set, non-empty variable in envVars.
func applyEnvOverrides(cfg *Config) {
	for _, ev := range envVars {
		if v := os.Getenv(ev.name); v != "" {
			ev.apply(cfg, v)
		}
	}
}
