package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validJWTSecret meets the 32-character minimum.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "broker.local"
    port: 1884
  qos: 0
protocols:
  dobiss:
    config_file: "/etc/dobiss/bus.yaml"
    record_unhandled: false
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.MQTT.Broker.Host != "broker.local" || cfg.MQTT.Broker.Port != 1884 || cfg.MQTT.QoS != 0 {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.Protocols.Dobiss.ConfigFile != "/etc/dobiss/bus.yaml" || cfg.Protocols.Dobiss.RecordUnhandled {
		t.Errorf("Protocols.Dobiss = %+v", cfg.Protocols.Dobiss)
	}
	// Defaults survive for keys the file does not set.
	if !cfg.Protocols.Dobiss.Enabled || cfg.API.Port != 8090 {
		t.Errorf("defaults lost: dobiss.enabled=%v api.port=%d", cfg.Protocols.Dobiss.Enabled, cfg.API.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "invalid: [yaml: content")); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "site.id is required") {
		t.Errorf("error = %v, want site.id message", err)
	}
	// Both problems are reported at once.
	if !strings.Contains(err.Error(), "; security.jwt.secret is required") {
		t.Errorf("error = %v, want joined jwt message", err)
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
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: "site.id"},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "invalid broker port", mutate: func(c *Config) { c.MQTT.Broker.Port = 0 }, wantErr: "mqtt.broker.port"},
		{name: "invalid API port", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: "api.port"},
		{name: "missing JWT secret", mutate: func(c *Config) { c.Security.JWT.Secret = "" }, wantErr: "security.jwt.secret is required"},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: "at least 32"},
		{
			name: "API disabled needs no secret",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.Security.JWT.Secret = ""
			},
		},
		{name: "missing bus config", mutate: func(c *Config) { c.Protocols.Dobiss.ConfigFile = "" }, wantErr: "protocols.dobiss.config_file"},
		{name: "unknown log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: "logging.level"},
		{name: "log level case", mutate: func(c *Config) { c.Logging.Level = "WARN" }},
		{name: "unknown log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
		{name: "reconnect delays inverted", mutate: func(c *Config) { c.MQTT.Reconnect.MaxDelay = 0 }, wantErr: "mqtt.reconnect"},
		{
			name: "influx without url",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.Bucket = "dobiss"
			},
			wantErr: "influxdb.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60},
		},
		Security: SecurityConfig{JWT: JWTConfig{AccessTokenTTL: 15}},
	}

	if got := cfg.API.ReadTimeout(); got != 30*time.Second {
		t.Errorf("ReadTimeout() = %v", got)
	}
	if got := cfg.API.WriteTimeout(); got != 45*time.Second {
		t.Errorf("WriteTimeout() = %v", got)
	}
	if got := cfg.API.IdleTimeout(); got != time.Minute {
		t.Errorf("IdleTimeout() = %v", got)
	}
	if got := cfg.GetAccessTokenTTL(); got != 15*time.Minute {
		t.Errorf("GetAccessTokenTTL() = %v", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("DOBISS_SITE_ID", "home")
	t.Setenv("DOBISS_DATABASE_PATH", "/custom/path.db")
	t.Setenv("DOBISS_MQTT_HOST", "mqtt.example.com")
	t.Setenv("DOBISS_MQTT_PORT", "8883")
	t.Setenv("DOBISS_MQTT_USERNAME", "testuser")
	t.Setenv("DOBISS_MQTT_PASSWORD", "testpass")
	t.Setenv("DOBISS_API_HOST", "192.168.1.1")
	t.Setenv("DOBISS_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("DOBISS_BUS_CONFIG", "/etc/bus.yaml")
	t.Setenv("DOBISS_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	if cfg.Site.ID != "home" || cfg.Database.Path != "/custom/path.db" {
		t.Errorf("site/database = %q %q", cfg.Site.ID, cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" || cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password.Value() != "testpass" {
		t.Errorf("MQTT.Auth username = %q", cfg.MQTT.Auth.Username)
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.InfluxDB.Token.Value() != "secret-token" {
		t.Error("InfluxDB.Token not overridden")
	}
	if cfg.Protocols.Dobiss.ConfigFile != "/etc/bus.yaml" {
		t.Errorf("ConfigFile = %q", cfg.Protocols.Dobiss.ConfigFile)
	}
	if cfg.Security.JWT.Secret.Value() != "jwt-secret" {
		t.Error("JWT secret not overridden")
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("DOBISS_MQTT_PORT", "not-a-port")
	applyEnvOverrides(cfg)
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}

func TestApplyEnvOverrides_Typed(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("DOBISS_MQTT_TLS", "true")
	t.Setenv("DOBISS_API_PORT", "9090")
	t.Setenv("DOBISS_INFLUXDB_ENABLED", "yes")
	t.Setenv("DOBISS_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if !cfg.MQTT.Broker.TLS || cfg.API.Port != 9090 || cfg.Logging.Level != "debug" {
		t.Errorf("overrides = tls %v, api port %d, level %q", cfg.MQTT.Broker.TLS, cfg.API.Port, cfg.Logging.Level)
	}
	if cfg.InfluxDB.Enabled {
		t.Error("unparseable bool should be ignored")
	}
}

func TestValidate_ReportsAll(t *testing.T) {
	cfg := defaultConfig()
	cfg.Site.ID = ""
	cfg.MQTT.QoS = 5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "configuration errors: ") || strings.Count(msg, "; ") < 2 {
		t.Errorf("Validate() = %q", msg)
	}
}

func TestSecretRedaction(t *testing.T) {
	cfg := defaultConfig()
	cfg.Security.JWT.Secret = validJWTSecret
	cfg.MQTT.Auth.Password = "mqtt-password"
	cfg.InfluxDB.Token = "influx-token"

	dump := cfg.String()
	for _, secret := range []string{validJWTSecret, "mqtt-password", "influx-token"} {
		if strings.Contains(dump, secret) {
			t.Errorf("String() leaks %q", secret)
		}
	}
	if !strings.Contains(dump, redacted) {
		t.Error("String() has no redaction marker")
	}

	data, err := json.Marshal(cfg.Security.JWT)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), validJWTSecret) {
		t.Errorf("json = %s", data)
	}

	if Secret("").String() != "" {
		t.Error("empty secret should render empty")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8090 {
		t.Errorf("defaultConfig API.Port = %d, want 8090", cfg.API.Port)
	}
	if !cfg.Protocols.Dobiss.Enabled {
		t.Error("defaultConfig should enable the Dobiss bridge")
	}
}
