// Package config loads and validates the Dobiss bridge process configuration.
//
// It covers everything around the bus: the SQLite path, the MQTT broker,
// the HTTP API, InfluxDB telemetry, logging and the JWT secret. The bus
// configuration (CAN interface and output list) is a second YAML file that
// the dobiss package loads itself.
//
// Security Considerations:
//   - Passwords and tokens should be set via DOBISS_* environment variables
//   - Secret values print as [REDACTED] through String, JSON and YAML
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Protocols.Dobiss.ConfigFile)
package config
