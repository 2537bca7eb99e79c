// Package logging provides structured logging for the Dobiss bridge.
//
// It wraps log/slog with JSON output for production, text output for
// development, and service/version fields on every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	driver.SetLogger(logger.Component("dobiss"))
//	logger.Error("failed to connect", "error", err)
//	logger.SetLevel("debug") // children follow
//
// Never log secrets or bearer tokens.
package logging
