// Package logging provides structured logging for the racelights controller.
//
// It wraps log/slog so every component logs with the same handler, level
// and default fields (service, version, site).
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	relayLog := logger.With("component", "relay")
//	relayLog.Info("relay session connected", "port", cfg.Relay.Port)
//
// Never log MQTT passwords, JWT secrets or InfluxDB tokens.
package logging
