// Package logging provides structured logging for the cdp control plane.
//
// It wraps log/slog so every record carries the service and version
// fields, and lets each subsystem derive a component-tagged child.
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
//	lc := logger.Component("lifecycle")
//	lc.Info("device created", "name", "cdp0", "minor", 0)
//
// Never log access keys or tokens.
package logging
