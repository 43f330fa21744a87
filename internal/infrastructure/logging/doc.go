// Package logging provides structured logging for AutoTouch Core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the engine, API and CLI.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("executor").Info("step matched", "step", 2, "confidence", 0.93)
//
// Domain packages depend on a four-method Logger interface rather than this
// type, so *Logger satisfies them through the embedded *slog.Logger.
package logging
