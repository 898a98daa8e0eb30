// Package log provides structured protocol capture for Glagol sessions.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport, wire, service, cloud).
// It is separate from operational logging (slog) - protocol capture provides
// a complete machine-readable event trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure capture by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/glagol/bridge.glog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: Raw WebSocket text frames (FrameEvent)
//   - Wire: Classified Glagol frames (MessageEvent)
//   - Service: Session state changes (StateChangeEvent)
//   - Cloud: Scenario API calls (CloudCallEvent)
//
// WebSocket control frames (ping/pong/close) and errors have dedicated event types.
//
// # File Format
//
// Capture files use CBOR encoding with the .glog extension. The glagol-log
// CLI tool provides viewing, filtering, and export capabilities.
package log
