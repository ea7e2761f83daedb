// Package log provides structured protocol capture for the battery link.
//
// Protocol capture is separate from operational logging (slog). It records
// a machine-readable trace of every frame, decoded message, control message
// and lifecycle transition on a link.
//
// # Basic Usage
//
//	// Console, via slog at debug level
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/vbat/device.vlog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(console, file)
//
// # Event Types
//
// Events are captured at three layers:
//   - Transport: raw frame bytes (FrameEvent)
//   - Wire: decoded schema messages (MessageEvent)
//   - Lifecycle: connection and link state (StateChangeEvent)
//
// Control messages (ping/pong/close) and errors have dedicated event types.
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with the .vlog
// extension. The vbat-log tool views, filters and summarizes them.
package log
