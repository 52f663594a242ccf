// Package pkg provides shared utilities for the partner64 bridge.
//
// This package contains common functionality used by the bus driver, the
// command engine and the transports, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for bridge and transport failures
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with bridge-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentEngine, "bus reset", "state", state)
//
// # Errors
//
// Common failures are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrTimingViolation) {
//	    // The bus can no longer be trusted; reset the device.
//	}
package pkg
