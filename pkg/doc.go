// Package pkg provides shared utilities for the usbdiag toolkit.
//
// This package contains functionality used by the hub, controller, ping and
// diagnostic packages:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for USB transport and hub port failures
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentHub, "port reset", "port", 2)
//
// # Errors
//
// Failures are reported as wrapped sentinel values:
//
//	if errors.Is(err, pkg.ErrRetryExhausted) {
//	    // port never came back enabled
//	}
package pkg
