// Package loggingutil carries small pslog helpers shared by all components.
package loggingutil

import "pkt.systems/pslog"

// EnsureLogger returns l when non-nil, otherwise a disabled logger.
func EnsureLogger(l pslog.Logger) pslog.Logger {
	if l != nil {
		return l
	}
	return pslog.NoopLogger()
}

// WithSubsystem attaches a subsystem identifier to every entry logged through
// the returned logger.
func WithSubsystem(logger pslog.Logger, subsystem string) pslog.Logger {
	if subsystem == "" {
		return EnsureLogger(logger)
	}
	return EnsureLogger(logger).With("sys", subsystem)
}
