// Package monitoring holds the request and health logger shared by the
// HTTP surfaces.
package monitoring

import "log"

// Logf is the package-level request logger. It defaults to log.Printf but
// may be replaced by SetLogger to redirect or mute it.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}

// Prefixed returns a logger that writes through Logf with prefix in front
// of every message. Logf is looked up per call, so a later SetLogger is
// honoured.
func Prefixed(prefix string) func(format string, v ...any) {
	return func(format string, v ...any) {
		Logf(prefix+format, v...)
	}
}
