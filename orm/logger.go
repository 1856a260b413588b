package orm

import "log"

// Logger is the minimal logging seam the facade writes through: a thin
// wrapper around the standard library's *log.Logger rather than a
// structured-logging dependency this module has no other use for.
type Logger interface {
	Printf(format string, args ...any)
}

// stdLogger adapts *log.Logger to Logger.
type stdLogger struct{ l *log.Logger }

func (s stdLogger) Printf(format string, args ...any) { s.l.Printf(format, args...) }

// DefaultLogger returns a Logger backed by the standard library's default
// logger.
func DefaultLogger() Logger {
	return stdLogger{l: log.Default()}
}
