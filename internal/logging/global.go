package logging

import "sync/atomic"

var global atomic.Pointer[Logger]

func init() {
	global.Store(DefaultLogger())
}

// SetGlobal replaces the process-wide logger.
func SetGlobal(l *Logger) {
	global.Store(l)
}

// Global returns the process-wide logger. Components built without an
// explicit logger fall back to it.
func Global() *Logger {
	return global.Load()
}

// Configure builds the process-wide logger from the observability settings
// and installs it. Debug level also records callers.
func Configure(level, format string) *Logger {
	lvl := ParseLevel(level)
	l := New(Config{Level: lvl, Format: ParseFormat(format), AddCaller: lvl == LevelDebug})
	SetGlobal(l)
	return l
}
