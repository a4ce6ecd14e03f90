// Package logger provides the leveled logging utility used across the docmint
// pipeline. It wraps the standard `log` package and filters messages by level.
package logger

import (
	"io"
	"log"
	"strings"
	"sync/atomic"
)

// Level represents a logging level.
type Level int32

const (
	// LevelDebug enables detailed diagnostic output.
	LevelDebug Level = iota
	// LevelInfo enables general informational messages.
	LevelInfo
	// LevelWarn enables warnings about suspicious but non-fatal conditions.
	LevelWarn
	// LevelError enables error messages.
	LevelError
	// LevelFatal enables only fatal messages that terminate the process.
	LevelFatal
)

// current holds the active level. Only messages at or above it are emitted.
var current atomic.Int32

func init() {
	current.Store(int32(LevelInfo))
}

// SetLevel sets the global log level from its string form.
// Valid values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" (case-insensitive).
// An unknown value falls back to INFO and logs a warning.
func SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		current.Store(int32(LevelDebug))
	case "INFO":
		current.Store(int32(LevelInfo))
	case "WARN":
		current.Store(int32(LevelWarn))
	case "ERROR":
		current.Store(int32(LevelError))
	case "FATAL":
		current.Store(int32(LevelFatal))
	default:
		current.Store(int32(LevelInfo))
		log.Printf("[WARN] unknown log level %q, defaulting to INFO", level)
	}
}

// SetOutput redirects log output; tests use this to capture messages.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func enabled(l Level) bool {
	return current.Load() <= int32(l)
}

// Debugf logs a DEBUG level message in fmt.Printf style.
func Debugf(format string, v ...interface{}) {
	if enabled(LevelDebug) {
		log.Printf("[DEBUG] "+format, v...)
	}
}

// Infof logs an INFO level message in fmt.Printf style.
func Infof(format string, v ...interface{}) {
	if enabled(LevelInfo) {
		log.Printf("[INFO] "+format, v...)
	}
}

// Warnf logs a WARN level message in fmt.Printf style.
func Warnf(format string, v ...interface{}) {
	if enabled(LevelWarn) {
		log.Printf("[WARN] "+format, v...)
	}
}

// Errorf logs an ERROR level message in fmt.Printf style.
func Errorf(format string, v ...interface{}) {
	if enabled(LevelError) {
		log.Printf("[ERROR] "+format, v...)
	}
}

// Fatalf logs a FATAL level message and terminates the process via os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	log.Fatalf("[FATAL] "+format, v...)
}
