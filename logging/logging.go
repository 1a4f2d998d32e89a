// Package logging wires up the daemon's two log sinks: a rotating file
// sink for the operational log (window closes, detections, reloads) and
// a stderr stream for configuration diagnostics (parse fallbacks, PID
// file misses) that an operator watches interactively.
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// MaxSizeMB is the rotation threshold for the operational log file.
const MaxSizeMB = 1

// MaxBackups is the number of rotated generations kept.
const MaxBackups = 9

// Level controls the minimum severity written to either sink.
type Level = zerolog.Level

// InitOperational points the global logger at a rotating file sink. It
// is the daemon's main log: window closes, detections, rotations,
// reload signals.
func InitOperational(path string, level zerolog.Level) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    MaxSizeMB,
		MaxBackups: MaxBackups,
		Compress:   false,
	}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(level)
}

// NewDiagnostics builds a second, independent logger that always writes
// to stderr regardless of where the operational log points, used for
// configuration-loading diagnostics an operator running --test-config
// or a foreground daemon expects to see immediately.
func NewDiagnostics() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: false}).With().Timestamp().Logger()
}

// Resolve returns *diag if diag is non-nil, or the current global
// operational logger otherwise. Components that accept an optional
// diagnostics logger call this once at construction time so callers
// that don't care about sink separation (most tests) can pass nil.
func Resolve(diag *zerolog.Logger) zerolog.Logger {
	if diag != nil {
		return *diag
	}
	return log.Logger
}

// ParseLevel maps a CLI-facing level name to a zerolog.Level, defaulting
// to Info on an unrecognized name.
func ParseLevel(name string) zerolog.Level {
	switch name {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
