// Package logger is the logging capability shared by the mount session, the
// simulator and the commands.
//
// Messages are structured: every call takes a message followed by alternating
// keys and values, as with log/slog.
package logger

// Level is the logging severity level.
type Level int8

const (
	// DebugLevel carries every command sent to and every response read from
	// the mount.
	DebugLevel Level = iota - 1
	// InfoLevel is the default level.
	InfoLevel
	// WarnLevel is for conditions the caller may want to know about.
	WarnLevel
	// ErrorLevel is for failures, including best-effort cleanup failures.
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	}
	return "unknown"
}

// ParseLevel maps a flag value to a Level. Unknown names map to InfoLevel.
func ParseLevel(name string) Level {
	switch name {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	}
	return InfoLevel
}

// Logger defines the logging interface used throughout this module.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	// With returns a child logger that adds keyValues to every message.
	With(keyValues ...any) Logger
	// Level returns the minimum enabled level.
	Level() Level
	// SetLevel sets the minimum enabled level.
	SetLevel(level Level)
}
