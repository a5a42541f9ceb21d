package logger

import (
	"io"
	"os"
)

var defLogger = New(os.Stderr, InfoLevel, FormatAuto)

// GetLogger returns the process-wide default logger.
func GetLogger() Logger {
	return defLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l Logger) {
	if l != nil {
		defLogger = l
	}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return New(io.Discard, ErrorLevel, FormatJSON)
}

func Debug(msg string, keysAndValues ...any) {
	defLogger.Debug(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...any) {
	defLogger.Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	defLogger.Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	defLogger.Error(msg, keysAndValues...)
}
