package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/phsym/console-slog"
)

// Format selects the slog handler used by New.
type Format int

const (
	// FormatAuto uses the console handler when ENV=development and JSON otherwise.
	FormatAuto Format = iota
	// FormatJSON writes one JSON object per line.
	FormatJSON
	// FormatConsole writes colored human-readable lines.
	FormatConsole
)

type slogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

var _ Logger = (*slogLogger)(nil)

// New creates a slog backed Logger writing to w.
func New(w io.Writer, level Level, format Format) Logger {
	l := &slogLogger{level: &slog.LevelVar{}}
	l.level.Set(toSlogLevel(level))

	if format == FormatAuto {
		format = FormatJSON
		if os.Getenv("ENV") == "development" {
			format = FormatConsole
		}
	}

	var handler slog.Handler
	switch format {
	case FormatConsole:
		handler = console.NewHandler(w, &console.HandlerOptions{
			AddSource: true,
			Level:     l.level,
		})
	default:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: l.level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					a.Key = "ts"
				}
				return a
			},
		})
	}
	l.logger = slog.New(handler)
	return l
}

func (l *slogLogger) Debug(msg string, keysAndValues ...any) {
	l.log(slog.LevelDebug, msg, keysAndValues...)
}

func (l *slogLogger) Info(msg string, keysAndValues ...any) {
	l.log(slog.LevelInfo, msg, keysAndValues...)
}

func (l *slogLogger) Warn(msg string, keysAndValues ...any) {
	l.log(slog.LevelWarn, msg, keysAndValues...)
}

func (l *slogLogger) Error(msg string, keysAndValues ...any) {
	l.log(slog.LevelError, msg, keysAndValues...)
}

func (l *slogLogger) With(keyValues ...any) Logger {
	return &slogLogger{
		logger: l.logger.With(keyValues...),
		level:  l.level,
	}
}

func (l *slogLogger) Level() Level {
	switch lv := l.level.Level(); {
	case lv <= slog.LevelDebug:
		return DebugLevel
	case lv <= slog.LevelInfo:
		return InfoLevel
	case lv <= slog.LevelWarn:
		return WarnLevel
	}
	return ErrorLevel
}

func (l *slogLogger) SetLevel(level Level) {
	l.level.Set(toSlogLevel(level))
}

// log must be called directly by an exported method; the caller depth used
// for the source position depends on it.
func (l *slogLogger) log(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	// skip [runtime.Callers, log, exported method]
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.logger.Handler().Handle(ctx, r)
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	}
	return slog.LevelError
}
