package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Field struct {
	Key   string
	Value interface{}
}

var (
	mu    sync.RWMutex
	level = new(slog.LevelVar)
	base  = newLogger(os.Stdout)
)

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				a.Key = "ts"
				a.Value = slog.StringValue(a.Value.Time().UTC().Format("2006-01-02T15:04:05.000000000Z07:00"))
			case slog.LevelKey:
				a.Value = slog.StringValue(strings.ToLower(a.Value.String()))
			}
			return a
		},
	}))
}

// SetOutput redirects all subsequent log lines to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = newLogger(w)
}

// SetLevel accepts debug, info, warn or error. Unknown values fall back to info.
func SetLevel(s string) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// Slog exposes the underlying logger for libraries that take a *slog.Logger.
func Slog() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func log(lvl slog.Level, msg string, fields []Field, err error) {
	args := make([]any, 0, 2*len(fields)+2)
	if err != nil {
		args = append(args, "error", err.Error())
	}
	for _, f := range fields {
		args = append(args, f.Key, f.Value)
	}
	Slog().Log(context.Background(), lvl, msg, args...)
}

func Info(msg string, fields ...Field) {
	log(slog.LevelInfo, msg, fields, nil)
}

func Warn(msg string, fields ...Field) {
	log(slog.LevelWarn, msg, fields, nil)
}

func Error(msg string, err error, fields ...Field) {
	log(slog.LevelError, msg, fields, err)
}

func Debug(msg string, fields ...Field) {
	log(slog.LevelDebug, msg, fields, nil)
}

func FieldKV(key string, value interface{}) Field { return Field{Key: key, Value: value} }
