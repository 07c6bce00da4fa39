package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

const timeFormat = "2006-01-02 15:04:05.000Z07:00"

type Field struct {
	Key   string
	Value any
}

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	Enabled(level Level) bool
}

type slogLogger struct {
	logger *slog.Logger
}

// New returns a text logger writing to out.
func New(out io.Writer, level Level) Logger {
	return NewWithFormat(out, level, FormatText)
}

func NewWithFormat(out io.Writer, level Level, format Format) Logger {
	if out == nil {
		out = os.Stderr
	}
	return &slogLogger{logger: slog.New(newHandler(out, level, format))}
}

func Nop() Logger {
	return &slogLogger{logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

func newHandler(out io.Writer, level Level, format Format) slog.Handler {
	if format == FormatJSON {
		return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slogLevel(level)})
	}
	return tint.NewHandler(out, &tint.Options{
		Level:      slogLevel(level),
		TimeFormat: timeFormat,
		NoColor:    !isTerminal(out),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindAny {
				if _, ok := a.Value.Any().(error); ok {
					return tint.Attr(9, a)
				}
			}
			return a
		},
	})
}

func (l *slogLogger) Enabled(level Level) bool {
	if l == nil || l.logger == nil {
		return false
	}
	return l.logger.Enabled(context.Background(), slogLevel(level))
}

func (l *slogLogger) With(fields ...Field) Logger {
	if l == nil || l.logger == nil {
		return Nop()
	}
	return &slogLogger{logger: l.logger.With(attrs(fields)...)}
}

func (l *slogLogger) Debug(msg string, fields ...Field) { l.log(Debug, msg, fields...) }
func (l *slogLogger) Info(msg string, fields ...Field)  { l.log(Info, msg, fields...) }
func (l *slogLogger) Warn(msg string, fields ...Field)  { l.log(Warn, msg, fields...) }
func (l *slogLogger) Error(msg string, fields ...Field) { l.log(Error, msg, fields...) }

func (l *slogLogger) log(level Level, msg string, fields ...Field) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Log(context.Background(), slogLevel(level), msg, attrs(fields)...)
}

func attrs(fields []Field) []any {
	out := make([]any, 0, len(fields))
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		out = append(out, slog.Any(field.Key, field.Value))
	}
	return out
}

func slogLevel(level Level) slog.Level {
	switch level {
	case Debug:
		return slog.LevelDebug
	case Warn:
		return slog.LevelWarn
	case Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func ParseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

func ParseFormat(raw string) Format {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "json":
		return FormatJSON
	default:
		return FormatText
	}
}

func NewRequestID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(buf[:])
}

func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

func Err(err error) Field {
	return Field{Key: "error", Value: err}
}
