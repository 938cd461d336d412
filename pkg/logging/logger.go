// Package logging is khatt's structured logger: a small field-based
// interface over log/slog. Console output is rendered by charmbracelet/log,
// JSON output by the slog JSON handler.
package logging

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Logger is what packages log through. Fields are typed key/value pairs.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Field is one key/value pair on a log record.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field { return Field{key, value} }
func Int(key string, value int) Field { return Field{key, value} }
func Int64(key string, value int64) Field { return Field{key, value} }
func Float64(key string, value float64) Field { return Field{key, value} }
func Bool(key string, value bool) Field { return Field{key, value} }
func Duration(key string, value time.Duration) Field { return Field{key, value} }
func Any(key string, value any) Field { return Field{key, value} }

// Err records err under "error".
func Err(err error) Field { return Field{"error", err} }

// SlogLogger implements Logger on a *slog.Logger.
type SlogLogger struct {
	logger *slog.Logger
}

type options struct {
	level  slog.Level
	output io.Writer
	json   bool
}

// LoggerOption configures NewSlogLogger.
type LoggerOption func(*options)

// WithLevel sets the minimum level. The default is info.
func WithLevel(level slog.Level) LoggerOption {
	return func(o *options) { o.level = level }
}

// WithOutput sets the destination. The default is stderr.
func WithOutput(w io.Writer) LoggerOption {
	return func(o *options) { o.output = w }
}

// WithJSON switches from the console format to one JSON object per line.
func WithJSON() LoggerOption {
	return func(o *options) { o.json = true }
}

// NewSlogLogger creates a logger.
func NewSlogLogger(opts ...LoggerOption) *SlogLogger {
	o := options{level: slog.LevelInfo, output: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	var h slog.Handler
	if o.json {
		h = slog.NewJSONHandler(o.output, &slog.HandlerOptions{Level: o.level})
	} else {
		// charmbracelet/log levels share slog's numeric values.
		h = charmlog.NewWithOptions(o.output, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.00",
			Level:           charmlog.Level(o.level),
		})
	}
	return &SlogLogger{logger: slog.New(h)}
}

// ParseLevel maps a config string to a slog level. Unknown values yield info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Slog returns the underlying slog logger, for libraries that accept one.
func (l *SlogLogger) Slog() *slog.Logger { return l.logger }

func attrs(fields []Field) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}

func (l *SlogLogger) Debug(msg string, fields ...Field) { l.logger.Debug(msg, attrs(fields)...) }
func (l *SlogLogger) Info(msg string, fields ...Field) { l.logger.Info(msg, attrs(fields)...) }
func (l *SlogLogger) Warn(msg string, fields ...Field) { l.logger.Warn(msg, attrs(fields)...) }
func (l *SlogLogger) Error(msg string, fields ...Field) { l.logger.Error(msg, attrs(fields)...) }

// With returns a logger that adds fields to every record.
func (l *SlogLogger) With(fields ...Field) Logger {
	return &SlogLogger{logger: l.logger.With(attrs(fields)...)}
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field) {}
func (NopLogger) Warn(string, ...Field) {}
func (NopLogger) Error(string, ...Field) {}

func (n NopLogger) With(...Field) Logger { return n }

// DefaultLogger is used by L when the context carries no logger.
var DefaultLogger Logger = NewSlogLogger()

// SetDefault replaces DefaultLogger. The CLI calls it once configuration
// is loaded.
func SetDefault(l Logger) { DefaultLogger = l }

type ctxKey struct{}

// ContextWithLogger stores l in ctx.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// LoggerFromContext returns the logger stored in ctx, or nil.
func LoggerFromContext(ctx context.Context) Logger {
	l, _ := ctx.Value(ctxKey{}).(Logger)
	return l
}

// L returns the request logger from ctx, falling back to DefaultLogger.
func L(ctx context.Context) Logger {
	if l := LoggerFromContext(ctx); l != nil {
		return l
	}
	return DefaultLogger
}

// RequestLogger logs one line per request at a level chosen by status:
// warn for 4xx, error for 5xx. The request logger is available to
// handlers through L.
func RequestLogger(logger Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}

			reqLogger := logger.With(
				String("request_id", id),
				String("method", r.Method),
				String("path", r.URL.Path),
			)
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ContextWithLogger(r.Context(), reqLogger)))

			fields := []Field{
				Int("status", rw.status),
				Int64("bytes", rw.bytes),
				Duration("duration", time.Since(start)),
			}
			switch {
			case rw.status >= 500:
				reqLogger.Error("request completed", fields...)
			case rw.status >= 400:
				reqLogger.Warn("request completed", fields...)
			default:
				reqLogger.Info("request completed", fields...)
			}
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(p)
	rw.bytes += int64(n)
	return n, err
}

// Hijack lets the live route upgrade to a WebSocket through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	rw.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
