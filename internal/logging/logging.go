// Package logging provides structured logging with Sentry error reporting.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// Options configures the process-wide logger.
type Options struct {
	Level     slog.Level
	SentryDSN string
	Env       string // "development", "production"
	Version   string
	File      string // empty = stderr
}

type logger struct {
	*slog.Logger
	sentry bool
	file   *os.File
}

var current *logger

// Init installs the process-wide logger. It also becomes slog's default.
func Init(opts Options) error {
	sentryOn := false
	if opts.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         opts.SentryDSN,
			Environment: opts.Env,
			Release:     opts.Version,
		})
		if err != nil {
			return fmt.Errorf("sentry init: %w", err)
		}
		sentryOn = true
	}

	var out io.Writer = os.Stderr
	var file *os.File
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = f
		file = f
	}

	text := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Local().Format("2006-01-02T15:04:05.000-07:00"))
				}
			}
			return a
		},
	})

	current = &logger{
		Logger: slog.New(&reportingHandler{Handler: text, enabled: sentryOn}),
		sentry: sentryOn,
		file:   file,
	}
	slog.SetDefault(current.Logger)
	return nil
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Flush drains pending Sentry events and closes the log file. Call before exit.
func Flush(timeout time.Duration) {
	if current == nil {
		return
	}
	if current.sentry {
		sentry.Flush(timeout)
	}
	if current.file != nil {
		current.file.Sync()
		current.file.Close()
	}
}

func get() *logger {
	if current == nil {
		return &logger{Logger: slog.Default()}
	}
	return current
}

// reportingHandler forwards error-level records to Sentry after logging them.
type reportingHandler struct {
	slog.Handler
	enabled bool
}

func (h *reportingHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}
	if h.enabled && r.Level >= slog.LevelError {
		report(r)
	}
	return nil
}

func (h *reportingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &reportingHandler{Handler: h.Handler.WithAttrs(attrs), enabled: h.enabled}
}

func (h *reportingHandler) WithGroup(name string) slog.Handler {
	return &reportingHandler{Handler: h.Handler.WithGroup(name), enabled: h.enabled}
}

func report(r slog.Record) {
	event := sentry.NewEvent()
	event.Level = sentry.LevelError
	event.Message = r.Message
	event.Timestamp = r.Time

	r.Attrs(func(a slog.Attr) bool {
		event.Extra[a.Key] = a.Value.Any()
		return true
	})

	if r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		event.Exception = []sentry.Exception{{
			Type:  "LogError",
			Value: r.Message,
			Stacktrace: &sentry.Stacktrace{
				Frames: []sentry.Frame{{
					Filename: frame.File,
					Function: frame.Function,
					Lineno:   frame.Line,
				}},
			},
		}}
	}

	sentry.CaptureEvent(event)
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	get().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	get().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	get().Warn(msg, args...)
}

// Error logs at error level and reports to Sentry when enabled.
func Error(msg string, args ...any) {
	get().Error(msg, args...)
}

// With returns a logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return get().With(args...)
}

// Component returns a logger tagged with a component name.
func Component(name string) *slog.Logger {
	return get().With("component", name)
}

// CaptureError reports err with key/value context and logs it.
func CaptureError(err error, kv ...any) {
	if current != nil && current.sentry {
		sentry.WithScope(func(scope *sentry.Scope) {
			for i := 0; i+1 < len(kv); i += 2 {
				if key, ok := kv[i].(string); ok {
					scope.SetExtra(key, kv[i+1])
				}
			}
			sentry.CaptureException(err)
		})
	}
	get().Warn("captured error", append([]any{"error", err}, kv...)...)
}

// CapturePanic reports a recovered panic value. Call from a deferred recover.
func CapturePanic(v any, kv ...any) any {
	if v == nil {
		return nil
	}
	msg := fmt.Sprintf("panic: %v", v)
	get().Error(msg, append([]any{"panic", v}, kv...)...)

	if current != nil && current.sentry {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetLevel(sentry.LevelFatal)
			scope.SetTag("type", "panic")
			for i := 0; i+1 < len(kv); i += 2 {
				if key, ok := kv[i].(string); ok {
					scope.SetExtra(key, kv[i+1])
				}
			}
			if err, ok := v.(error); ok {
				sentry.CaptureException(err)
			} else {
				sentry.CaptureMessage(msg)
			}
		})
		sentry.Flush(2 * time.Second)
	}
	return v
}
