// Package logging builds the service's slog logger. Every record is written
// as JSON to the local sink and handed to the OpenTelemetry slog bridge, so
// it also reaches whatever LoggerProvider telemetry installed.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
)

// ScopeName names the instrumentation scope of bridged records.
const ScopeName = "lendinghub"

// New returns a logger writing JSON to w at the named level
// (debug, info, warn, error) and bridging to the global LoggerProvider.
// Unknown levels fall back to info.
func New(w io.Writer, level string) *slog.Logger {
	return NewWithProvider(w, level, global.GetLoggerProvider())
}

// NewWithProvider is New with an explicit OpenTelemetry LoggerProvider.
func NewWithProvider(w io.Writer, level string, provider otellog.LoggerProvider) *slog.Logger {
	minLevel := ParseLevel(level)

	local := slogmulti.
		Pipe(slogmulti.NewHandleInlineMiddleware(withTraceIDs)).
		Handler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: minLevel}))

	bridged := slogmulti.
		Pipe(slogmulti.NewEnabledInlineMiddleware(func(ctx context.Context, l slog.Level, next func(context.Context, slog.Level) bool) bool {
			return l >= minLevel && next(ctx, l)
		})).
		Handler(otelslog.NewHandler(ScopeName, otelslog.WithLoggerProvider(provider)))

	return slog.New(slogmulti.Fanout(local, bridged))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// withTraceIDs stamps the local JSON line with the ids the bridge records
// natively, so stderr output joins with exported traces.
func withTraceIDs(ctx context.Context, r slog.Record, next func(context.Context, slog.Record) error) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return next(ctx, r)
}

// RedactEmail masks the local part of an address for logging:
// "john.doe@example.com" becomes "jo***@example.com".
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}
