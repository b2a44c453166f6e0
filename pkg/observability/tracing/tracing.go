package tracing

import (
    "context"
    "io"
    "os"
    "sync/atomic"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/codes"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
    "go.opentelemetry.io/otel/trace"
)

const tracerName = "go-readiness"

var enabled atomic.Bool

// Setup installs a global tracer provider exporting spans to stdout when
// enable is true. The returned shutdown func flushes pending spans.
func Setup(enable bool) (func(context.Context) error, error) {
    if !enable {
        enabled.Store(false)
        return func(context.Context) error { return nil }, nil
    }
    return SetupWriter(os.Stdout)
}

// SetupWriter is Setup with spans pretty-printed to w.
func SetupWriter(w io.Writer) (func(context.Context) error, error) {
    exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
    if err != nil {
        return nil, err
    }
    tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
    otel.SetTracerProvider(tp)
    enabled.Store(true)
    return func(ctx context.Context) error {
        enabled.Store(false)
        return tp.Shutdown(ctx)
    }, nil
}

// Enabled reports whether spans are currently recorded.
func Enabled() bool { return enabled.Load() }

// Span ends a span started by StartSpan, recording err on it when non-nil.
type Span func(err error)

// StartSpan starts a span named name carrying attrs. With tracing disabled it
// returns ctx unchanged and a no-op Span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span) {
    if !enabled.Load() {
        return ctx, func(error) {}
    }
    ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
    return ctx, func(err error) {
        if err != nil {
            span.RecordError(err)
            span.SetStatus(codes.Error, err.Error())
        }
        span.End()
    }
}
