package log

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type zerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter builds a Logger backed by zerolog, writing to stderr.
// With pretty enabled the output goes through a console writer, otherwise
// raw JSON lines are emitted.
func NewZerologAdapter(level zerolog.Level, pretty bool) Logger {
	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	zlog := zerolog.New(out).Level(level).With().Timestamp().Logger()

	return &zerologAdapter{logger: zlog}
}

// decorate attaches the trace and span ids of the current span, if any, and
// the caller-supplied field maps to the event.
func decorate(ctx context.Context, event *zerolog.Event, fields []map[string]any) *zerolog.Event {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		event = event.
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String())
	}
	for _, f := range fields {
		event = event.Fields(f)
	}
	return event
}

func (z *zerologAdapter) Debug(ctx context.Context, msg string, fields ...map[string]any) {
	decorate(ctx, z.logger.Debug(), fields).Msg(msg)
}

func (z *zerologAdapter) Info(ctx context.Context, msg string, fields ...map[string]any) {
	decorate(ctx, z.logger.Info(), fields).Msg(msg)
}

func (z *zerologAdapter) Warn(ctx context.Context, msg string, fields ...map[string]any) {
	decorate(ctx, z.logger.Warn(), fields).Msg(msg)
}

func (z *zerologAdapter) Error(ctx context.Context, msg string, err error, fields ...map[string]any) {
	decorate(ctx, z.logger.Error().Err(err), fields).Msg(msg)
}

// Fatal logs the event and terminates the process via zerolog's Fatal level.
func (z *zerologAdapter) Fatal(ctx context.Context, msg string, err error, fields ...map[string]any) {
	decorate(ctx, z.logger.Fatal().Err(err), fields).Msg(msg)
}

// With derives a logger carrying the fields on every event. Trace ids are
// still resolved per call so they stay current.
func (z *zerologAdapter) With(fields map[string]any) Logger {
	return &zerologAdapter{logger: z.logger.With().Fields(fields).Logger()}
}
