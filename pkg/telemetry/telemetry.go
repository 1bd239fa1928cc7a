// Package telemetry bundles the logger, tracer and crash reporter of one service run.
package telemetry

import (
	"context"
	"errors"
	"maps"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/argus-labs/tick-counter/pkg/telemetry/sentry"
)

type Telemetry struct {
	Logger zerolog.Logger
	Tracer trace.Tracer

	reporter  *sentry.Reporter
	stopTrace stopFunc
}

// New reads the OTEL_* environment over opts and starts every backend. Each run gets a fresh
// run_id that is stamped on log lines and crash reports alike.
func New(opts Options) (*Telemetry, error) {
	cfg, err := loadOptions(opts)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := newLogger(cfg).With().Str("run_id", runID).Logger()

	tracer, stopTrace, err := newTracer(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	tags := maps.Clone(cfg.SentryTags)
	if tags == nil {
		tags = make(map[string]string, 1)
	}
	tags["run_id"] = runID

	reporter, err := sentry.NewReporter(sentry.Options{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnv,
		Tags:        tags,
	})
	if err != nil {
		return nil, errors.Join(err, stopTrace(context.Background()))
	}
	if !reporter.Enabled() {
		logger.Debug().Msg("sentry disabled, no DSN set")
	}

	return &Telemetry{
		Logger:    logger,
		Tracer:    tracer,
		reporter:  reporter,
		stopTrace: stopTrace,
	}, nil
}

// Component returns the logger tagged with component=name.
func (t *Telemetry) Component(name string) zerolog.Logger {
	return t.Logger.With().Str("component", name).Logger()
}

// ComponentWithTrace is Component plus the IDs of the span recording in ctx, if any.
func (t *Telemetry) ComponentWithTrace(ctx context.Context, name string) zerolog.Logger {
	logger := t.Component(name)
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return logger
	}
	sc := span.SpanContext()
	return logger.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
}

// ReportError forwards a failed tick to the crash reporter.
func (t *Telemetry) ReportError(ctx context.Context, err error) {
	t.reporter.CaptureException(ctx, err)
}

// ReportPanic records a recovered tick panic and flushes it before the caller re-panics.
func (t *Telemetry) ReportPanic(v any) {
	t.reporter.Recover(v)
}

// Shutdown flushes pending reports and spans. Both backends are stopped even if one fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.reporter.Shutdown(ctx); err != nil {
		errs = append(errs, eris.Wrap(err, "sentry"))
	}
	if err := t.stopTrace(ctx); err != nil {
		errs = append(errs, eris.Wrap(err, "tracer"))
	}
	return errors.Join(errs...)
}
