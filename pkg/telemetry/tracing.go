package telemetry

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// stopFunc flushes and releases a telemetry backend.
type stopFunc func(context.Context) error

func stopNothing(context.Context) error { return nil }

// newTracer returns a noop tracer unless tracing is enabled, in which case spans are batched to
// the OTLP collector at opts.Endpoint.
func newTracer(ctx context.Context, opts Options) (trace.Tracer, stopFunc, error) {
	if !opts.Tracing {
		return noop.NewTracerProvider().Tracer(opts.ServiceName), stopNothing, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(opts.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "failed to dial OTLP collector at %s", opts.Endpoint)
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(semconv.ServiceName(opts.ServiceName)),
	)
	if err != nil {
		return nil, nil, eris.Wrap(err, "failed to describe service resource")
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(opts.SampleRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return provider.Tracer(opts.ServiceName), provider.Shutdown, nil
}

// samplerFor keeps every root span at rate 1 and none at rate 0. Child spans follow their parent.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// newLogger renders to opts.LogOutput, never to stdout unless a caller asks for it.
func newLogger(opts Options) zerolog.Logger {
	out := opts.LogOutput
	if opts.LogFormat == LogFormatPretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}
	return zerolog.New(out).
		Level(opts.LogLevel).
		With().
		Timestamp().
		Caller().
		Str("service", opts.ServiceName).
		Logger()
}
