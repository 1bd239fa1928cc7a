// Package sentry reports tick errors and tick panics to Sentry.
package sentry

import (
	"context"
	"time"

	sentrygo "github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/trace"
)

const defaultFlushTimeout = 5 * time.Second

type Options struct {
	DSN         string
	Environment string
	Tags        map[string]string
}

// Reporter owns its own hub so that several worlds in one process never share scope. A Reporter
// built without a DSN does nothing.
type Reporter struct {
	hub *sentrygo.Hub
}

func NewReporter(opts Options) (*Reporter, error) {
	if opts.DSN == "" {
		return &Reporter{}, nil
	}

	client, err := sentrygo.NewClient(sentrygo.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to create sentry client")
	}

	scope := sentrygo.NewScope()
	scope.SetTags(opts.Tags)
	return &Reporter{hub: sentrygo.NewHub(client, scope)}, nil
}

func (r *Reporter) Enabled() bool {
	return r.hub != nil
}

// Recover sends a recovered panic value and waits for it to leave the process.
func (r *Reporter) Recover(v any) {
	if r.hub == nil || v == nil {
		return
	}
	r.hub.Recover(v)
	r.hub.Flush(defaultFlushTimeout)
}

// CaptureException tags the event with the trace of ctx so it can be joined with the tick span.
func (r *Reporter) CaptureException(ctx context.Context, err error) {
	if r.hub == nil || err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentrygo.Scope) {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			scope.SetTag("trace_id", sc.TraceID().String())
			scope.SetTag("span_id", sc.SpanID().String())
		}
		r.hub.CaptureException(err)
	})
}

// Shutdown flushes queued events until the ctx deadline, or for five seconds without one.
func (r *Reporter) Shutdown(ctx context.Context) error {
	if r.hub == nil {
		return nil
	}
	timeout := defaultFlushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !r.hub.Flush(timeout) {
		return eris.New("timed out flushing sentry events")
	}
	return nil
}
