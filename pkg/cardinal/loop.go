package cardinal

import (
	"context"
	"time"

	"github.com/argus-labs/tick-counter/pkg/cardinal/internal/performance"
	"github.com/argus-labs/tick-counter/pkg/cardinal/worldstage"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Run ticks the world every 1/TickRate seconds until ctx is done, the tick limit is reached or a
// tick fails. Ticker fires that arrive while a tick is still running are dropped, never queued.
func (w *World) Run(ctx context.Context) error {
	if w.stage.Current() == worldstage.Init {
		if err := w.Init(); err != nil {
			return err
		}
	}
	if !w.stage.CompareAndSwap(worldstage.Ready, worldstage.Running) {
		return eris.Errorf("world cannot run in stage %s", w.stage.Current())
	}
	defer w.stage.Store(worldstage.ShuttingDown)

	stopPerf := w.streamPerformance()
	defer stopPerf()

	interval := TickInterval(w.options.TickRate)
	w.log.Info().Dur("interval", interval).Msg("starting tick loop")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Uint64("tick_height", w.tickHeight).Msg("tick loop stopped")
			return nil
		case now := <-ticker.C:
			if err := w.Tick(ctx, now); err != nil {
				return eris.Wrap(err, "failed to run tick")
			}
			if limit := w.options.TickLimit; limit > 0 && w.tickHeight >= limit {
				w.log.Info().Uint64("tick_height", w.tickHeight).Msg("tick limit reached")
				return nil
			}
		}
	}
}

// Tick runs every system once. The tick height only advances when all of them succeed. A failed
// tick is reported to the crash reporter; a panicking one is reported and re-raised.
func (w *World) Tick(ctx context.Context, timestamp time.Time) error {
	if stage := w.stage.Current(); stage != worldstage.Ready && stage != worldstage.Running {
		return eris.Errorf("world cannot tick in stage %s", stage)
	}

	height := w.tickHeight
	ctx, span := w.tel.Tracer.Start(ctx, "cardinal.tick",
		trace.WithAttributes(attribute.Int64("tick_height", int64(height)))) //nolint:gosec // Won't overflow
	defer span.End()
	defer w.recoverTick()

	start := time.Now()
	w.timestamp = timestamp
	w.perf.BeginTick()

	if err := w.world.Tick(); err != nil {
		w.perf.DiscardTick()
		span.RecordError(err)
		span.SetStatus(codes.Error, "tick failed")
		w.tel.ReportError(ctx, err)
		logger := w.tel.ComponentWithTrace(ctx, "shard")
		logger.Warn().Err(err).Uint64("tick_height", height).Msg("tick failed")
		return eris.Wrapf(err, "tick %d failed", height)
	}

	w.perf.EndTick(height, start, time.Now())
	w.metrics.TickDuration(start)
	w.metrics.TickCompleted()
	w.tickHeight++
	return nil
}

// streamPerformance logs every performance batch at debug level until the returned func is called.
func (w *World) streamPerformance() (stop func()) {
	logger := w.tel.Component("perf")
	batches := w.perf.Subscribe()
	done := make(chan struct{})
	go logBatches(logger, batches, done)
	return func() {
		w.perf.Unsubscribe(batches)
		close(done)
	}
}

func logBatches(logger zerolog.Logger, batches <-chan performance.Batch, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case batch := <-batches:
			if logger.GetLevel() > zerolog.DebugLevel {
				continue
			}
			data, err := json.Marshal(batch)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to encode performance batch")
				continue
			}
			logger.Debug().RawJSON("batch", data).Int("ticks", len(batch.Ticks)).Msg("performance batch")
		}
	}
}
