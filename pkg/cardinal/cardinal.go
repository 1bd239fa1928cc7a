package cardinal

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/argus-labs/tick-counter/pkg/cardinal/ecs"
	"github.com/argus-labs/tick-counter/pkg/cardinal/internal/performance"
	"github.com/argus-labs/tick-counter/pkg/cardinal/statsd"
	"github.com/argus-labs/tick-counter/pkg/cardinal/worldstage"
	"github.com/argus-labs/tick-counter/pkg/telemetry"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

// World is a shard: a set of systems driven by a fixed-rate tick loop.
type World struct {
	world   *ecs.World
	stage   *worldstage.Manager
	options WorldOptions

	tickHeight uint64    // Completed ticks
	timestamp  time.Time // Wall clock of the tick in progress

	tel     *telemetry.Telemetry
	log     zerolog.Logger // component=shard
	metrics *statsd.Metrics
	perf    *performance.Collector
}

// NewWorld resolves the options (defaults, then CARDINAL_* env, then opts) and sets up logging,
// tracing, crash reporting and metrics.
func NewWorld(opts WorldOptions) (*World, error) {
	options, err := resolveWorldOptions(opts)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(telemetry.Options{
		ServiceName: "cardinal",
		SentryTags:  options.getSentryTags(),
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize telemetry")
	}
	log := tel.Component("shard")

	metrics, err := statsd.New(options.StatsdAddress, options.getStatsdTags(), tel.Component("statsd"))
	if err != nil {
		return nil, errors.Join(eris.Wrap(err, "failed to initialize statsd"), tel.Shutdown(context.Background()))
	}
	if !metrics.Enabled() {
		log.Debug().Msg("statsd address not set, tick metrics are disabled")
	}

	w := &World{
		world:   ecs.NewWorld(),
		stage:   worldstage.NewManager(),
		options: options,
		tel:     tel,
		log:     log,
		metrics: metrics,
		perf:    performance.NewCollector(options.PerfBatchSize),
	}
	w.world.OnSystemSpan(w.recordSystemSpan)

	log.Info().
		Str("namespace", options.Namespace).
		Float64("tick_rate", options.TickRate).
		Uint64("tick_limit", options.TickLimit).
		Msg("world created")
	return w, nil
}

// Init seals the world: schedules are built and nothing more can be registered. Run calls it when
// the caller has not.
func (w *World) Init() error {
	if !w.stage.CompareAndSwap(worldstage.Init, worldstage.Ready) {
		return eris.Errorf("world cannot be initialized in stage %s", w.stage.Current())
	}
	w.world.Init()

	for _, name := range w.world.SystemNames() {
		hook, _ := w.world.SystemHookOf(name)
		w.log.Info().Str("system", name).Stringer("hook", hook).Msg("system scheduled")
	}
	w.log.Info().Msg("world initialized")
	return nil
}

// StartGame runs the world until SIGINT, SIGTERM or the tick limit, then shuts it down.
func (w *World) StartGame() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer w.shutdown()

	if err := w.Run(ctx); err != nil {
		w.log.Error().Err(err).Msg("world stopped on error")
		return err
	}
	return nil
}

func (w *World) Stage() worldstage.Stage {
	return w.stage.Current()
}

// TickHeight is the number of ticks that completed successfully.
func (w *World) TickHeight() uint64 {
	return w.tickHeight
}

// shutdown releases metrics and telemetry. Calls after the first one only log.
func (w *World) shutdown() {
	if prev := w.stage.Swap(worldstage.ShuttingDown); prev == worldstage.ShutDown {
		w.stage.Store(worldstage.ShutDown)
		w.log.Debug().Msg("world already shut down")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	w.log.Info().Uint64("tick_height", w.tickHeight).Msg("shutting down world")
	if err := w.metrics.Close(); err != nil {
		w.log.Error().Err(err).Msg("statsd shutdown error")
	}
	if err := w.tel.Shutdown(ctx); err != nil {
		w.log.Error().Err(err).Msg("telemetry shutdown error")
	}
	w.stage.Store(worldstage.ShutDown)
	w.log.Info().Msg("world shut down")
}

// recoverTick reports a panic raised by a tick and re-raises it. Deferred by Tick.
func (w *World) recoverTick() {
	r := recover()
	if r == nil {
		return
	}
	w.perf.DiscardTick()
	w.log.Error().Uint64("tick_height", w.tickHeight).Interface("panic", r).Msg("tick panicked")
	w.tel.ReportPanic(r)
	panic(r)
}

// recordSystemSpan is the ecs span callback. Systems of one hook call it concurrently.
func (w *World) recordSystemSpan(hook ecs.SystemHook, name string, start, end time.Time) {
	w.perf.AddSpan(performance.SystemSpan{Hook: hook.String(), System: name, Start: start, End: end})
	w.metrics.SystemDuration(hook.String(), start, end)
}
