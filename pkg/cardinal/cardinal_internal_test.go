package cardinal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/argus-labs/tick-counter/pkg/cardinal/ecs"
	"github.com/argus-labs/tick-counter/pkg/cardinal/worldstage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorld(t *testing.T, opts WorldOptions) (*World, *bytes.Buffer) {
	t.Helper()

	out := &bytes.Buffer{}
	if opts.TickRate == 0 {
		opts.TickRate = 1000
	}
	opts.Output = out

	w, err := NewWorld(opts)
	require.NoError(t, err)
	return w, out
}

type tickState struct {
	BaseSystemState
	Seen Local[[]uint64]
}

type recorder struct {
	BaseSystemState
	Ticks      Local[[]uint64]
	Timestamps Local[[]time.Time]
}

func TestWorld_TickAdvancesHeight(t *testing.T) {
	t.Parallel()

	w, out := newTestWorld(t, WorldOptions{})

	var state *recorder
	RegisterSystem(w, func(s *recorder) error {
		state = s
		*s.Ticks.Get() = append(*s.Ticks.Get(), s.Tick())
		*s.Timestamps.Get() = append(*s.Timestamps.Get(), s.Timestamp())
		fmt.Fprintln(s.Output(), s.Tick())
		return nil
	})
	require.NoError(t, w.Init())

	base := time.Unix(1_700_000_000, 0)
	for i := range 3 {
		require.NoError(t, w.Tick(context.Background(), base.Add(time.Duration(i)*time.Second)))
	}

	assert.Equal(t, uint64(3), w.TickHeight())
	assert.Equal(t, []uint64{0, 1, 2}, *state.Ticks.Get())
	assert.Equal(t, []time.Time{base, base.Add(time.Second), base.Add(2 * time.Second)}, *state.Timestamps.Get())
	assert.Equal(t, "0\n1\n2\n", out.String())
}

func TestWorld_TickErrorDoesNotAdvanceHeight(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorld(t, WorldOptions{})

	calls := 0
	RegisterSystem(w, func(s *tickState) error {
		calls++
		if calls == 2 {
			return errors.New("system failed")
		}
		return nil
	})
	require.NoError(t, w.Init())

	require.NoError(t, w.Tick(context.Background(), time.Now()))
	err := w.Tick(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system failed")
	assert.Equal(t, uint64(1), w.TickHeight())

	require.NoError(t, w.Tick(context.Background(), time.Now()))
	assert.Equal(t, uint64(2), w.TickHeight())
}

func TestWorld_TickPanicIsReraised(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorld(t, WorldOptions{})
	RegisterSystem(w, func(*tickState) error {
		panic("kaboom")
	})
	require.NoError(t, w.Init())

	assert.Panics(t, func() {
		_ = w.Tick(context.Background(), time.Now())
	})
	assert.Equal(t, uint64(0), w.TickHeight())
}

func TestWorld_TickBeforeInit(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorld(t, WorldOptions{})
	require.Error(t, w.Tick(context.Background(), time.Now()))
}

func TestWorld_InitTwice(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorld(t, WorldOptions{})
	require.NoError(t, w.Init())
	require.Error(t, w.Init())
	assert.Equal(t, worldstage.Ready, w.Stage())
}

func TestWorld_InitSystemRunsBeforeUpdate(t *testing.T) {
	t.Parallel()

	w, out := newTestWorld(t, WorldOptions{})
	RegisterSystem(w, func(s *tickState) error {
		fmt.Fprintln(s.Output(), "init")
		return nil
	}, WithHook(Init))
	RegisterSystem(w, func(s *tickState) error {
		fmt.Fprintln(s.Output(), "post")
		return nil
	}, WithHook(PostUpdate))
	RegisterSystem(w, func(s *tickState) error {
		fmt.Fprintln(s.Output(), "update")
		return nil
	})
	RegisterSystem(w, func(s *tickState) error {
		fmt.Fprintln(s.Output(), "pre")
		return nil
	}, WithHook(PreUpdate))
	require.NoError(t, w.Init())

	require.NoError(t, w.Tick(context.Background(), time.Now()))
	require.NoError(t, w.Tick(context.Background(), time.Now()))

	assert.Equal(t, []string{"init", "pre", "update", "post", "pre", "update", "post"},
		strings.Fields(out.String()))
}

type ecsBaseState struct {
	ecs.BaseSystemState
}

type noBaseState struct {
	Counter Local[uint32]
}

func TestRegisterSystem_Panics(t *testing.T) {
	t.Parallel()

	t.Run("after init", func(t *testing.T) {
		t.Parallel()
		w, _ := newTestWorld(t, WorldOptions{})
		require.NoError(t, w.Init())
		assert.Panics(t, func() {
			RegisterSystem(w, func(*tickState) error { return nil })
		})
	})

	t.Run("missing BaseSystemState", func(t *testing.T) {
		t.Parallel()
		w, _ := newTestWorld(t, WorldOptions{})
		assert.Panics(t, func() {
			RegisterSystem(w, func(*noBaseState) error { return nil })
		})
	})

	t.Run("ecs BaseSystemState instead of cardinal", func(t *testing.T) {
		t.Parallel()
		w, _ := newTestWorld(t, WorldOptions{})
		assert.Panics(t, func() {
			RegisterSystem(w, func(*ecsBaseState) error { return nil })
		})
	})

	t.Run("non-struct state", func(t *testing.T) {
		t.Parallel()
		w, _ := newTestWorld(t, WorldOptions{})
		assert.Panics(t, func() {
			RegisterSystem(w, func(*uint32) error { return nil })
		})
	})
}

func TestWorld_RunStopsAtTickLimit(t *testing.T) {
	t.Parallel()

	w, out := newTestWorld(t, WorldOptions{TickLimit: 5, PerfBatchSize: 2})
	RegisterSystem(w, func(s *tickState) error {
		fmt.Fprintln(s.Output(), s.Tick())
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, w.Run(ctx))
	assert.Equal(t, uint64(5), w.TickHeight())
	assert.Equal(t, "0\n1\n2\n3\n4\n", out.String())
	assert.Equal(t, worldstage.ShuttingDown, w.Stage())
}

func TestWorld_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorld(t, WorldOptions{TickRate: 100})
	RegisterSystem(w, func(*tickState) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	running := w.stage.NotifyOnStage(worldstage.Running)
	go func() {
		<-running
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	require.NoError(t, w.Run(ctx))
	assert.Positive(t, w.TickHeight())
	assert.Equal(t, worldstage.ShuttingDown, w.Stage())
}

func TestWorld_RunReturnsTickError(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorld(t, WorldOptions{})
	RegisterSystem(w, func(s *tickState) error {
		if s.Tick() == 3 {
			return errors.New("bad tick")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := w.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad tick")
	assert.Equal(t, uint64(3), w.TickHeight())
}

func TestWorld_RunTwice(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorld(t, WorldOptions{TickLimit: 1})
	require.NoError(t, w.Run(context.Background()))
	require.Error(t, w.Run(context.Background()))
}

func TestWorld_Shutdown(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorld(t, WorldOptions{TickLimit: 1})
	require.NoError(t, w.Run(context.Background()))
	w.shutdown()
	assert.Equal(t, worldstage.ShutDown, w.Stage())

	// A second shutdown must not close metrics or telemetry again.
	assert.NotPanics(t, w.shutdown)
	assert.Equal(t, worldstage.ShutDown, w.Stage())
}

func TestNewWorld_StatsdFailure(t *testing.T) {
	t.Parallel()

	_, err := NewWorld(WorldOptions{TickRate: 50, StatsdAddress: "127.0.0.1:notaport", Output: &bytes.Buffer{}})
	require.ErrorContains(t, err, "statsd")
}

type failingPlugin struct{}

func (failingPlugin) Register(*World) error { return errors.New("plugin failed") }

type tickPlugin struct{}

func (tickPlugin) Register(w *World) error {
	RegisterSystem(w, func(s *tickState) error {
		fmt.Fprintln(s.Output(), "plugin")
		return nil
	})
	return nil
}

func TestWorld_RegisterPlugin(t *testing.T) {
	t.Parallel()

	w, out := newTestWorld(t, WorldOptions{})
	require.NoError(t, w.RegisterPlugin(tickPlugin{}))

	err := w.RegisterPlugin(failingPlugin{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin failed")

	require.NoError(t, w.Init())
	require.Error(t, w.RegisterPlugin(tickPlugin{}))

	require.NoError(t, w.Tick(context.Background(), time.Now()))
	assert.Equal(t, "plugin\n", out.String())
}

func TestWorld_PerformanceSpans(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorld(t, WorldOptions{PerfBatchSize: 2})
	RegisterSystem(w, func(*tickState) error { return nil }, WithHook(PreUpdate))
	RegisterSystem(w, func(*tickState) error { return nil })
	require.NoError(t, w.Init())

	batches := w.perf.Subscribe()
	defer w.perf.Unsubscribe(batches)

	require.NoError(t, w.Tick(context.Background(), time.Now()))
	require.NoError(t, w.Tick(context.Background(), time.Now()))

	select {
	case batch := <-batches:
		require.Len(t, batch.Ticks, 2)
		for i, timeline := range batch.Ticks {
			assert.Equal(t, uint64(i), timeline.TickHeight)
			require.Len(t, timeline.Spans, 2)
			assert.Equal(t, "pre_update", timeline.Spans[0].Hook)
			assert.Equal(t, "update", timeline.Spans[1].Hook)
		}
	case <-time.After(time.Second):
		t.Fatal("no performance batch received")
	}
}

func TestWorld_InitSystemSpanIsRecorded(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorld(t, WorldOptions{PerfBatchSize: 1})
	RegisterSystem(w, func(*tickState) error { return nil }, WithHook(Init))
	RegisterSystem(w, func(*tickState) error { return nil })
	require.NoError(t, w.Init())

	batches := w.perf.Subscribe()
	defer w.perf.Unsubscribe(batches)

	require.NoError(t, w.Tick(context.Background(), time.Now()))
	require.NoError(t, w.Tick(context.Background(), time.Now()))

	var hooks [][]string
	for range 2 {
		select {
		case batch := <-batches:
			var tick []string
			for _, span := range batch.Ticks[0].Spans {
				tick = append(tick, span.Hook)
			}
			hooks = append(hooks, tick)
		case <-time.After(time.Second):
			t.Fatal("no performance batch received")
		}
	}
	assert.Equal(t, [][]string{{"init", "update"}, {"update"}}, hooks)
}
