package ecs

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kelindar/bitmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bits(ids ...uint32) bitmap.Bitmap {
	var b bitmap.Bitmap
	for _, id := range ids {
		b.Set(id)
	}
	return b
}

func newTestScheduler(hook SystemHook, systems ...*registeredSystem) *scheduler {
	s := newScheduler(hook)
	for _, system := range systems {
		s.add(system)
	}
	s.build()
	return s
}

func noop() error { return nil }

func TestScheduler_Build(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(Update,
		&registeredSystem{name: "a", deps: bits(0), run: noop},
		&registeredSystem{name: "b", deps: bits(1), run: noop},
		&registeredSystem{name: "c", deps: bits(0, 1), run: noop},
		&registeredSystem{name: "d", deps: bits(), run: noop},
		&registeredSystem{name: "e", deps: bits(1), run: noop},
	)

	assert.Equal(t, [][]int{nil, nil, {0, 1}, nil, {1, 2}}, s.after)
}

func TestScheduler_DependentsRunInOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var order []string
	record := func(name string) *registeredSystem {
		return &registeredSystem{name: name, deps: bits(7), run: func() error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}}
	}

	s := newTestScheduler(Update, record("first"), record("second"), record("third"))

	for range 4 {
		order = nil
		require.NoError(t, s.run(nil))
		assert.Equal(t, []string{"first", "second", "third"}, order)
	}
}

func TestScheduler_IndependentSystemsRunConcurrently(t *testing.T) {
	t.Parallel()

	const n = 4
	var started sync.WaitGroup
	started.Add(n)
	release := make(chan struct{})

	systems := make([]*registeredSystem, n)
	for i := range systems {
		systems[i] = &registeredSystem{name: "independent", run: func() error {
			started.Done()
			<-release
			return nil
		}}
	}
	s := newTestScheduler(Update, systems...)

	done := make(chan error, 1)
	go func() { done <- s.run(nil) }()

	// Every system must be running at the same time before any of them is released.
	started.Wait()
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not finish")
	}
}

func TestScheduler_ErrorStillRunsOtherSystems(t *testing.T) {
	t.Parallel()

	var ran atomic.Int32
	count := func(err error) func() error {
		return func() error {
			ran.Add(1)
			return err
		}
	}
	s := newTestScheduler(PostUpdate,
		&registeredSystem{name: "fails", deps: bits(1), run: count(errors.New("boom"))},
		&registeredSystem{name: "dependent", deps: bits(1), run: count(nil)},
		&registeredSystem{name: "other", run: count(nil)},
	)

	err := s.run(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, int32(3), ran.Load())
}

func TestScheduler_PanicIsReraised(t *testing.T) {
	t.Parallel()

	var ran atomic.Int32
	s := newTestScheduler(Update,
		&registeredSystem{name: "panics", run: func() error { panic("kaboom") }},
		&registeredSystem{name: "fine", run: func() error {
			ran.Add(1)
			return nil
		}},
	)

	assert.PanicsWithValue(t, "system panics panicked: kaboom", func() {
		_ = s.run(nil)
	})
	assert.Equal(t, int32(1), ran.Load())
}

func TestScheduler_ReportsSpans(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(PreUpdate,
		&registeredSystem{name: "a", deps: bits(0), run: noop},
		&registeredSystem{name: "b", deps: bits(0), run: noop},
	)

	var mu sync.Mutex
	spans := make(map[string]SystemHook)
	require.NoError(t, s.run(func(hook SystemHook, name string, start, end time.Time) {
		mu.Lock()
		defer mu.Unlock()
		assert.False(t, end.Before(start))
		spans[name] = hook
	}))

	assert.Equal(t, map[string]SystemHook{"a": PreUpdate, "b": PreUpdate}, spans)
}

func TestScheduler_Empty(t *testing.T) {
	t.Parallel()

	require.NoError(t, newTestScheduler(Update).run(nil))
}
