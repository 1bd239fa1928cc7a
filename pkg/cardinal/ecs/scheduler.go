package ecs

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// SpanFunc receives the timing of every system execution. Systems of the same hook may report
// concurrently.
type SpanFunc func(hook SystemHook, name string, start, end time.Time)

// scheduler runs the systems of one hook. A system waits for every earlier system of the hook
// that shares an event type with it; all other systems run concurrently.
type scheduler struct {
	hook    SystemHook
	systems []*registeredSystem
	after   [][]int // after[i] lists the earlier systems that systems[i] waits for
}

func newScheduler(hook SystemHook) *scheduler {
	return &scheduler{hook: hook}
}

func (s *scheduler) add(system *registeredSystem) {
	s.systems = append(s.systems, system)
}

// build computes the wait lists. It must run once after the last add.
func (s *scheduler) build() {
	s.after = make([][]int, len(s.systems))
	for i, later := range s.systems {
		for j, earlier := range s.systems[:i] {
			if sharesBit(earlier.deps, later.deps) {
				s.after[i] = append(s.after[i], j)
			}
		}
	}
}

func sharesBit(a, b bitmap.Bitmap) bool {
	shared := false
	a.Range(func(x uint32) {
		shared = shared || b.Contains(x)
	})
	return shared
}

// systemPanic carries a panic out of a system goroutine.
type systemPanic struct {
	system string
	value  any
}

// run executes every system of the hook once. A failing system does not stop the others, and
// the first error is returned. A panic is re-raised here once all systems have finished.
func (s *scheduler) run(onSpan SpanFunc) error {
	if len(s.systems) == 0 {
		return nil
	}

	finished := make([]chan struct{}, len(s.systems))
	for i := range finished {
		finished[i] = make(chan struct{})
	}

	var g errgroup.Group
	var crashed atomic.Pointer[systemPanic]

	for i, system := range s.systems {
		g.Go(func() error {
			defer close(finished[i])
			for _, j := range s.after[i] {
				<-finished[j]
			}

			start := time.Now()
			err := call(system, &crashed)
			if onSpan != nil {
				onSpan(s.hook, system.name, start, time.Now())
			}
			return err
		})
	}

	err := g.Wait()
	if p := crashed.Load(); p != nil {
		panic(fmt.Sprintf("system %s panicked: %v", p.system, p.value))
	}
	if err != nil {
		return eris.Wrap(err, "system returned an error")
	}
	return nil
}

// call runs one system and turns a panic into an error, keeping the first panic value in crashed.
func call(system *registeredSystem, crashed *atomic.Pointer[systemPanic]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			crashed.CompareAndSwap(nil, &systemPanic{system: system.name, value: r})
			err = eris.Errorf("system %s panicked", system.name)
		}
	}()
	if err := system.run(); err != nil {
		return eris.Wrapf(err, "system %s failed", system.name)
	}
	return nil
}
