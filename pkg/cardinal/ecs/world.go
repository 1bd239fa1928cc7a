package ecs

import (
	"time"

	"github.com/rotisserie/eris"
)

// World owns the registered systems and runs them once per tick.
type World struct {
	sealed   bool
	initDone bool

	systems    []*registeredSystem // Registration order
	byName     map[string]*registeredSystem
	initQueue  []*registeredSystem
	schedulers [len(updateHooks)]*scheduler

	events *eventBus
	onSpan SpanFunc
}

func NewWorld() *World {
	w := &World{
		byName: make(map[string]*registeredSystem),
		events: newEventBus(),
	}
	for _, hook := range updateHooks {
		w.schedulers[hook] = newScheduler(hook)
	}
	return w
}

func (w *World) add(system *registeredSystem) {
	if system.hook == Init {
		w.initQueue = append(w.initQueue, system)
	} else {
		w.schedulers[system.hook].add(system)
	}
	w.systems = append(w.systems, system)
	w.byName[system.name] = system
}

// OnSystemSpan sets the function that receives the timing of every system run, init systems
// included.
func (w *World) OnSystemSpan(fn SpanFunc) {
	w.onSpan = fn
}

// Init seals the world and builds the schedules of the update hooks.
func (w *World) Init() {
	for _, s := range w.schedulers {
		s.build()
	}
	w.sealed = true
}

// Tick runs one tick. The first successful tick runs the init systems, in registration order,
// before the update hooks; if one of them fails the whole init phase is retried next tick. The
// tick stops at the first hook that fails.
func (w *World) Tick() error {
	if !w.sealed {
		return eris.New("world must be initialized before it can tick")
	}
	defer w.events.reset()

	if !w.initDone {
		if err := w.runInit(); err != nil {
			return err
		}
		w.initDone = true
	}

	for _, s := range w.schedulers {
		if err := s.run(w.onSpan); err != nil {
			return eris.Wrapf(err, "%s systems failed", s.hook)
		}
	}
	return nil
}

func (w *World) runInit() error {
	for _, system := range w.initQueue {
		start := time.Now()
		err := system.run()
		if w.onSpan != nil {
			w.onSpan(Init, system.name, start, time.Now())
		}
		if err != nil {
			return eris.Wrapf(err, "init system %s failed", system.name)
		}
	}
	return nil
}

// SystemNames returns the names of all registered systems in registration order.
func (w *World) SystemNames() []string {
	names := make([]string, len(w.systems))
	for i, system := range w.systems {
		names[i] = system.name
	}
	return names
}

// SystemHookOf reports the hook a system was registered to.
func (w *World) SystemHookOf(name string) (SystemHook, bool) {
	system, ok := w.byName[name]
	if !ok {
		return 0, false
	}
	return system.hook, true
}
