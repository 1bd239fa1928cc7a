package ecs

import (
	"path/filepath"
	"reflect"
	"runtime"

	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// System is a function that contains game logic. Its state is allocated once at registration and
// handed back on every call.
type System[T any] func(state *T) error

// SystemHook selects the phase of the tick a system runs in.
type SystemHook uint8

const (
	PreUpdate  SystemHook = 0
	Update     SystemHook = 1
	PostUpdate SystemHook = 2
	Init       SystemHook = 3 // Once, before the update phases of the first tick
)

// updateHooks are the phases run on every tick, in order.
var updateHooks = [...]SystemHook{PreUpdate, Update, PostUpdate}

func (h SystemHook) String() string {
	switch h {
	case PreUpdate:
		return "pre_update"
	case Update:
		return "update"
	case PostUpdate:
		return "post_update"
	case Init:
		return "init"
	default:
		return "unknown"
	}
}

// registeredSystem is a system bound to its state.
type registeredSystem struct {
	name string
	hook SystemHook
	deps bitmap.Bitmap // Event types emitted or received
	run  func() error
}

type registration struct {
	hook      SystemHook
	modifiers map[FieldKind]func(any) error
}

// SystemOption customizes RegisterSystem.
type SystemOption func(*registration)

// WithHook moves a system out of the default Update hook.
func WithHook(hook SystemHook) SystemOption {
	return func(r *registration) { r.hook = hook }
}

// WithModifier runs fn on every state field of the given kind once the field is bound. An error
// from fn aborts the registration.
func WithModifier(kind FieldKind, fn func(any) error) SystemOption {
	return func(r *registration) { r.modifiers[kind] = fn }
}

// RegisterSystem binds a fresh state to system and queues it on its hook. Systems are named after
// their function, e.g. "system.CounterSystem", and names must be unique within a world.
func RegisterSystem[T any](w *World, system System[T], opts ...SystemOption) error {
	if w.sealed {
		return eris.New("systems cannot be registered after the world is initialized")
	}

	reg := registration{hook: Update, modifiers: make(map[FieldKind]func(any) error)}
	for _, opt := range opts {
		opt(&reg)
	}
	if reg.hook > Init {
		return eris.Errorf("invalid system hook %d", reg.hook)
	}

	name := systemName(system)
	if _, taken := w.byName[name]; taken {
		return eris.Errorf("system %q is already registered", name)
	}

	state := new(T)
	binder := &stateBinder{world: w, system: name, modifiers: reg.modifiers}
	if err := binder.bindState(state); err != nil {
		return eris.Wrapf(err, "invalid state for system %s", name)
	}

	w.add(&registeredSystem{
		name: name,
		hook: reg.hook,
		deps: binder.deps(),
		run:  func() error { return system(state) },
	})
	return nil
}

func systemName(system any) string {
	return filepath.Base(runtime.FuncForPC(reflect.ValueOf(system).Pointer()).Name())
}
