package ecs

import (
	"iter"
	"reflect"

	"github.com/argus-labs/tick-counter/pkg/assert"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// FieldKind names a kind of system state field, for use with WithModifier.
type FieldKind uint8

const (
	BaseField FieldKind = iota
	LocalField
	ReceiverField
	EmitterField
)

// stateField is implemented by every type allowed as a field of a system state struct.
type stateField interface {
	bind(b *stateBinder) error
	kind() FieldKind
}

var (
	_ stateField = (*BaseSystemState)(nil)
	_ stateField = (*Local[struct{}])(nil)
	_ stateField = (*WithSystemEventReceiver[SystemEvent])(nil)
	_ stateField = (*WithSystemEventEmitter[SystemEvent])(nil)
)

// stateBinder wires the fields of one system state and records which event types the system
// emits and receives.
type stateBinder struct {
	world     *World
	system    string
	modifiers map[FieldKind]func(any) error

	emits    bitmap.Bitmap
	receives bitmap.Bitmap
	bases    int
}

// bindState binds every field of state, which must point to a struct made only of exported state
// fields. Modifiers run right after the field they target is bound.
func (b *stateBinder) bindState(state any) error {
	v := reflect.ValueOf(state).Elem()
	if v.Kind() != reflect.Struct {
		return eris.Errorf("system state must be a struct, got %s", v.Kind())
	}

	t := v.Type()
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			return eris.Errorf("field %s must be exported", sf.Name)
		}

		ptr := v.Field(i).Addr().Interface()
		field, ok := ptr.(stateField)
		if !ok {
			return eris.Errorf("field %s of type %s is not a system state field", sf.Name, sf.Type)
		}
		if err := field.bind(b); err != nil {
			return eris.Wrapf(err, "field %s", sf.Name)
		}
		if modify, ok := b.modifiers[field.kind()]; ok {
			if err := modify(ptr); err != nil {
				return eris.Wrapf(err, "field %s", sf.Name)
			}
		}
	}
	return nil
}

// deps is the set of event types the system touches in either direction.
func (b *stateBinder) deps() bitmap.Bitmap {
	deps := b.emits.Clone(nil)
	deps.Or(b.receives)
	return deps
}

// claim resolves the queue of zero's type and marks it on side. A system may hold one emitter and
// one receiver per event type.
func (b *stateBinder) claim(zero SystemEvent, side *bitmap.Bitmap, role string) (*eventQueue, error) {
	q, err := b.world.events.queueFor(zero)
	if err != nil {
		return nil, err
	}
	if side.Contains(q.bit) {
		return nil, eris.Errorf("system %s declares more than one %s of system event %q", b.system, role, q.name)
	}
	side.Set(q.bit)
	return q, nil
}

// BaseSystemState gives a system its registered name. Embed it, or a type embedding it, once.
type BaseSystemState struct {
	name string
}

func (s *BaseSystemState) bind(b *stateBinder) error {
	b.bases++
	if b.bases > 1 {
		return eris.New("a system state can embed only one BaseSystemState")
	}
	s.name = b.system
	return nil
}

func (s *BaseSystemState) kind() FieldKind { return BaseField }

// SystemName returns the name the system was registered under.
func (s *BaseSystemState) SystemName() string {
	return s.name
}

// Local holds a value private to one system. It starts as the zero value of T and keeps whatever
// the system leaves in it from one tick to the next. Locals never create scheduling edges.
//
//	type CounterSystemState struct {
//	    cardinal.BaseSystemState
//	    Counter cardinal.Local[Counter]
//	}
//
//	func CounterSystem(state *CounterSystemState) error {
//	    state.Counter.Get().Count++
//	    return nil
//	}
type Local[T any] struct {
	value T
}

func (l *Local[T]) bind(*stateBinder) error {
	var zero T
	l.value = zero
	return nil
}

func (l *Local[T]) kind() FieldKind { return LocalField }

// Get returns a pointer to the value. Writes through it are seen on the next tick.
func (l *Local[T]) Get() *T {
	return &l.value
}

// WithSystemEventReceiver reads the events of type T emitted earlier in the same tick. A receiver
// runs after every emitter of T registered before it in the same hook.
//
//	func AnnouncerSystem(state *AnnouncerSystemState) error {
//	    for m := range state.Milestones.Iter() {
//	        // ...
//	    }
//	    return nil
//	}
type WithSystemEventReceiver[T SystemEvent] struct {
	queue *eventQueue
}

func (r *WithSystemEventReceiver[T]) bind(b *stateBinder) error {
	var zero T
	q, err := b.claim(zero, &b.receives, "receiver")
	r.queue = q
	return err
}

func (r *WithSystemEventReceiver[T]) kind() FieldKind { return ReceiverField }

// Iter yields the events of type T emitted so far this tick, in emission order.
func (r *WithSystemEventReceiver[T]) Iter() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, e := range r.queue.events {
			event, ok := e.(T)
			assert.That(ok, "queue %q holds %T", r.queue.name, e)
			if !yield(event) {
				return
			}
		}
	}
}

// WithSystemEventEmitter publishes events of type T to receivers later in the same tick.
//
//	func CounterSystem(state *CounterSystemState) error {
//	    state.Milestones.Emit(Milestone{Count: 60})
//	    return nil
//	}
type WithSystemEventEmitter[T SystemEvent] struct {
	queue *eventQueue
}

func (e *WithSystemEventEmitter[T]) bind(b *stateBinder) error {
	var zero T
	q, err := b.claim(zero, &b.emits, "emitter")
	e.queue = q
	return err
}

func (e *WithSystemEventEmitter[T]) kind() FieldKind { return EmitterField }

// Emit queues event for the rest of the tick.
func (e *WithSystemEventEmitter[T]) Emit(event T) {
	e.queue.push(event)
}
