package ecs

import (
	"reflect"

	"github.com/rotisserie/eris"
)

// SystemEvent is a message emitted by one system and consumed by another system in the same tick.
// Name identifies the event type and must be unique across Go types.
type SystemEvent interface {
	Name() string
}

// eventQueue buffers the events of one type emitted during the current tick. Its bit is the
// scheduling key shared by every system that emits or receives the type.
type eventQueue struct {
	bit    uint32
	name   string
	typ    reflect.Type
	events []SystemEvent
}

func (q *eventQueue) push(event SystemEvent) {
	q.events = append(q.events, event)
}

// eventBus owns one queue per event type. Queues are only created during registration, so the
// bus needs no locking: systems touching the same queue are always run one after another.
type eventBus struct {
	queues []*eventQueue
	byName map[string]*eventQueue
}

func newEventBus() *eventBus {
	return &eventBus{byName: make(map[string]*eventQueue)}
}

// queueFor returns the queue for the type of zero and creates it on first use.
func (b *eventBus) queueFor(zero SystemEvent) (*eventQueue, error) {
	name := zero.Name()
	if name == "" {
		return nil, eris.Errorf("system event %T has an empty name", zero)
	}

	typ := reflect.TypeOf(zero)
	if q, ok := b.byName[name]; ok {
		if q.typ != typ {
			return nil, eris.Errorf("system event name %q is taken by %s, cannot reuse it for %s", name, q.typ, typ)
		}
		return q, nil
	}

	const initialQueueCapacity = 16
	q := &eventQueue{
		bit:    uint32(len(b.queues)), //nolint:gosec // bounded by the number of Go types
		name:   name,
		typ:    typ,
		events: make([]SystemEvent, 0, initialQueueCapacity),
	}
	b.queues = append(b.queues, q)
	b.byName[name] = q
	return q, nil
}

// reset drops the events of the tick that just ended and keeps the buffers.
func (b *eventBus) reset() {
	for _, q := range b.queues {
		clear(q.events)
		q.events = q.events[:0]
	}
}
