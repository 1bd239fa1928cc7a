package cardinal

import (
	"io"
	"reflect"
	"time"

	"github.com/argus-labs/tick-counter/pkg/cardinal/ecs"
	"github.com/argus-labs/tick-counter/pkg/cardinal/worldstage"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Re-exported so that games only import cardinal.
type (
	Local[T any]                               = ecs.Local[T]
	WithSystemEventReceiver[T ecs.SystemEvent] = ecs.WithSystemEventReceiver[T]
	WithSystemEventEmitter[T ecs.SystemEvent]  = ecs.WithSystemEventEmitter[T]
	SystemEvent                                = ecs.SystemEvent
)

const (
	PreUpdate  = ecs.PreUpdate
	Update     = ecs.Update
	PostUpdate = ecs.PostUpdate
	Init       = ecs.Init
)

func WithHook(hook ecs.SystemHook) ecs.SystemOption {
	return ecs.WithHook(hook)
}

// RegisterSystem adds a system to the Update hook, or to the hook given with WithHook. The state
// type T must be a struct embedding BaseSystemState. It panics when called after Init or when
// T is not a valid system state.
//
//	type CounterSystemState struct {
//		cardinal.BaseSystemState
//		Counter cardinal.Local[Counter]
//	}
//
//	cardinal.RegisterSystem(world, func(state *CounterSystemState) error {
//		state.Counter.Get().Count++
//		return nil
//	})
func RegisterSystem[T any](w *World, system ecs.System[T], opts ...ecs.SystemOption) {
	if stage := w.stage.Current(); stage != worldstage.Init {
		panic(eris.Errorf("system %T cannot be registered in stage %s", system, stage))
	}

	state := reflect.TypeFor[T]()
	if state.Kind() != reflect.Struct {
		panic(eris.Errorf("state of system %T must be a struct", system))
	}
	if _, ok := state.FieldByName("BaseSystemState"); !ok {
		panic(eris.Errorf("state of system %T must embed cardinal.BaseSystemState", system))
	}

	opts = append(opts, ecs.WithModifier(ecs.BaseField, bindBaseState(w)))
	if err := ecs.RegisterSystem(w.world, system, opts...); err != nil {
		panic(eris.Wrap(err, "failed to register system"))
	}
}

// BaseSystemState gives a system access to its world: a logger tagged with the system name, the
// tick being run and the console output.
//
//	func DebugSystem(state *DebugSystemState) error {
//		state.Logger().Debug().Uint64("tick", state.Tick()).Msg("tick")
//		return nil
//	}
type BaseSystemState struct {
	ecs.BaseSystemState
	world  *World
	logger zerolog.Logger
}

func (b *BaseSystemState) Logger() *zerolog.Logger {
	return &b.logger
}

// Tick returns the height of the tick being run, starting at 0.
func (b *BaseSystemState) Tick() uint64 {
	return b.world.tickHeight
}

func (b *BaseSystemState) Timestamp() time.Time {
	return b.world.timestamp
}

// Output is where systems print for the user, stdout unless WorldOptions.Output says otherwise.
// Logs never go there.
func (b *BaseSystemState) Output() io.Writer {
	return b.world.options.Output
}

// bindBaseState fills in the cardinal half of the base state. States embedding
// ecs.BaseSystemState directly are rejected.
func bindBaseState(w *World) func(any) error {
	return func(field any) error {
		b, ok := field.(*BaseSystemState)
		if !ok {
			return eris.Errorf("got %T, embed cardinal.BaseSystemState instead", field)
		}
		b.world = w
		b.logger = w.tel.Component("system").With().Str("system", b.SystemName()).Logger()
		return nil
	}
}
