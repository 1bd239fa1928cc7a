package system

import (
	"fmt"
	"time"

	"github.com/argus-labs/tick-counter/pkg/cardinal"
)

// PrintInterval is the number of ticks between two printed counts.
const PrintInterval = 60

type Counter struct {
	Count uint32
}

type CounterSystemState struct {
	cardinal.BaseSystemState
	Counter cardinal.Local[Counter]
}

// CounterSystem prints the count every PrintInterval ticks, then increments it. The count wraps
// to zero after math.MaxUint32.
func CounterSystem(state *CounterSystemState) error {
	counter := state.Counter.Get()

	if counter.Count%PrintInterval == 0 {
		if _, err := fmt.Fprintln(state.Output(), counter.Count); err != nil {
			// Returning the error would stop the world, so just log it.
			state.Logger().Error().Err(err).Uint32("count", counter.Count).Msg("failed to print count")
		}
		state.Logger().Debug().Uint32("count", counter.Count).Uint64("tick", state.Tick()).Msg("count printed")
	}

	counter.Count++
	return nil
}

// Plugin registers the tick counter.
type Plugin struct{}

func (Plugin) Register(w *cardinal.World) error {
	cardinal.RegisterSystem(w, CounterSystem)
	return nil
}

// ExpectedPrintPeriod returns the time between two printed counts at the given tick rate.
func ExpectedPrintPeriod(tickRate float64) time.Duration {
	return PrintInterval * cardinal.TickInterval(tickRate)
}
