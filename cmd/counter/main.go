package main

import (
	"os"

	"github.com/argus-labs/tick-counter/cmd/counter/system"
	"github.com/argus-labs/tick-counter/pkg/cardinal"
	"github.com/rs/zerolog/log"
)

// tickRate is the number of ticks per second of the counter world.
const tickRate = 50

func main() {
	world, err := cardinal.NewWorld(cardinal.WorldOptions{
		TickRate: tickRate,
		Output:   os.Stdout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create world")
	}

	if err := world.RegisterPlugin(system.Plugin{}); err != nil {
		log.Fatal().Err(err).Msg("failed to register counter plugin")
	}

	log.Info().
		Dur("print_period", system.ExpectedPrintPeriod(tickRate)).
		Msg("starting tick counter")

	if err := world.StartGame(); err != nil {
		os.Exit(1)
	}
}
