// Package statsd sends tick and system timings to a DogStatsD agent. Everything datadog specific
// stays in this file.
package statsd

import (
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const (
	metricPrefix = "cardinal."
	sampleRate   = 1
)

// Metrics emits the timings of one world. A Metrics built without an address drops everything.
type Metrics struct {
	client ddstatsd.ClientInterface
	logger zerolog.Logger
}

// New connects to the agent at address. Send failures are logged to logger at warn level and
// never reach the tick loop.
func New(address string, tags []string, logger zerolog.Logger) (*Metrics, error) {
	if address == "" {
		return &Metrics{client: &ddstatsd.NoOpClient{}, logger: logger}, nil
	}

	client, err := ddstatsd.New(address,
		ddstatsd.WithNamespace(metricPrefix),
		ddstatsd.WithTags(tags),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create statsd client for %s", address)
	}
	return &Metrics{client: client, logger: logger}, nil
}

// Enabled reports whether metrics leave the process.
func (m *Metrics) Enabled() bool {
	_, noop := m.client.(*ddstatsd.NoOpClient)
	return !noop
}

// TickDuration records how long a full tick took, from start until now.
func (m *Metrics) TickDuration(start time.Time) {
	m.warn(m.client.Timing("tick", time.Since(start), []string{"stage:full_tick"}, sampleRate), "tick")
}

// SystemDuration records one system run, tagged with its hook.
func (m *Metrics) SystemDuration(hook string, start, end time.Time) {
	m.warn(m.client.Timing("system", end.Sub(start), []string{"hook:" + hook}, sampleRate), "system")
}

// TickCompleted counts a tick that advanced the tick height.
func (m *Metrics) TickCompleted() {
	m.warn(m.client.Incr("ticks", nil, sampleRate), "ticks")
}

// Close flushes buffered metrics. Metrics must not be used afterwards.
func (m *Metrics) Close() error {
	if err := m.client.Close(); err != nil {
		return eris.Wrap(err, "failed to close statsd client")
	}
	return nil
}

func (m *Metrics) warn(err error, metric string) {
	if err != nil {
		m.logger.Warn().Err(err).Str("metric", metric).Msg("failed to emit metric")
	}
}
