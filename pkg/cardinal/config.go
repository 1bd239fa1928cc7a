package cardinal

import (
	"io"
	"math"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
)

// worldOptionsEnv holds the world options that can be set via environment variables. Unset
// variables leave the corresponding option untouched.
type worldOptionsEnv struct {
	// Number of ticks per second.
	TickRate float64 `env:"CARDINAL_TICK_RATE"`

	// Number of ticks after which the run loop stops. 0 means the loop runs until stopped.
	TickLimit uint64 `env:"CARDINAL_TICK_LIMIT"`

	// Name of this world, used in logs and metric tags.
	Namespace string `env:"CARDINAL_NAMESPACE"`

	// Address of the DataDog agent. Metrics are disabled when empty.
	StatsdAddress string `env:"CARDINAL_STATSD_ADDRESS"`

	// Number of ticks per performance batch.
	PerfBatchSize int `env:"CARDINAL_PERF_BATCH_SIZE"`
}

// loadWorldOptionsEnv loads the world options from environment variables.
func loadWorldOptionsEnv() (worldOptionsEnv, error) {
	cfg := worldOptionsEnv{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse world options env")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate world options env")
	}

	return cfg, nil
}

func (cfg *worldOptionsEnv) validate() error {
	if cfg.TickRate < 0 {
		return eris.New("tick rate cannot be negative")
	}
	if cfg.PerfBatchSize < 0 {
		return eris.New("perf batch size cannot be negative")
	}
	return nil
}

// toOptions converts the env values into WorldOptions. Zero values are ignored by apply.
func (cfg *worldOptionsEnv) toOptions() WorldOptions {
	return WorldOptions{
		TickRate:      cfg.TickRate,
		TickLimit:     cfg.TickLimit,
		Namespace:     cfg.Namespace,
		StatsdAddress: cfg.StatsdAddress,
		PerfBatchSize: cfg.PerfBatchSize,
	}
}

// resolveWorldOptions layers the CARDINAL_* env and then opts over the defaults.
func resolveWorldOptions(opts WorldOptions) (WorldOptions, error) {
	envs, err := loadWorldOptionsEnv()
	if err != nil {
		return WorldOptions{}, eris.Wrap(err, "failed to load world options env vars")
	}
	options := newDefaultWorldOptions()
	options.apply(envs.toOptions())
	options.apply(opts)
	if err := options.validate(); err != nil {
		return WorldOptions{}, eris.Wrap(err, "invalid world options")
	}
	return options, nil
}

type WorldOptions struct {
	TickRate      float64   // Number of ticks per second
	TickLimit     uint64    // Stop after this many ticks, 0 runs until stopped
	Namespace     string    // Name of the world in logs and metric tags
	StatsdAddress string    // DataDog agent address, empty disables metrics
	PerfBatchSize int       // Ticks per performance batch
	Output        io.Writer // Console sink for systems
}

func newDefaultWorldOptions() WorldOptions {
	// The tick rate is left invalid to force users to pass one in.
	return WorldOptions{
		TickRate:      0,
		TickLimit:     0,
		Namespace:     "world",
		StatsdAddress: "",
		PerfBatchSize: 50,
		Output:        os.Stdout,
	}
}

// apply copies every non-zero field of newOpt over opt.
func (opt *WorldOptions) apply(newOpt WorldOptions) {
	if newOpt.TickRate != 0.0 {
		opt.TickRate = newOpt.TickRate
	}
	if newOpt.TickLimit != 0 {
		opt.TickLimit = newOpt.TickLimit
	}
	if newOpt.Namespace != "" {
		opt.Namespace = newOpt.Namespace
	}
	if newOpt.StatsdAddress != "" {
		opt.StatsdAddress = newOpt.StatsdAddress
	}
	if newOpt.PerfBatchSize != 0 {
		opt.PerfBatchSize = newOpt.PerfBatchSize
	}
	if newOpt.Output != nil {
		opt.Output = newOpt.Output
	}
}

func (opt *WorldOptions) validate() error {
	if opt.TickRate <= 0.0 || math.IsInf(opt.TickRate, 0) || math.IsNaN(opt.TickRate) {
		return eris.Errorf("tick rate must be a positive number, got %v", opt.TickRate)
	}
	if TickInterval(opt.TickRate) <= 0 {
		return eris.Errorf("tick rate %v is too high", opt.TickRate)
	}
	if opt.Namespace == "" {
		return eris.New("namespace cannot be empty")
	}
	if opt.PerfBatchSize <= 0 {
		return eris.New("perf batch size must be positive")
	}
	if opt.Output == nil {
		return eris.New("output cannot be nil")
	}
	return nil
}

func (opt *WorldOptions) getSentryTags() map[string]string {
	tags := make(map[string]string, 1)
	tags["namespace"] = opt.Namespace
	return tags
}

func (opt *WorldOptions) getStatsdTags() []string {
	return []string{"namespace:" + opt.Namespace}
}

// TickInterval returns the period of the run loop for the given number of ticks per second.
func TickInterval(tickRate float64) time.Duration {
	return time.Duration(float64(time.Second) / tickRate)
}
