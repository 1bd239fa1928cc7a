package telemetry

import (
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// envPrefix is prepended to the env tag of every Options field.
const envPrefix = "OTEL_"

// Options configures the telemetry of one service. ServiceName, SentryTags and LogOutput are set
// in code. The remaining fields come from OTEL_* environment variables and keep their defaults
// when a variable is unset.
type Options struct {
	ServiceName string
	SentryTags  map[string]string
	LogOutput   io.Writer // stderr when nil

	Tracing    bool          `env:"ENABLED"`           // Export spans over OTLP/gRPC
	Endpoint   string        `env:"ENDPOINT"`          // OTLP collector address
	SampleRate float64       `env:"TRACE_SAMPLE_RATE"` // Fraction of root spans kept
	LogLevel   zerolog.Level `env:"LOG_LEVEL"`         // debug, info, warn, error
	LogFormat  LogFormat     `env:"LOG_FORMAT"`        // json or pretty
	SentryDSN  string        `env:"SENTRY_DSN"`        // Empty disables crash reporting
	SentryEnv  string        `env:"SENTRY_ENV"`
}

// loadOptions starts from the defaults, keeps the code-only fields of opts, and applies the
// environment on top.
func loadOptions(opts Options) (Options, error) {
	cfg := Options{
		ServiceName: opts.ServiceName,
		SentryTags:  opts.SentryTags,
		LogOutput:   opts.LogOutput,
		Endpoint:    "localhost:4317",
		SampleRate:  1.0,
		LogLevel:    zerolog.InfoLevel,
		LogFormat:   LogFormatJSON,
	}
	if cfg.LogOutput == nil {
		cfg.LogOutput = os.Stderr
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return cfg, eris.Wrap(err, "failed to parse OTEL_* env")
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (opts *Options) validate() error {
	if opts.ServiceName == "" {
		return eris.New("telemetry needs a service name")
	}
	if opts.SampleRate < 0 || opts.SampleRate > 1 {
		return eris.Errorf("trace sample rate %v is outside [0, 1]", opts.SampleRate)
	}
	if opts.Tracing && opts.Endpoint == "" {
		return eris.New("tracing is enabled without an OTLP endpoint")
	}
	if opts.LogLevel == zerolog.NoLevel {
		return eris.New("log level cannot be empty")
	}
	return nil
}

// LogFormat selects how log lines are rendered.
type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"   // One JSON object per line
	LogFormatPretty LogFormat = "pretty" // Colored console output for local runs
)

// UnmarshalText lets caarlos0/env reject unknown formats while parsing.
func (f *LogFormat) UnmarshalText(text []byte) error {
	switch format := LogFormat(text); format {
	case LogFormatJSON, LogFormatPretty:
		*f = format
		return nil
	default:
		return eris.Errorf("unknown log format %q, want %q or %q", text, LogFormatJSON, LogFormatPretty)
	}
}
