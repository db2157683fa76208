// Package config defines the runtime configuration of the fancy CLI and
// the loaders that produce it from YAML files and environment variables.
package config

// Config is the top-level runtime configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`

	// Format selects the log output format (text or json).
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	// Backend is the storage backend (memory or sqlite).
	Backend string `mapstructure:"backend" yaml:"backend" validate:"oneof=memory sqlite"`

	// Path is the sqlite database file path. Required for the sqlite
	// backend, ignored by the memory backend.
	Path string `mapstructure:"path" yaml:"path" validate:"required_if=Backend sqlite"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled controls whether runs and steps emit spans.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// EngineConfig tunes execution behavior.
type EngineConfig struct {
	// StrictShapes disables implicit scalar-to-collection coercion.
	StrictShapes bool `mapstructure:"strict_shapes" yaml:"strict_shapes"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "",
		},
		Engine: EngineConfig{
			StrictShapes: false,
		},
	}
}
