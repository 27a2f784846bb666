// Package config defines process configuration and its loading hooks.
//
// Battery bounds, the initial level and the per-unit rate are fixed
// constants of the battery package and are not configurable here.
package config

import (
	"fmt"
	"strings"

	"github.com/okian/battery/pkg/logger"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// MetricsEnabled toggles Prometheus instrumentation of runs.
	MetricsEnabled bool `koanf:"metrics_enabled"`

	// MetricsNamespace and MetricsSubsystem prefix every metric name.
	MetricsNamespace string `koanf:"metrics_namespace"`
	MetricsSubsystem string `koanf:"metrics_subsystem"`

	// StepLogging emits one debug entry per applied event.
	StepLogging bool `koanf:"step_logging"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        logger.FormatText,
		MetricsEnabled:   true,
		MetricsNamespace: "battery",
		MetricsSubsystem: "level",
		StepLogging:      false,
	}
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case logger.FormatText, logger.FormatJSON:
	default:
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	if c.MetricsEnabled && strings.TrimSpace(c.MetricsNamespace) == "" {
		return fmt.Errorf("%w: metrics_namespace must not be empty", ErrInvalidConfig)
	}
	return nil
}
