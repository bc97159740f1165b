package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Config controls telemetry initialization and export.
type Config struct {
	// Enabled turns telemetry on. When false, New returns a no-op instance.
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OTLP collector endpoint, host:port or URL form.
	Endpoint string `koanf:"endpoint"`

	// Protocol selects the OTLP transport: "grpc" or "http/protobuf".
	Protocol string `koanf:"protocol"`

	// Insecure disables TLS. Only honored for local endpoints.
	Insecure bool `koanf:"insecure"`

	// Headers are attached to every export request (auth tokens etc.).
	Headers map[string]string `koanf:"headers"`

	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
	Environment    string `koanf:"environment"`

	Sampling SamplingConfig `koanf:"sampling"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Shutdown ShutdownConfig `koanf:"shutdown"`
}

// SamplingConfig controls trace sampling.
type SamplingConfig struct {
	// Rate is the ratio of traces to sample, 0.0 to 1.0.
	Rate float64 `koanf:"rate"`

	// AlwaysOnErrors forces sampling for spans that record errors.
	AlwaysOnErrors bool `koanf:"always_on_errors"`
}

// MetricsConfig controls metric export.
type MetricsConfig struct {
	Enabled        bool          `koanf:"enabled"`
	ExportInterval time.Duration `koanf:"export_interval"`
}

// ShutdownConfig controls graceful shutdown of exporters.
type ShutdownConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns disabled-by-default telemetry settings.
func NewDefaultConfig() Config {
	return Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		Insecure:       true,
		ServiceName:    "redactd",
		ServiceVersion: "dev",
		Environment:    "development",
		Sampling: SamplingConfig{
			Rate:           1.0,
			AlwaysOnErrors: true,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: 60 * time.Second,
		},
		Shutdown: ShutdownConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("telemetry endpoint required when enabled")
	}
	switch c.Protocol {
	case "grpc", "http/protobuf":
	default:
		return fmt.Errorf("telemetry protocol must be grpc or http/protobuf, got %q", c.Protocol)
	}
	if c.Insecure && !isLocalEndpoint(c.Endpoint) {
		return fmt.Errorf("insecure transport not allowed for non-local endpoint %q", c.Endpoint)
	}
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return fmt.Errorf("sampling rate must be in [0, 1], got %v", c.Sampling.Rate)
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service name required")
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval <= 0 {
		return fmt.Errorf("metrics export interval must be positive")
	}
	if c.Shutdown.Timeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// isLocalEndpoint reports whether the endpoint points at the local machine.
func isLocalEndpoint(endpoint string) bool {
	host := stripScheme(endpoint)
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	host = strings.Trim(host, "[]")
	switch host {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return true
	}
	return strings.HasSuffix(host, ".localhost")
}
