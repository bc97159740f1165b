// Package config provides configuration loading for redactd.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. Every section has hardcoded defaults so redactd starts with no
// configuration at all.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete redactd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Fanout    FanoutConfig    `koanf:"fanout"`
	Admission AdmissionConfig `koanf:"admission"`
	Detectors DetectorsConfig `koanf:"detectors"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// LoggingConfig holds the file-level logging settings. The logging
// package carries the full configuration; these are the knobs exposed
// to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds the file-level OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	Protocol     string  `koanf:"protocol"`
	Insecure     bool    `koanf:"insecure"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// ServerConfig holds the operational HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// SchedulerConfig holds worker-pool sizing and timeout defaults.
type SchedulerConfig struct {
	MinWorkers    int      `koanf:"min_workers"`
	MaxWorkers    int      `koanf:"max_workers"`
	BatchTimeout  Duration `koanf:"batch_timeout"`
	ItemTimeout   Duration `koanf:"item_timeout"`
	ProgressEvery int      `koanf:"progress_every"`
}

// FanoutConfig holds detection fan-out configuration.
type FanoutConfig struct {
	EngineTimeout Duration `koanf:"engine_timeout"`
}

// AdmissionConfig holds the quota limits protecting the remote engine.
type AdmissionConfig struct {
	MaxDaily      int      `koanf:"max_daily"`
	MaxConcurrent int      `koanf:"max_concurrent"`
	MinDelay      Duration `koanf:"min_delay"`
	HistorySize   int      `koanf:"history_size"`
}

// DetectorsConfig selects and configures the detection engines.
type DetectorsConfig struct {
	Pattern PatternConfig `koanf:"pattern"`
	Secrets SecretsConfig `koanf:"secrets"`
	Remote  RemoteConfig  `koanf:"remote"`
}

// PatternConfig configures the regex PII detector.
type PatternConfig struct {
	Enabled   bool   `koanf:"enabled"`
	RulesFile string `koanf:"rules_file"`
}

// SecretsConfig configures the gitleaks-based secret detector.
type SecretsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	ProjectPath   string `koanf:"project_path"`
	UserAllowlist string `koanf:"user_allowlist"`
}

// RemoteConfig configures the quota-bound external analyzer engine.
type RemoteConfig struct {
	Enabled      bool     `koanf:"enabled"`
	Endpoint     string   `koanf:"endpoint"`
	APIKey       Secret   `koanf:"api_key"`
	Timeout      Duration `koanf:"timeout"`
	MaxPayload   int      `koanf:"max_payload"`
	RequestsPerS float64  `koanf:"requests_per_s"`
	Burst        int      `koanf:"burst"`
}

// NewDefaultConfig returns a configuration with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9282,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Scheduler: SchedulerConfig{
			MinWorkers:    2,
			MaxWorkers:    8,
			BatchTimeout:  Duration(10 * time.Minute),
			ItemTimeout:   0, // derived from batch timeout
			ProgressEvery: 10,
		},
		Fanout: FanoutConfig{
			EngineTimeout: Duration(5 * time.Minute),
		},
		Admission: AdmissionConfig{
			MaxDaily:      1000,
			MaxConcurrent: 4,
			MinDelay:      Duration(250 * time.Millisecond),
			HistorySize:   100,
		},
		Detectors: DetectorsConfig{
			Pattern: PatternConfig{Enabled: true},
			Secrets: SecretsConfig{Enabled: true},
			Remote: RemoteConfig{
				Enabled:      false,
				Timeout:      Duration(60 * time.Second),
				MaxPayload:   100_000,
				RequestsPerS: 50.0 / 60.0,
				Burst:        5,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			Endpoint:     "localhost:4317",
			Protocol:     "grpc",
			Insecure:     true,
			SamplingRate: 1.0,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("server shutdown_timeout must be positive")
	}

	if c.Scheduler.MinWorkers < 1 {
		return fmt.Errorf("scheduler min_workers must be >= 1, got %d", c.Scheduler.MinWorkers)
	}
	if c.Scheduler.MaxWorkers < c.Scheduler.MinWorkers {
		return fmt.Errorf("scheduler max_workers (%d) must be >= min_workers (%d)",
			c.Scheduler.MaxWorkers, c.Scheduler.MinWorkers)
	}
	if c.Scheduler.BatchTimeout.Duration() <= 0 {
		return fmt.Errorf("scheduler batch_timeout must be positive")
	}

	if c.Fanout.EngineTimeout.Duration() <= 0 {
		return fmt.Errorf("fanout engine_timeout must be positive")
	}

	if c.Admission.MaxDaily < 1 {
		return fmt.Errorf("admission max_daily must be >= 1, got %d", c.Admission.MaxDaily)
	}
	if c.Admission.MaxConcurrent < 1 {
		return fmt.Errorf("admission max_concurrent must be >= 1, got %d", c.Admission.MaxConcurrent)
	}
	if c.Admission.HistorySize < 0 {
		return fmt.Errorf("admission history_size cannot be negative")
	}

	if c.Detectors.Remote.Enabled {
		if c.Detectors.Remote.Endpoint == "" {
			return fmt.Errorf("detectors.remote.endpoint is required when the remote engine is enabled")
		}
		if c.Detectors.Remote.MaxPayload < 1 {
			return fmt.Errorf("detectors.remote.max_payload must be >= 1")
		}
		if c.Detectors.Remote.RequestsPerS <= 0 {
			return fmt.Errorf("detectors.remote.requests_per_s must be positive")
		}
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
			return fmt.Errorf("invalid telemetry protocol: %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
			return fmt.Errorf("telemetry sampling_rate must be in [0, 1], got %f", c.Telemetry.SamplingRate)
		}
	}

	return nil
}
