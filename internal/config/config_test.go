package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2, cfg.Scheduler.MinWorkers)
	assert.Equal(t, 8, cfg.Scheduler.MaxWorkers)
	assert.Equal(t, 5*time.Minute, cfg.Fanout.EngineTimeout.Duration())
	assert.True(t, cfg.Detectors.Pattern.Enabled)
	assert.False(t, cfg.Detectors.Remote.Enabled)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"min workers zero", func(c *Config) { c.Scheduler.MinWorkers = 0 }, "min_workers"},
		{"max below min", func(c *Config) { c.Scheduler.MaxWorkers = 1 }, "max_workers"},
		{"zero engine timeout", func(c *Config) { c.Fanout.EngineTimeout = 0 }, "engine_timeout"},
		{"zero daily quota", func(c *Config) { c.Admission.MaxDaily = 0 }, "max_daily"},
		{
			"remote enabled without endpoint",
			func(c *Config) { c.Detectors.Remote.Enabled = true; c.Detectors.Remote.Endpoint = "" },
			"endpoint",
		},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
		{
			"bad telemetry protocol",
			func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Protocol = "udp" },
			"telemetry protocol",
		},
		{
			"sampling rate out of range",
			func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.SamplingRate = 1.5 },
			"sampling_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadWithFile(t *testing.T) {
	t.Run("missing file uses defaults", func(t *testing.T) {
		cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 9282, cfg.Server.Port)
	})

	t.Run("yaml file overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
scheduler:
  max_workers: 16
  min_workers: 4
admission:
  max_daily: 50
`)
		cfg, err := LoadWithFile(path)
		require.NoError(t, err)
		assert.Equal(t, 16, cfg.Scheduler.MaxWorkers)
		assert.Equal(t, 4, cfg.Scheduler.MinWorkers)
		assert.Equal(t, 50, cfg.Admission.MaxDaily)
		// untouched sections keep defaults
		assert.Equal(t, 4, cfg.Admission.MaxConcurrent)
	})

	t.Run("env overrides yaml", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 8000\n")
		t.Setenv("REDACTD_SERVER_PORT", "8001")
		t.Setenv("REDACTD_DETECTORS_PATTERN_ENABLED", "false")

		cfg, err := LoadWithFile(path)
		require.NoError(t, err)
		assert.Equal(t, 8001, cfg.Server.Port)
		assert.False(t, cfg.Detectors.Pattern.Enabled)
	})

	t.Run("rejects world-readable file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8000\n"), 0o644))

		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insecure permissions")
	})

	t.Run("invalid values fail validation", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 99999\n")
		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config validation failed")
	})
}

func TestEnvTransform(t *testing.T) {
	tests := []struct{ in, want string }{
		{"REDACTD_SERVER_PORT", "server.port"},
		{"REDACTD_SCHEDULER_MAX_WORKERS", "scheduler.max_workers"},
		{"REDACTD_ADMISSION_MIN_DELAY", "admission.min_delay"},
		{"REDACTD_DETECTORS_REMOTE_API_KEY", "detectors.remote.api_key"},
		{"REDACTD_DETECTORS_PATTERN_RULES_FILE", "detectors.pattern.rules_file"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, envTransform(tt.in), tt.in)
	}
}

func TestSecret(t *testing.T) {
	s := Secret("sk-very-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-very-secret", s.Value())
	assert.True(t, s.IsSet())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "very-secret")

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "very-secret")

	var empty Secret
	assert.False(t, empty.IsSet())
	assert.Equal(t, "", empty.String())
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("nonsense")))

	text, err := Duration(time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1s", string(text))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
