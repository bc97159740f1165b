package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name: "disabled skips validation",
			mutate: func(c *Config) {
				c.Enabled = false
				c.Endpoint = ""
			},
		},
		{
			name: "enabled requires endpoint",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Endpoint = ""
			},
			wantErr: "endpoint required",
		},
		{
			name: "bad protocol",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Protocol = "udp"
			},
			wantErr: "protocol",
		},
		{
			name: "insecure remote endpoint rejected",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Endpoint = "collector.example.com:4317"
				c.Insecure = true
			},
			wantErr: "insecure transport not allowed",
		},
		{
			name: "insecure localhost allowed",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Endpoint = "localhost:4317"
				c.Insecure = true
			},
		},
		{
			name: "sampling rate out of range",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Sampling.Rate = 1.5
			},
			wantErr: "sampling rate",
		},
		{
			name: "zero export interval",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Metrics.ExportInterval = 0
			},
			wantErr: "export interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(&cfg)
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

func TestIsLocalEndpoint(t *testing.T) {
	local := []string{
		"localhost:4317",
		"127.0.0.1:4318",
		"http://localhost:4318",
		"[::1]:4317",
		"otel.localhost:4317",
	}
	for _, e := range local {
		assert.True(t, isLocalEndpoint(e), e)
	}

	remote := []string{
		"collector.example.com:4317",
		"https://otel.internal:4318",
		"10.0.0.5:4317",
	}
	for _, e := range remote {
		assert.False(t, isLocalEndpoint(e), e)
	}
}

func TestNewDisabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = false

	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	enabled, healthErr := tel.Health()
	assert.False(t, enabled)
	assert.NoError(t, healthErr)

	// No-op providers still hand out usable tracers and meters.
	_, span := tel.Tracer("test").Start(context.Background(), "noop")
	span.End()
	_, err = tel.Meter("test").Int64Counter("noop_total")
	assert.NoError(t, err)

	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Protocol = "carrier-pigeon"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestTestTelemetryRecordsSpans(t *testing.T) {
	tt := NewTestTelemetry()
	defer tt.Shutdown(context.Background())

	ctx := context.Background()
	_, span := tt.Tracer("fanout").Start(ctx, "detect_document")
	span.End()

	tt.AssertSpanExists(t, "detect_document")
	assert.Len(t, tt.EndedSpans(), 1)
}

func TestTestTelemetryRecordsMetrics(t *testing.T) {
	tt := NewTestTelemetry()
	defer tt.Shutdown(context.Background())

	ctx := context.Background()
	counter, err := tt.Meter("scheduler").Int64Counter("items_processed_total")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	names, err := tt.MetricNames(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "items_processed_total")
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "localhost:4317", stripScheme("http://localhost:4317"))
	assert.Equal(t, "otel.example.com:4318", stripScheme("https://otel.example.com:4318"))
	assert.Equal(t, "localhost:4317", stripScheme("localhost:4317"))
}
