package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Completion.APIKey = "sk-test"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ProviderAnthropic, cfg.Completion.Provider)
	assert.Equal(t, 3, cfg.Pipeline.MaxFixIterations)
	assert.Equal(t, 90*time.Second, cfg.Completion.Timeout.Duration())
	assert.Equal(t, "grpc", cfg.Telemetry.Protocol)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.Completion.APIKey = "" },
			wantErr: "completion.api_key is required",
		},
		{
			name: "scripted provider needs no key",
			mutate: func(c *Config) {
				c.Completion.Provider = ProviderScripted
				c.Completion.APIKey = ""
			},
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Completion.Provider = "gemini" },
			wantErr: "completion.provider must be one of",
		},
		{
			name:    "zero fix iterations",
			mutate:  func(c *Config) { c.Pipeline.MaxFixIterations = 0 },
			wantErr: "pipeline.max_fix_iterations must be at least 1",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Pipeline.Concurrency = 0 },
			wantErr: "pipeline.concurrency",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name: "telemetry protocol checked only when enabled",
			mutate: func(c *Config) {
				c.Telemetry.Protocol = "udp"
			},
		},
		{
			name: "bad telemetry protocol",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.Protocol = "udp"
			},
			wantErr: "telemetry.protocol",
		},
		{
			name: "sample rate out of range",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.SampleRate = 1.5
			},
			wantErr: "telemetry.sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.MaxFixIterations = 0
	cfg.Pipeline.Concurrency = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_fix_iterations")
	assert.Contains(t, err.Error(), "concurrency")
}

func TestSecret_NeverPrinted(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "sk-live-123", s.Value())
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-live")

	data, err := json.Marshal(struct{ Key Secret }{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":"[REDACTED]"}`, string(data))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	text, err := Duration(2 * time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2s", string(text))
}
