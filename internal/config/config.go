// Package config provides configuration loading for codereview.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then CODEREVIEW_* environment variables. See Load.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Completion providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderScripted  = "scripted"
)

// Config holds the complete codereview configuration.
type Config struct {
	Completion CompletionConfig `koanf:"completion"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Secrets    SecretsConfig    `koanf:"secrets"`
}

// CompletionConfig selects and configures the language-model provider.
type CompletionConfig struct {
	Provider string   `koanf:"provider"`
	Model    string   `koanf:"model"`
	BaseURL  string   `koanf:"base_url"`
	APIKey   Secret   `koanf:"api_key"`
	Timeout  Duration `koanf:"timeout"`

	// RateLimit is requests per second; Burst is the token bucket size.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`

	MaxOutputLength int `koanf:"max_output_length"`
}

// PipelineConfig tunes review and fix runs.
type PipelineConfig struct {
	MaxFixIterations int      `koanf:"max_fix_iterations"`
	StageTimeout     Duration `koanf:"stage_timeout"`
	Concurrency      int      `koanf:"concurrency"`
}

// LoggingConfig is the file/env view of logging settings. It is mapped onto
// logging.Config at startup.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Sampling bool   `koanf:"sampling"`
	OTEL     bool   `koanf:"otel"`
}

// TelemetryConfig is the file/env view of OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	TLSSkipVerify  bool     `koanf:"tls_skip_verify"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `koanf:"addr"`
}

// SecretsConfig controls redaction of credentials found in reviewed code
// before it reaches a provider.
type SecretsConfig struct {
	Enabled     bool     `koanf:"enabled"`
	Replacement string   `koanf:"replacement"`
	AllowList   []string `koanf:"allow_list"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Completion: CompletionConfig{
			Provider:        ProviderAnthropic,
			Model:           "claude-sonnet-4-5",
			Timeout:         Duration(90 * time.Second),
			RateLimit:       1,
			Burst:           2,
			MaxOutputLength: 4096,
		},
		Pipeline: PipelineConfig{
			MaxFixIterations: 3,
			StageTimeout:     Duration(2 * time.Minute),
			Concurrency:      2,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "console",
			Sampling: true,
		},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			SampleRate:     1.0,
			ExportInterval: Duration(15 * time.Second),
		},
		Secrets: SecretsConfig{
			Enabled:     true,
			Replacement: "[REDACTED]",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Completion.Provider {
	case ProviderAnthropic, ProviderOpenAI:
		if !c.Completion.APIKey.IsSet() {
			errs = append(errs, fmt.Errorf("completion.api_key is required for provider %q", c.Completion.Provider))
		}
	case ProviderScripted:
	default:
		errs = append(errs, fmt.Errorf("completion.provider must be one of anthropic, openai, scripted; got %q", c.Completion.Provider))
	}
	if c.Completion.Timeout.Duration() <= 0 {
		errs = append(errs, errors.New("completion.timeout must be positive"))
	}
	if c.Completion.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("completion.rate_limit must be positive, got %g", c.Completion.RateLimit))
	}
	if c.Completion.Burst < 1 {
		errs = append(errs, fmt.Errorf("completion.burst must be at least 1, got %d", c.Completion.Burst))
	}
	if c.Completion.MaxOutputLength < 1 {
		errs = append(errs, fmt.Errorf("completion.max_output_length must be at least 1, got %d", c.Completion.MaxOutputLength))
	}

	if c.Pipeline.MaxFixIterations < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_fix_iterations must be at least 1, got %d", c.Pipeline.MaxFixIterations))
	}
	if c.Pipeline.StageTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("pipeline.stage_timeout must be positive"))
	}
	if c.Pipeline.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("pipeline.concurrency must be at least 1, got %d", c.Pipeline.Concurrency))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
			errs = append(errs, fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol))
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %g", c.Telemetry.SampleRate))
		}
	}

	return errors.Join(errs...)
}
