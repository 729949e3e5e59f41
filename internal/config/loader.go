package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CODEREVIEW_"

	maxConfigFileSize = 1024 * 1024
)

// providerKeyEnv names the conventional API key variable per provider, used
// when completion.api_key is not set.
var providerKeyEnv = map[string]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
}

// Override adjusts a loaded configuration before it is validated.
type Override func(*Config)

// Load builds the configuration.
//
// Precedence (highest first):
//  1. CODEREVIEW_* environment variables
//  2. YAML file at path (default ~/.config/codereview/config.yaml)
//  3. Default()
//
// An explicit path must exist; the default path is optional. Files larger
// than 1MB or writable by group/others are rejected because they may hold
// API keys.
//
// Environment variables map onto sections by their first underscore:
//
//	CODEREVIEW_COMPLETION_API_KEY      -> completion.api_key
//	CODEREVIEW_PIPELINE_MAX_FIX_ITERATIONS -> pipeline.max_fix_iterations
//
// Overrides run last, before validation, so command-line flags win over
// every other source and are still validated.
func Load(path string, overrides ...Override) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		def, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = def
	}

	content, err := readConfigFile(path)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg, os.Getenv)
	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// DefaultPath returns ~/.config/codereview/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "codereview", "config.yaml"), nil
}

// envKey maps CODEREVIEW_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// readConfigFile opens path once and validates the open descriptor, avoiding
// a stat/open race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFile(info); err != nil {
		return nil, fmt.Errorf("config file %s rejected: %w", path, err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func validateConfigFile(info os.FileInfo) error {
	if info.IsDir() {
		return errors.New("path is a directory")
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o022 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (must not be group or world writable)", perm)
		}
	}
	return nil
}

// applyDefaults fills values that depend on other settings.
func applyDefaults(cfg *Config, getenv func(string) string) {
	cfg.Completion.Provider = strings.ToLower(strings.TrimSpace(cfg.Completion.Provider))

	if !cfg.Completion.APIKey.IsSet() {
		if name, ok := providerKeyEnv[cfg.Completion.Provider]; ok {
			cfg.Completion.APIKey = Secret(getenv(name))
		}
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
}
