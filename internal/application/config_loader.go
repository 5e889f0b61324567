package application

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file configuration.
const (
	EnvConfigPath = "CEFR_CONFIG"
	EnvPort       = "PORT"
	EnvLogLevel   = "LOG_LEVEL"
	EnvCacheDir   = "MODEL_CACHE_DIR"
)

// ConfigLoader parses, overrides and validates service configuration.
// Use ConfigLoader to turn a YAML file into a Config that is safe to build
// an ensemble from; every returned Config has passed struct and semantic
// validation.
type ConfigLoader struct {
	// validator performs struct tag validation including the custom
	// loglevel, hostport and sourcetype rules.
	validator *validator.Validate
	// getenv resolves environment overrides.
	getenv func(string) string
}

// ConfigLoaderOption configures a ConfigLoader.
type ConfigLoaderOption func(*ConfigLoader)

// WithGetenv replaces os.Getenv, mainly for tests.
func WithGetenv(fn func(string) string) ConfigLoaderOption {
	return func(l *ConfigLoader) { l.getenv = fn }
}

// NewConfigLoader creates a loader that accepts the given source types,
// normally SourceRegistry.SupportedTypes.
// NewConfigLoader returns an error if validator registration fails.
func NewConfigLoader(sourceTypes []string, opts ...ConfigLoaderOption) (*ConfigLoader, error) {
	v := validator.New()
	if err := registerCustomValidators(v, sourceTypes); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}

	l := &ConfigLoader{validator: v, getenv: os.Getenv}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LoadFile reads configuration from path. An empty path yields the default
// configuration. Environment overrides are applied before validation.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	if path == "" {
		return l.finish(DefaultConfig())
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return l.LoadBytes(data)
}

// LoadReader reads configuration from r.
func (l *ConfigLoader) LoadReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return l.LoadBytes(data)
}

// LoadBytes parses YAML onto the default configuration, so omitted sections
// keep their defaults. A sources list, when present, replaces the default
// sources entirely. Unknown fields are rejected.
func (l *ConfigLoader) LoadBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Strict mode - fail on unknown fields.
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return l.finish(cfg)
}

func (l *ConfigLoader) finish(cfg *Config) (*Config, error) {
	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := l.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values with PORT, LOG_LEVEL and MODEL_CACHE_DIR.
func (l *ConfigLoader) applyEnv(cfg *Config) error {
	if port := l.getenv(EnvPort); port != "" {
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, port, err)
		}
		cfg.Server.Addr = ":" + port
	}
	if level := l.getenv(EnvLogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if dir := l.getenv(EnvCacheDir); dir != "" {
		cfg.Artifacts.CacheDir = dir
	}
	return nil
}

// Validate performs struct validation followed by semantic validation of
// relationships the tags cannot express.
func (l *ConfigLoader) Validate(cfg *Config) error {
	if err := l.validator.Struct(cfg); err != nil {
		return fmt.Errorf("struct validation failed: %w", err)
	}
	if err := validateSemantics(cfg); err != nil {
		return fmt.Errorf("semantic validation failed: %w", err)
	}
	return nil
}

// validateSemantics enforces unique source names, per-type parameters and
// consistent resilience settings.
func validateSemantics(cfg *Config) error {
	names := make(map[string]int, len(cfg.Sources))
	for i, src := range cfg.Sources {
		if j, exists := names[src.Name]; exists {
			return fmt.Errorf("duplicate source name %q: sources %d and %d", src.Name, j, i)
		}
		names[src.Name] = i

		if err := ValidateSourceParameters(src.Type, src.Parameters); err != nil {
			return fmt.Errorf("source %q parameter validation failed: %w", src.Name, err)
		}

		r := src.Retry
		if r.MaxDelay > 0 && r.BaseDelay > r.MaxDelay {
			return fmt.Errorf("source %q: retry base_delay %s exceeds max_delay %s",
				src.Name, r.BaseDelay, r.MaxDelay)
		}
		if src.CircuitBreaker.MaxFailures > 0 && src.CircuitBreaker.Cooldown <= 0 {
			return fmt.Errorf("source %q: circuit_breaker requires a positive cooldown", src.Name)
		}
	}
	return nil
}
