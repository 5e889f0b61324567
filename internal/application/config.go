package application

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration of the classifier service
// and the primary entry point for operators.
// Use Config to describe which prediction sources make up the ensemble,
// how each one is protected against slow or failing backends, and how the
// HTTP boundary, logging and metrics behave.
type Config struct {
	// Server configures the HTTP serving boundary.
	Server ServerConfig `yaml:"server"`
	// Logging selects the level, format and optional file of the process
	// logger.
	Logging LoggingConfig `yaml:"logging"`
	// Metrics toggles the Prometheus collector and its scrape endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
	// Artifacts locates the exported model files loaded at startup.
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	// Ensemble controls fan-out and aggregation across all sources.
	Ensemble EnsembleConfig `yaml:"ensemble"`
	// Sources lists the prediction sources in registration order. The order
	// is preserved in every result the ensemble produces.
	Sources []SourceConfig `yaml:"sources" validate:"required,min=1,dive"`
}

// ServerConfig defines the listener and request limits of the HTTP
// boundary.
type ServerConfig struct {
	// Addr is the listen address in host:port form. An empty host listens
	// on every interface.
	Addr string `yaml:"addr" validate:"required,hostport"`
	// APIPrefix mounts a second copy of every route under this path.
	// Leave empty to serve the root routes only.
	APIPrefix string `yaml:"api_prefix" validate:"omitempty,startswith=/"`
	// MaxBodyBytes caps the size of a request body.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gt=0,max=67108864"`
	// CORS enables permissive cross-origin headers for browser clients.
	CORS bool `yaml:"cors"`
	// ReadTimeout bounds reading a full request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gte=0"`
	// ShutdownTimeout bounds how long in-flight requests may drain after a
	// shutdown signal.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	// StaticDir, when set, serves a built single-page frontend from this
	// directory. Unknown non-API GET paths fall back to its index.html.
	StaticDir string `yaml:"static_dir" validate:"omitempty,dir"`
}

// LoggingConfig controls the structured process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level" validate:"required,loglevel"`
	// Format is text or json.
	Format string `yaml:"format" validate:"required,oneof=text json"`
	// File, when set, receives a copy of every log line in addition to
	// stdout.
	File string `yaml:"file"`
	// MaxSizeMB rotates File once it reaches this size.
	MaxSizeMB int `yaml:"max_size_mb" validate:"min=1"`
	// MaxBackups is the number of rotated files kept beside File.
	MaxBackups int `yaml:"max_backups" validate:"min=0,max=100"`
}

// MetricsConfig controls the Prometheus collector.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path is where the scrape endpoint is mounted.
	Path string `yaml:"path" validate:"omitempty,startswith=/"`
	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace" validate:"omitempty,max=64,excludesall=-."`
	// RuntimeCollectors adds Go runtime and process metrics.
	RuntimeCollectors bool `yaml:"runtime_collectors"`
}

// ArtifactsConfig locates exported model artifacts.
type ArtifactsConfig struct {
	// CacheDir is the directory relative artifact paths resolve against.
	CacheDir string `yaml:"cache_dir" validate:"required"`
}

// EnsembleConfig tunes the aggregator.
type EnsembleConfig struct {
	// SourceTimeout bounds each source call within one prediction. A source
	// that does not answer in time fails the whole prediction.
	SourceTimeout time.Duration `yaml:"source_timeout" validate:"gt=0"`
	// MaxConcurrency caps how many sources run at once. Zero runs every
	// source concurrently.
	MaxConcurrency int `yaml:"max_concurrency" validate:"gte=0,max=64"`
	// NumLevels is the distribution length every source must produce. The
	// label space is fixed at the five CEFR levels.
	NumLevels int `yaml:"num_levels" validate:"eq=5"`
}

// SourceConfig defines one prediction source and the resilience policy
// wrapped around it.
// Use SourceConfig to bind a registered source type to its parameters and
// to tune retries, rate limiting and circuit breaking per backend.
type SourceConfig struct {
	// Name labels the source in results, logs and metrics. Names must be
	// unique within the ensemble.
	Name string `yaml:"name" validate:"required,min=1,max=100"`
	// Type selects the registered source implementation, e.g. naive_bayes.
	Type string `yaml:"type" validate:"required,sourcetype"`
	// Parameters holds type-specific settings and is validated according
	// to Type.
	Parameters yaml.Node `yaml:"parameters"`
	// Timeout bounds a single attempt. Zero leaves attempts unbounded apart
	// from the ensemble's SourceTimeout.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	// Retry configures retries of transient failures.
	Retry RetryConfig `yaml:"retry"`
	// RateLimit throttles calls to the backend.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	// CircuitBreaker stops calling a backend that keeps failing.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig specifies the retry strategy for transient source failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	// Zero or one disables retries.
	MaxAttempts int `yaml:"max_attempts" validate:"min=0,max=10"`
	// BaseDelay is the backoff before the first retry; later retries double
	// it.
	BaseDelay time.Duration `yaml:"base_delay" validate:"gte=0"`
	// MaxDelay caps any single backoff, including server Retry-After hints.
	MaxDelay time.Duration `yaml:"max_delay" validate:"gte=0"`
}

// RateLimitConfig throttles a source with a token bucket.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	// Burst is the bucket size; it defaults to 1 when limiting is on.
	Burst int `yaml:"burst" validate:"gte=0"`
}

// CircuitBreakerConfig opens the circuit after consecutive failures.
type CircuitBreakerConfig struct {
	// MaxFailures trips the breaker. Zero disables it.
	MaxFailures int `yaml:"max_failures" validate:"gte=0"`
	// Cooldown is how long the breaker stays open before admitting a trial request.
	Cooldown time.Duration `yaml:"cooldown" validate:"gte=0"`
}

// Source names and defaults of the stock deployment.
const (
	DefaultNaiveBayesName  = "Naive Bayes"
	DefaultDoc2VecName     = "Doc2Vec"
	DefaultTransformerName = "BERT"
)

// DefaultConfig returns the stock deployment: the naive Bayes, doc2vec and
// transformer sources registered in that order, listening on :5000.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":5000",
			APIPrefix:       "/api",
			MaxBodyBytes:    1 << 20,
			CORS:            true,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "cefr",
		},
		Artifacts: ArtifactsConfig{CacheDir: "hf_models"},
		Ensemble: EnsembleConfig{
			SourceTimeout: 30 * time.Second,
			NumLevels:     5,
		},
		Sources: []SourceConfig{
			{
				Name:       DefaultNaiveBayesName,
				Type:       "naive_bayes",
				Parameters: mappingNode("model_path", "nb/model.json"),
			},
			{
				Name:       DefaultDoc2VecName,
				Type:       "doc2vec",
				Parameters: mappingNode("model_path", "doc2vec/model.json"),
			},
			{
				Name:       DefaultTransformerName,
				Type:       "transformer",
				Parameters: mappingNode("endpoint", "http://localhost:8080/predict"),
				Timeout:    20 * time.Second,
				Retry: RetryConfig{
					MaxAttempts: 3,
					BaseDelay:   500 * time.Millisecond,
					MaxDelay:    5 * time.Second,
				},
				CircuitBreaker: CircuitBreakerConfig{
					MaxFailures: 5,
					Cooldown:    30 * time.Second,
				},
			},
		},
	}
}

// mappingNode builds a flat YAML mapping from alternating keys and values.
func mappingNode(kv ...string) yaml.Node {
	n := yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for i := 0; i+1 < len(kv); i += 2 {
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: kv[i]},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: kv[i+1]},
		)
	}
	return n
}
