package application

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var builtinTypes = []string{"doc2vec", "llm_grader", "naive_bayes", "transformer"}

func newTestLoader(t *testing.T, env map[string]string) *ConfigLoader {
	t.Helper()
	l, err := NewConfigLoader(builtinTypes, WithGetenv(func(k string) string { return env[k] }))
	require.NoError(t, err)
	return l
}

// TestDefaultConfig_Valid verifies the stock deployment passes validation
// and registers the three sources in order.
func TestDefaultConfig_Valid(t *testing.T) {
	l := newTestLoader(t, nil)
	cfg := DefaultConfig()
	require.NoError(t, l.Validate(cfg))

	names := make([]string, len(cfg.Sources))
	for i, s := range cfg.Sources {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"Naive Bayes", "Doc2Vec", "BERT"}, names)
	assert.Equal(t, ":5000", cfg.Server.Addr)
	assert.Equal(t, "hf_models", cfg.Artifacts.CacheDir)
	assert.Equal(t, 30*time.Second, cfg.Ensemble.SourceTimeout)
	assert.Equal(t, 5, cfg.Ensemble.NumLevels)
	assert.EqualValues(t, 1<<20, cfg.Server.MaxBodyBytes)
	assert.Equal(t, 10, cfg.Logging.MaxSizeMB)
	assert.Equal(t, 5, cfg.Logging.MaxBackups)
}

// TestConfigLoader_LoadBytes tests YAML parsing onto defaults. It covers
// partial overrides, complete source lists and strict decoding.
func TestConfigLoader_LoadBytes(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		errMsg  string
		verify  func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty document keeps defaults",
			yaml: "",
			verify: func(t *testing.T, cfg *Config) {
				assert.Len(t, cfg.Sources, 3)
				assert.Equal(t, "info", cfg.Logging.Level)
			},
		},
		{
			name: "partial override",
			yaml: `
server:
  addr: "127.0.0.1:8000"
  cors: false
logging:
  level: debug
  format: json
ensemble:
  source_timeout: 5s
  max_concurrency: 2
`,
			verify: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "127.0.0.1:8000", cfg.Server.Addr)
				assert.False(t, cfg.Server.CORS)
				assert.Equal(t, "/api", cfg.Server.APIPrefix, "unset fields keep defaults")
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, "json", cfg.Logging.Format)
				assert.Equal(t, 5*time.Second, cfg.Ensemble.SourceTimeout)
				assert.Equal(t, 2, cfg.Ensemble.MaxConcurrency)
				assert.Len(t, cfg.Sources, 3)
			},
		},
		{
			name: "sources replace defaults",
			yaml: `
sources:
  - name: BERT
    type: transformer
    timeout: 10s
    parameters:
      endpoint: "https://models.example.com/cefr"
      max_length: 256
      api_key_env: HF_TOKEN
    retry:
      max_attempts: 4
      base_delay: 200ms
      max_delay: 2s
    rate_limit:
      requests_per_second: 5
      burst: 2
    circuit_breaker:
      max_failures: 3
      cooldown: 15s
  - name: Grader
    type: llm_grader
    parameters:
      provider: anthropic
      temperature: 0.2
`,
			verify: func(t *testing.T, cfg *Config) {
				require.Len(t, cfg.Sources, 2)
				bert := cfg.Sources[0]
				assert.Equal(t, "transformer", bert.Type)
				assert.Equal(t, 10*time.Second, bert.Timeout)
				assert.Equal(t, 4, bert.Retry.MaxAttempts)
				assert.Equal(t, 200*time.Millisecond, bert.Retry.BaseDelay)
				assert.InDelta(t, 5.0, bert.RateLimit.RequestsPerSecond, 1e-9)
				assert.Equal(t, 3, bert.CircuitBreaker.MaxFailures)

				params, err := decodeParameters(bert.Parameters)
				require.NoError(t, err)
				assert.Equal(t, 256, params["max_length"])
				assert.Equal(t, "HF_TOKEN", params["api_key_env"])

				assert.Equal(t, "llm_grader", cfg.Sources[1].Type)
			},
		},
		{
			name:    "unknown field",
			yaml:    "server:\n  adress: \":80\"\n",
			wantErr: true,
			errMsg:  "field adress not found",
		},
		{
			name:    "malformed yaml",
			yaml:    "server: [unclosed",
			wantErr: true,
			errMsg:  "failed to parse YAML",
		},
		{
			name:    "bad duration",
			yaml:    "ensemble:\n  source_timeout: soon\n",
			wantErr: true,
			errMsg:  "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := newTestLoader(t, nil).LoadBytes([]byte(tt.yaml))
			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
				return
			}
			require.NoError(t, err)
			tt.verify(t, cfg)
		})
	}
}

// TestConfigLoader_Validation verifies struct, custom tag and semantic
// validation failures.
func TestConfigLoader_Validation(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name:   "invalid log level",
			yaml:   "logging:\n  level: loud\n",
			errMsg: "loglevel",
		},
		{
			name:   "invalid listen address",
			yaml:   "server:\n  addr: \"localhost\"\n",
			errMsg: "hostport",
		},
		{
			name:   "prefix without slash",
			yaml:   "server:\n  api_prefix: api\n",
			errMsg: "startswith",
		},
		{
			name:   "unknown source type",
			yaml:   "sources:\n  - name: x\n    type: svm\n",
			errMsg: "sourcetype",
		},
		{
			name:   "empty source list",
			yaml:   "sources: []\n",
			errMsg: "Sources",
		},
		{
			name: "duplicate source names",
			yaml: `
sources:
  - name: NB
    type: naive_bayes
    parameters: {model_path: a.json}
  - name: NB
    type: naive_bayes
    parameters: {model_path: b.json}
`,
			errMsg: `duplicate source name "NB"`,
		},
		{
			name:   "missing model path",
			yaml:   "sources:\n  - name: NB\n    type: naive_bayes\n",
			errMsg: "requires 'model_path' parameter",
		},
		{
			name: "edit distance out of range",
			yaml: `
sources:
  - name: D2V
    type: doc2vec
    parameters: {model_path: d.json, max_edit_distance: 7}
`,
			errMsg: "max_edit_distance must be between 0 and 3",
		},
		{
			name: "transformer endpoint scheme",
			yaml: `
sources:
  - name: BERT
    type: transformer
    parameters: {endpoint: "ftp://models/cefr"}
`,
			errMsg: "endpoint must use http or https",
		},
		{
			name: "unknown llm provider",
			yaml: `
sources:
  - name: G
    type: llm_grader
    parameters: {provider: cohere}
`,
			errMsg: "provider must be one of",
		},
		{
			name: "retry delays inverted",
			yaml: `
sources:
  - name: NB
    type: naive_bayes
    parameters: {model_path: a.json}
    retry: {max_attempts: 2, base_delay: 5s, max_delay: 1s}
`,
			errMsg: "exceeds max_delay",
		},
		{
			name: "breaker without cooldown",
			yaml: `
sources:
  - name: NB
    type: naive_bayes
    parameters: {model_path: a.json}
    circuit_breaker: {max_failures: 2}
`,
			errMsg: "positive cooldown",
		},
		{
			name:   "too many retries",
			yaml:   "sources:\n  - name: NB\n    type: naive_bayes\n    parameters: {model_path: a.json}\n    retry: {max_attempts: 11}\n",
			errMsg: "MaxAttempts",
		},
		{
			name:   "zero log size",
			yaml:   "logging:\n  max_size_mb: 0\n",
			errMsg: "MaxSizeMB",
		},
		{
			name:   "label space other than five levels",
			yaml:   "ensemble:\n  num_levels: 4\n",
			errMsg: "NumLevels",
		},
		{
			name:   "missing static dir",
			yaml:   "server:\n  static_dir: /nonexistent/cefr-frontend\n",
			errMsg: "StaticDir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader(t, nil).LoadBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validation failed")
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

// TestConfigLoader_EnvOverrides verifies PORT, LOG_LEVEL and
// MODEL_CACHE_DIR take precedence over file values.
func TestConfigLoader_EnvOverrides(t *testing.T) {
	l := newTestLoader(t, map[string]string{
		EnvPort:     "8081",
		EnvLogLevel: "debug",
		EnvCacheDir: "/models",
	})

	cfg, err := l.LoadBytes([]byte("server:\n  addr: \":9000\"\nlogging:\n  level: error\n"))
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/models", cfg.Artifacts.CacheDir)

	t.Run("invalid port", func(t *testing.T) {
		_, err := newTestLoader(t, map[string]string{EnvPort: "http"}).LoadFile("")
		assert.ErrorContains(t, err, "invalid PORT")
	})
}

// TestConfigLoader_LoadFile covers reading from disk and the empty path
// default.
func TestConfigLoader_LoadFile(t *testing.T) {
	l := newTestLoader(t, nil)

	cfg, err := l.LoadFile("")
	require.NoError(t, err)
	assert.Len(t, cfg.Sources, 3)

	path := filepath.Join(t.TempDir(), "cefr.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metrics:\n  enabled: false\n"), 0o600))
	cfg, err = l.LoadFile(path)
	require.NoError(t, err)
	assert.False(t, cfg.Metrics.Enabled)

	_, err = l.LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	cfg, err = l.LoadReader(strings.NewReader("artifacts:\n  cache_dir: /srv/models\n"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/models", cfg.Artifacts.CacheDir)
}

// TestValidateSourceParameters exercises the per-type parameter rules
// directly.
func TestValidateSourceParameters(t *testing.T) {
	node := func(t *testing.T, s string) yaml.Node {
		t.Helper()
		var doc yaml.Node
		require.NoError(t, yaml.Unmarshal([]byte(s), &doc))
		return *doc.Content[0]
	}

	tests := []struct {
		name       string
		sourceType string
		params     string
		wantErr    string
	}{
		{name: "naive bayes ok", sourceType: "naive_bayes", params: "model_path: nb.json"},
		{name: "naive bayes blank path", sourceType: "naive_bayes", params: "model_path: '  '", wantErr: "cannot be empty"},
		{name: "naive bayes non string", sourceType: "naive_bayes", params: "model_path: 3", wantErr: "must be a string"},
		{name: "doc2vec ok", sourceType: "doc2vec", params: "{model_path: d.json, max_edit_distance: 0}"},
		{name: "doc2vec float distance", sourceType: "doc2vec", params: "{model_path: d.json, max_edit_distance: 1.5}", wantErr: "must be an integer"},
		{name: "transformer ok", sourceType: "transformer", params: "endpoint: http://localhost:8080/predict"},
		{name: "transformer no host", sourceType: "transformer", params: "endpoint: 'http://'", wantErr: "host"},
		{name: "transformer bad length", sourceType: "transformer", params: "{endpoint: 'http://x', max_length: 0}", wantErr: "max_length"},
		{name: "grader ok", sourceType: "llm_grader", params: "{provider: google, temperature: 1}"},
		{name: "grader hot", sourceType: "llm_grader", params: "{provider: openai, temperature: 2.5}", wantErr: "temperature"},
		{name: "custom type accepts anything", sourceType: "custom", params: "{anything: [1, 2]}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSourceParameters(tt.sourceType, node(t, tt.params))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	t.Run("absent parameters", func(t *testing.T) {
		assert.NoError(t, ValidateSourceParameters("custom", yaml.Node{}))
		assert.ErrorContains(t, ValidateSourceParameters("naive_bayes", yaml.Node{}), "model_path")
	})
}
