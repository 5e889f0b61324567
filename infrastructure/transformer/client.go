// Package transformer implements the fine-tuned transformer CEFR classifier
// as a client of a text-classification inference endpoint.
package transformer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-cefr/infrastructure/inference"
	"github.com/ahrav/go-cefr/internal/domain"
	"github.com/ahrav/go-cefr/internal/ports"
)

// Type is the source type name used in configuration.
const Type = "transformer"

// maxResponseBytes caps how much of an endpoint response is read.
const maxResponseBytes = 1 << 20

var validate = validator.New()

// Config holds the parameters of a transformer source.
type Config struct {
	// Endpoint receives the classification request.
	Endpoint string `yaml:"endpoint" json:"endpoint" validate:"required,url"`

	// APIKeyEnv names the environment variable holding a bearer token.
	// Empty means no Authorization header is sent.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`

	// MaxLength is the truncation length in tokens passed to the endpoint.
	MaxLength int `yaml:"max_length" json:"max_length" validate:"gt=0,lte=8192"`

	// HTTPTimeout bounds a single HTTP exchange.
	HTTPTimeout time.Duration `yaml:"http_timeout" json:"http_timeout" validate:"gte=0"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// DefaultConfig returns defaults matching a BERT-sized model served on
// localhost.
func DefaultConfig() Config {
	return Config{
		Endpoint:    "http://localhost:8080/predict",
		MaxLength:   512,
		HTTPTimeout: 60 * time.Second,
	}
}

// Client scores text by calling a remote classifier. It is safe for
// concurrent use.
type Client struct {
	cfg        Config
	apiKey     string
	httpClient *http.Client
}

var _ inference.Model = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// New creates a Client. When cfg.APIKeyEnv is set the variable must be
// non-empty.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
	if cfg.APIKeyEnv != "" {
		c.apiKey = os.Getenv(cfg.APIKeyEnv)
		if c.apiKey == "" {
			return nil, ports.NewConfigError(cfg.APIKeyEnv, ports.ErrConfigNotFound)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromConfig creates a Client from a raw parameter map.
func NewFromConfig(params map[string]any, opts ...Option) (*Client, error) {
	data, err := yaml.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return New(cfg, opts...)
}

// ModelID returns the endpoint URL.
func (c *Client) ModelID() string { return c.cfg.Endpoint }

type request struct {
	Inputs     string            `json:"inputs"`
	Parameters requestParameters `json:"parameters"`
}

type requestParameters struct {
	// TopK is always null so the endpoint returns every class.
	TopK       *int `json:"top_k"`
	Truncation bool `json:"truncation"`
	MaxLength  int  `json:"max_length"`
}

// Infer implements inference.Model.
func (c *Client) Infer(ctx context.Context, text string) (domain.Distribution, error) {
	body, err := json.Marshal(request{
		Inputs: text,
		Parameters: requestParameters{
			Truncation: true,
			MaxLength:  c.cfg.MaxLength,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, c.modelError(fmt.Errorf("%w: %w", ports.ErrServiceUnavailable, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.modelError(fmt.Errorf("%w: reading response: %w", ports.ErrServiceUnavailable, err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, raw)
	}

	dist, err := ParseResponse(raw)
	if err != nil {
		return nil, c.modelError(fmt.Errorf("%w: %w", ports.ErrInvalidResponse, err))
	}
	return dist, nil
}

func (c *Client) modelError(err error) *ports.ModelError {
	return ports.NewModelError(c.cfg.Endpoint, "infer", err)
}

func (c *Client) statusError(resp *http.Response, body []byte) error {
	msg := gjson.GetBytes(body, "error").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	detail := fmt.Sprintf("status %d: %s", resp.StatusCode, msg)

	var sentinel error
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		sentinel = ports.ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		sentinel = ports.ErrAuthenticationFailed
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		sentinel = ports.ErrTimeout
	case resp.StatusCode >= 500:
		sentinel = ports.ErrServiceUnavailable
	default:
		sentinel = ports.ErrInvalidResponse
	}

	me := c.modelError(fmt.Errorf("%w: %s", sentinel, detail))
	if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), body); ok {
		me.RetryAfter = &d
	}
	return me
}

// parseRetryAfter reads the Retry-After header in seconds, falling back to
// the estimated_time field model servers report while loading.
func parseRetryAfter(header string, body []byte) (time.Duration, bool) {
	if header != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second, true
		}
		if t, err := http.ParseTime(header); err == nil {
			if d := time.Until(t); d > 0 {
				return d, true
			}
		}
	}
	if est := gjson.GetBytes(body, "estimated_time"); est.Exists() && est.Float() > 0 {
		return time.Duration(est.Float() * float64(time.Second)), true
	}
	return 0, false
}

// ParseResponse converts an endpoint payload into a Distribution over the
// CEFR levels. Accepted shapes are a list of {label, score} objects
// (optionally nested in a one element list), an object with "logits", and
// an object with "probabilities". Scores for labels that map to the same
// level are summed.
func ParseResponse(raw []byte) (domain.Distribution, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("response is not valid JSON")
	}
	root := gjson.ParseBytes(raw)

	switch {
	case root.IsArray():
		items := root.Array()
		if len(items) == 1 && items[0].IsArray() {
			items = items[0].Array()
		}
		return fromScores(items)
	case root.Get("logits").Exists():
		logits, err := numbers(unwrapBatch(root.Get("logits")))
		if err != nil {
			return nil, fmt.Errorf("logits: %w", err)
		}
		if len(logits) != domain.NumLevels {
			return nil, fmt.Errorf("%w: got %d classes, want %d", domain.ErrDistributionShape, len(logits), domain.NumLevels)
		}
		return domain.Softmax(logits)
	case root.Get("probabilities").Exists():
		probs, err := numbers(unwrapBatch(root.Get("probabilities")))
		if err != nil {
			return nil, fmt.Errorf("probabilities: %w", err)
		}
		if len(probs) != domain.NumLevels {
			return nil, fmt.Errorf("%w: got %d classes, want %d", domain.ErrDistributionShape, len(probs), domain.NumLevels)
		}
		return domain.Normalize(probs)
	case root.Get("error").Exists():
		return nil, fmt.Errorf("endpoint error: %s", root.Get("error").String())
	default:
		return nil, errors.New("unrecognized response shape")
	}
}

func fromScores(items []gjson.Result) (domain.Distribution, error) {
	if len(items) == 0 {
		return nil, errors.New("empty score list")
	}

	scores := make([]float64, domain.NumLevels)
	for i, item := range items {
		label, score := item.Get("label"), item.Get("score")
		if !label.Exists() || score.Type != gjson.Number {
			return nil, fmt.Errorf("score %d: want {label, score}, got %s", i, item.Raw)
		}
		lvl, err := domain.ParseLevel(label.String())
		if err != nil {
			return nil, fmt.Errorf("score %d: %w", i, err)
		}
		scores[lvl] += score.Float()
	}
	return domain.Normalize(scores)
}

// unwrapBatch strips a batch dimension of one.
func unwrapBatch(r gjson.Result) gjson.Result {
	if arr := r.Array(); len(arr) == 1 && arr[0].IsArray() {
		return arr[0]
	}
	return r
}

func numbers(r gjson.Result) ([]float64, error) {
	if !r.IsArray() {
		return nil, fmt.Errorf("want array, got %s", r.Type)
	}
	arr := r.Array()
	out := make([]float64, len(arr))
	for i, v := range arr {
		if v.Type != gjson.Number {
			return nil, fmt.Errorf("element %d is %s", i, v.Type)
		}
		out[i] = v.Float()
	}
	return out, nil
}
