// Package llmgrader implements an optional prediction source that asks a
// chat model to grade a text and return a probability for each CEFR level.
package llmgrader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-cefr/infrastructure/artifacts"
	"github.com/ahrav/go-cefr/infrastructure/inference"
	"github.com/ahrav/go-cefr/infrastructure/llm"
	"github.com/ahrav/go-cefr/internal/domain"
	"github.com/ahrav/go-cefr/internal/ports"
)

// Type is the source type name used in configuration.
const Type = "llm_grader"

var validate = validator.New()

// defaultKeyEnv names the conventional API key variable per provider.
var defaultKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"google":    "GOOGLE_API_KEY",
}

// Config holds the parameters of an LLM grader source.
type Config struct {
	Provider  string `yaml:"provider" json:"provider" validate:"required,oneof=openai anthropic google"`
	Model     string `yaml:"model" json:"model"`
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	BaseURL   string `yaml:"base_url" json:"base_url" validate:"omitempty,url"`

	Temperature float64       `yaml:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens" validate:"gt=0"`
	HTTPTimeout time.Duration `yaml:"http_timeout" json:"http_timeout" validate:"gte=0"`
}

// DefaultConfig returns deterministic grading settings for OpenAI.
func DefaultConfig() Config {
	return Config{
		Provider:    "openai",
		Temperature: 0,
		MaxTokens:   256,
		HTTPTimeout: 60 * time.Second,
	}
}

// ResponseSchema is the JSON shape the grader requires from the model.
var ResponseSchema = &artifacts.Schema{
	Name: "llm-grader-response-v1",
	Definition: `{
		"type": "object",
		"required": ["probabilities"],
		"properties": {
			"level": {"type": "string"},
			"probabilities": {
				"type": "array",
				"minItems": 5,
				"maxItems": 5,
				"items": {"type": "number", "minimum": 0}
			}
		}
	}`,
}

const systemPrompt = `You are an expert examiner for the Common European Framework of Reference for Languages (CEFR).
You grade the reading difficulty of English texts.`

// Grader is an inference.Model backed by an LLM.
type Grader struct {
	client ports.LLMClient
	cfg    Config
}

var _ inference.Model = (*Grader)(nil)

// New creates a Grader around an existing client.
func New(client ports.LLMClient, cfg Config) (*Grader, error) {
	if client == nil {
		return nil, errors.New("llm client is required")
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &Grader{client: client, cfg: cfg}, nil
}

// NewFromConfig builds the provider client described by params and wraps it
// in a Grader.
func NewFromConfig(params map[string]any) (*Grader, error) {
	data, err := yaml.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = defaultKeyEnv[cfg.Provider]
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, ports.NewConfigError(keyEnv, ports.ErrConfigNotFound)
	}

	client, err := llm.NewClient(cfg.Provider, llm.ClientConfig{
		APIKey:  apiKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, err
	}
	return New(client, cfg)
}

// ModelID returns provider/model.
func (g *Grader) ModelID() string {
	return g.cfg.Provider + "/" + g.client.GetModel()
}

// Infer implements inference.Model.
func (g *Grader) Infer(ctx context.Context, text string) (domain.Distribution, error) {
	resp, err := g.client.Complete(ctx, BuildPrompt(text), map[string]any{
		"system":      systemPrompt,
		"temperature": g.cfg.Temperature,
		"max_tokens":  g.cfg.MaxTokens,
		"json_mode":   true,
	})
	if err != nil {
		return nil, err
	}

	dist, err := ParseResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrInvalidResponse, err)
	}
	return dist, nil
}

// BuildPrompt renders the grading instructions for text.
func BuildPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Estimate the CEFR level of the text below. Use exactly these five classes, in this order: ")
	for i := range domain.NumLevels {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(domain.Level(i).String())
	}
	b.WriteString(" (C covers both C1 and C2).\n\n")
	b.WriteString("Reply with a single JSON object and nothing else, for example:\n")
	b.WriteString(`{"level": "B1", "probabilities": [0.05, 0.15, 0.5, 0.25, 0.05]}`)
	b.WriteString("\n\nThe probabilities must be non-negative and sum to 1.\n\n")
	b.WriteString("Text:\n<<<\n")
	b.WriteString(text)
	b.WriteString("\n>>>")
	return b.String()
}

// ParseResponse extracts the JSON object from a model reply, checks it
// against ResponseSchema and renormalizes the probabilities.
func ParseResponse(resp string) (domain.Distribution, error) {
	raw, err := extractObject(resp)
	if err != nil {
		return nil, err
	}
	if err := ResponseSchema.Validate([]byte(raw)); err != nil {
		return nil, err
	}

	probs := gjson.Get(raw, "probabilities").Array()
	weights := make([]float64, len(probs))
	for i, p := range probs {
		weights[i] = p.Float()
	}
	return domain.Normalize(weights)
}

// extractObject returns the outermost JSON object in s, tolerating code
// fences and surrounding prose.
func extractObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", errors.New("no JSON object in response")
	}
	obj := s[start : end+1]
	if !gjson.Valid(obj) {
		return "", errors.New("malformed JSON object in response")
	}
	return obj, nil
}
