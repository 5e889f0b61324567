// Package llm provides a small provider-neutral client for chat completion
// APIs. It backs the LLM grader source and supports OpenAI, Anthropic and
// Google Gemini through their official SDKs.
//
// Basic usage:
//
//	client, err := llm.NewClient("openai", llm.ClientConfig{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	    Model:  "gpt-4o-mini",
//	})
//	response, err := client.Complete(ctx, prompt, map[string]any{"json_mode": true})
package llm

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ahrav/go-cefr/internal/ports"
)

// CoreLLM is the contract each provider implements.
type CoreLLM interface {
	// DoRequest sends prompt to the provider and returns the response text
	// with input and output token counts.
	DoRequest(ctx context.Context, prompt string, opts map[string]any) (response string, tokensIn, tokensOut int, err error)

	// GetModel returns the configured model name.
	GetModel() string
}

// ClientConfig configures a provider.
type ClientConfig struct {
	// APIKey authenticates requests to the provider.
	APIKey string

	// Model names the model to call. Each provider has a default.
	Model string

	// BaseURL overrides the provider endpoint. Leave empty for the default.
	BaseURL string

	// Timeout bounds a single HTTP exchange. Zero keeps the SDK default.
	Timeout time.Duration
}

// Client implements ports.LLMClient on top of a CoreLLM.
type Client struct {
	core CoreLLM
}

var _ ports.LLMClient = (*Client)(nil)

// NewClient creates a client for the named provider.
func NewClient(providerType string, config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	factory, ok := getProviderFactory(providerType)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerType)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	return &Client{core: core}, nil
}

// NewClientFromCore wraps an existing provider. It is mainly useful in tests.
func NewClientFromCore(core CoreLLM) *Client {
	return &Client{core: core}
}

// Complete sends prompt to the model and returns the response text.
func (c *Client) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	response, _, _, err := c.CompleteWithUsage(ctx, prompt, options)
	return response, err
}

// CompleteWithUsage is Complete with the token counts reported by the
// provider.
func (c *Client) CompleteWithUsage(ctx context.Context, prompt string, options map[string]any) (string, int, int, error) {
	return c.core.DoRequest(ctx, prompt, options)
}

// GetModel returns the model name of the underlying provider.
func (c *Client) GetModel() string { return c.core.GetModel() }

// ProviderFactory creates a CoreLLM from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var (
	factoriesMu       sync.RWMutex
	providerFactories = map[string]ProviderFactory{}
)

// RegisterProviderFactory makes a provider available to NewClient.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	providerFactories[providerType] = factory
}

func getProviderFactory(providerType string) (ProviderFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := providerFactories[providerType]
	return f, ok
}

// Providers returns the registered provider names in sorted order.
func Providers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(providerFactories))
	for name := range providerFactories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// estimateTokens approximates a token count when a provider omits usage,
// assuming about four characters per token.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func tokenCount(reported int64, text string) int {
	if reported > 0 {
		return int(reported)
	}
	return estimateTokens(text)
}
