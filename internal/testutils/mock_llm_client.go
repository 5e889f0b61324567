package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ahrav/go-cefr/internal/ports"
)

// MockLLMClient implements ports.LLMClient with deterministic responses
// chosen by substring match on the prompt.
type MockLLMClient struct {
	model string

	mu        sync.Mutex
	responses []MockResponse
	calls     int
	lastOpts  map[string]any
}

// MockResponse pairs a prompt pattern with the text returned for it.
type MockResponse struct {
	// Pattern is matched case-insensitively against the prompt. The empty
	// pattern matches everything and acts as the default.
	Pattern string

	// Response is the text returned for matching prompts.
	Response string

	// Err, when set, is returned instead of Response.
	Err error
}

var _ ports.LLMClient = (*MockLLMClient)(nil)

// NewMockLLMClient creates a client whose default answer is a uniform CEFR
// distribution in the JSON shape the LLM grader requests.
func NewMockLLMClient(model string) *MockLLMClient {
	c := &MockLLMClient{model: model}
	c.AddResponse(MockResponse{
		Pattern:  "",
		Response: `{"level":"B1","probabilities":[0.2,0.2,0.2,0.2,0.2]}`,
	})
	return c
}

// AddResponse registers a response. Later registrations take precedence over
// earlier ones with overlapping patterns.
func (m *MockLLMClient) AddResponse(r MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append([]MockResponse{r}, m.responses...)
}

// Complete implements ports.LLMClient.
func (m *MockLLMClient) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastOpts = options

	lower := strings.ToLower(prompt)
	for _, r := range m.responses {
		if r.Pattern == "" || strings.Contains(lower, strings.ToLower(r.Pattern)) {
			if r.Err != nil {
				return "", r.Err
			}
			return r.Response, nil
		}
	}
	return "", fmt.Errorf("no mock response for prompt")
}

// GetModel implements ports.LLMClient.
func (m *MockLLMClient) GetModel() string { return m.model }

// Calls returns how many completions were requested.
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastOptions returns the options passed to the most recent completion.
func (m *MockLLMClient) LastOptions() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOpts
}
