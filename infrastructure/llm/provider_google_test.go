package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/ahrav/go-cefr/internal/ports"
)

func TestGoogleProvider_BuildConfig(t *testing.T) {
	p := &googleProvider{model: GoogleDefaultModel}

	t.Run("defaults", func(t *testing.T) {
		cfg := p.buildConfig(ParseRequestOptions(nil, p.model))
		assert.Nil(t, cfg.Temperature)
		assert.Nil(t, cfg.TopP)
		assert.Nil(t, cfg.SystemInstruction)
		assert.Equal(t, int32(DefaultMaxTokens), cfg.MaxOutputTokens)
		assert.Empty(t, cfg.ResponseMIMEType)
	})

	t.Run("all options", func(t *testing.T) {
		cfg := p.buildConfig(ParseRequestOptions(map[string]any{
			"system":      "grade",
			"temperature": 0.5,
			"top_p":       0.8,
			"max_tokens":  32,
			"json_mode":   true,
		}, p.model))

		require.NotNil(t, cfg.Temperature)
		assert.InDelta(t, 0.5, *cfg.Temperature, 1e-6)
		require.NotNil(t, cfg.TopP)
		assert.InDelta(t, 0.8, *cfg.TopP, 1e-6)
		assert.Equal(t, int32(32), cfg.MaxOutputTokens)
		require.NotNil(t, cfg.SystemInstruction)
		assert.Equal(t, "grade", cfg.SystemInstruction.Parts[0].Text)
		assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	})
}

func TestGoogleProvider_HandleError(t *testing.T) {
	p := &googleProvider{errorClassifier: &ErrorClassifier{Provider: "google"}}

	tests := []struct {
		name     string
		err      error
		wantType ErrorType
		sentinel error
	}{
		{name: "canceled", err: context.Canceled, wantType: ErrorTypeCanceled},
		{name: "deadline", err: context.DeadlineExceeded, wantType: ErrorTypeTimeout, sentinel: ports.ErrTimeout},
		{name: "rate limit", err: &googleapi.Error{Code: 429, Message: "quota"}, wantType: ErrorTypeRateLimit, sentinel: ports.ErrRateLimited},
		{name: "unavailable", err: &googleapi.Error{Code: 503}, wantType: ErrorTypeServerError, sentinel: ports.ErrServiceUnavailable},
		{name: "safety message", err: &googleapi.Error{Code: 400, Message: "Blocked by safety settings"}, wantType: ErrorTypeContentPolicy},
		{
			name:     "safety reason",
			err:      &googleapi.Error{Code: 400, Errors: []googleapi.ErrorItem{{Reason: "SAFETY"}}},
			wantType: ErrorTypeContentPolicy,
		},
		{name: "unknown", err: errors.New("weird"), wantType: ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.handleError(tt.err)
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantType, pe.Type)
			assert.Equal(t, "google", pe.Provider)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestNewGoogleProvider(t *testing.T) {
	_, err := newGoogleProvider(ClientConfig{})
	assert.ErrorIs(t, err, ErrEmptyAPIKey)

	p, err := newGoogleProvider(ClientConfig{APIKey: "test-key", Model: "gemini-custom"})
	require.NoError(t, err)
	assert.Equal(t, "gemini-custom", p.GetModel())
}
