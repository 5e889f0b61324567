package ports

import (
	"errors"
	"fmt"
	"time"
)

// Common infrastructure errors that can occur while talking to model
// backends or loading model artifacts.
var (
	// ErrRateLimited indicates that a backend or local limiter rejected the
	// request.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that a model backend is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidResponse indicates that a model returned output that is not a
	// usable prediction.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrAuthenticationFailed indicates that authentication with a model
	// backend failed.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrArtifactCorrupted indicates that a model artifact failed to decode or
	// validate.
	ErrArtifactCorrupted = errors.New("artifact corrupted")

	// ErrConfigNotFound indicates that required configuration is missing.
	ErrConfigNotFound = errors.New("configuration not found")
)

// ModelError represents a failure reported by a model backend.
// It includes the model, the operation and any retry hint the backend gave.
type ModelError struct {
	// Model identifies the model or endpoint that failed.
	Model string

	// Operation is the name of the operation that failed.
	Operation string

	// Err is the underlying error that occurred.
	Err error

	// RetryAfter indicates how long to wait before retrying, if known.
	RetryAfter *time.Duration
}

// Error implements the error interface for ModelError.
func (e *ModelError) Error() string {
	msg := fmt.Sprintf("model error: model=%s, operation=%s, err=%v", e.Model, e.Operation, e.Err)
	if e.RetryAfter != nil {
		msg += fmt.Sprintf(", retry_after=%v", *e.RetryAfter)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ModelError) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is temporary and the operation
// can be retried.
func (e *ModelError) IsRetryable() bool {
	return errors.Is(e.Err, ErrRateLimited) ||
		errors.Is(e.Err, ErrServiceUnavailable) ||
		errors.Is(e.Err, ErrTimeout)
}

// NewModelError creates a new ModelError with the given details.
func NewModelError(model, operation string, err error) *ModelError {
	return &ModelError{
		Model:     model,
		Operation: operation,
		Err:       err,
	}
}

// ArtifactError represents a failure loading a model artifact from disk.
type ArtifactError struct {
	// Path is the artifact file involved.
	Path string

	// Operation is the loading step that failed (read, decode, validate).
	Operation string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for ArtifactError.
func (e *ArtifactError) Error() string {
	return fmt.Sprintf("artifact error: operation=%s, path=%s, err=%v", e.Operation, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ArtifactError) Unwrap() error { return e.Err }

// NewArtifactError creates a new ArtifactError with the given details.
func NewArtifactError(path, operation string, err error) *ArtifactError {
	return &ArtifactError{
		Path:      path,
		Operation: operation,
		Err:       err,
	}
}

// MetricsError represents an error from metrics collection operations.
type MetricsError struct {
	// Metric is the name of the metric that was being collected when the
	// error occurred.
	Metric string

	// Operation is the name of the metrics operation that failed.
	Operation string

	// Err is the underlying error that caused the metrics operation to fail.
	Err error
}

// Error implements the error interface for MetricsError.
func (e *MetricsError) Error() string {
	return fmt.Sprintf("metrics error: operation=%s, metric=%s, err=%v", e.Operation, e.Metric, e.Err)
}

// Unwrap returns the underlying error.
func (e *MetricsError) Unwrap() error { return e.Err }

// NewMetricsError creates a new MetricsError with the given details.
func NewMetricsError(metric, operation string, err error) *MetricsError {
	return &MetricsError{
		Metric:    metric,
		Operation: operation,
		Err:       err,
	}
}

// ConfigError represents an error from configuration operations.
type ConfigError struct {
	// ConfigKey is the configuration key that was involved in the failed
	// operation.
	ConfigKey string

	// Err is the underlying error that caused the configuration operation
	// to fail.
	Err error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: key=%s, err=%v", e.ConfigKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new ConfigError with the given details.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{
		ConfigKey: key,
		Err:       err,
	}
}
