// Package providers implements the vision-model backends used for page
// analysis: a remote chat-completions API and a locally hosted model.
package providers

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBackendUnavailable is returned when a backend cannot be reached after retries.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrTimeout is returned when a single generate call exceeds its timeout.
	ErrTimeout = errors.New("model call timed out")
	// ErrRequestRejected is returned for non-retryable API errors such as 400 or 401.
	ErrRequestRejected = errors.New("request rejected by backend")
)

// DefaultTimeout bounds one generate call when the caller sets none.
const DefaultTimeout = 60 * time.Second

// DefaultMaxTokens is the completion budget requested for every call.
const DefaultMaxTokens = 16384

// DefaultTemperature keeps generations close to deterministic.
const DefaultTemperature = 0.1

// VisionBackend generates text from a page image and a prompt.
type VisionBackend interface {
	// Name returns the backend identifier (e.g., "api", "local").
	Name() string

	// Generate runs one image+prompt call.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

	// MaxConcurrency is the number of Generate calls the backend accepts at once.
	MaxConcurrency() int

	// Close releases resources such as a loaded local model.
	Close(ctx context.Context) error
}

// HealthChecker is implemented by backends that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// GenerateRequest is a single vision call.
type GenerateRequest struct {
	Image    []byte
	MIMEType string // defaults to image/png
	Prompt   string

	// Timeout bounds the whole call including retries (uses DefaultTimeout if zero).
	Timeout time.Duration

	// Request tracking
	RequestID string
}

// GenerateResult is the response from a backend.
type GenerateResult struct {
	Text string `json:"text"`

	// Token counts
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`

	ExecutionTime time.Duration `json:"execution_time"`

	// Provider info
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// Request tracking
	RequestID string `json:"request_id"`
	Attempts  int    `json:"attempts"`

	// Success/error
	Success      bool   `json:"success"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (r *GenerateResult) fail(errType string, err error, start time.Time) {
	r.Success = false
	r.ErrorType = errType
	r.ErrorMessage = err.Error()
	r.ExecutionTime = time.Since(start)
}

// withCallTimeout derives the per-call context.
func withCallTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// classifyContextErr maps a call context ending into the backend error taxonomy.
// parent is the caller's context, call the derived per-call context.
// Returns nil when neither context has ended.
func classifyContextErr(parent, call context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return nil
}

func mimeOrDefault(m string) string {
	if m == "" {
		return "image/png"
	}
	return m
}
