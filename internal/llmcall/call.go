// Package llmcall provides model call recording and querying for traceability.
// Every vision call is recorded with its prompt key, prompt hash, response and timings.
package llmcall

import (
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/magicscan/internal/providers"
)

// MaxResponseBytes caps the response text kept per call.
const MaxResponseBytes = 16 << 10

// Call represents a recorded model call.
type Call struct {
	// Unique identifier
	ID string `json:"id"`

	// Timing
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int       `json:"latency_ms"`

	// Context references
	Document   string `json:"document,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Page       int    `json:"page,omitempty"`

	// Prompt traceability
	PromptKey  string `json:"prompt_key"`
	PromptHash string `json:"prompt_hash,omitempty"` // hash of the template version used

	// Model info
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Attempts int    `json:"attempts,omitempty"`

	// Token usage
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Response
	Response      string `json:"response"`
	ParseWarnings int    `json:"parse_warnings"`

	// Status
	Success   bool   `json:"success"`
	ErrorType string `json:"error_type,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RecordOptions provides context for recording a call.
type RecordOptions struct {
	Document   string
	DocumentID string
	Page       int

	// Prompt identification (required for traceability)
	PromptKey  string
	PromptHash string

	ParseWarnings int
}

// FromResult creates a Call from a backend result. err is the error Generate
// returned, if any; result may be nil when the call never reached the backend.
func FromResult(result *providers.GenerateResult, err error, opts RecordOptions) *Call {
	call := &Call{
		ID:            uuid.New().String(),
		Timestamp:     time.Now(),
		Document:      opts.Document,
		DocumentID:    opts.DocumentID,
		Page:          opts.Page,
		PromptKey:     opts.PromptKey,
		PromptHash:    opts.PromptHash,
		ParseWarnings: opts.ParseWarnings,
		Success:       err == nil,
	}

	if result != nil {
		call.LatencyMs = int(result.ExecutionTime.Milliseconds())
		call.Provider = result.Provider
		call.Model = result.Model
		call.Attempts = result.Attempts
		call.InputTokens = result.PromptTokens
		call.OutputTokens = result.CompletionTokens
		call.Response = truncate(result.Text, MaxResponseBytes)
		call.ErrorType = result.ErrorType
	}

	if err != nil {
		call.Error = err.Error()
	}
	return call
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary.
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
