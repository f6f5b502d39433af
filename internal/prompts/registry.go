package prompts

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
)

// validKeyPattern matches valid prompt keys (alphanumeric with dots, underscores).
var validKeyPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._]*$`)

// Registry holds the embedded prompts by key.
type Registry struct {
	mu      sync.RWMutex
	prompts map[string]EmbeddedPrompt
	logger  *slog.Logger
}

// NewRegistry creates an empty prompt registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		prompts: make(map[string]EmbeddedPrompt),
		logger:  logger,
	}
}

// DefaultRegistry returns a registry holding the detection, extraction and routing prompts.
func DefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	RegisterPrompts(r)
	return r
}

// RegisterPrompts registers the embedded prompts with r.
func RegisterPrompts(r *Registry) {
	r.Register(EmbeddedPrompt{
		Key:         DetectionKey,
		Kind:        KindDetection,
		Text:        detectionPromptTmpl,
		Description: "Section detection - lists section titles visible on a template page",
	})
	r.Register(EmbeddedPrompt{
		Key:         ExtractionKey,
		Kind:        KindExtraction,
		Text:        extractionPromptTmpl,
		Description: "Value extraction - reads values for the requested sections",
	})
	r.Register(EmbeddedPrompt{
		Key:         RoutingKey,
		Kind:        KindRouting,
		Text:        routingPromptTmpl,
		Description: "Page routing - true/false relevance check against include/exclude filters",
	})
}

// Register adds or replaces a prompt. Invalid keys are logged and ignored.
func (r *Registry) Register(prompt EmbeddedPrompt) {
	if !validKeyPattern.MatchString(prompt.Key) {
		r.logger.Warn("ignoring prompt with invalid key", "key", prompt.Key)
		return
	}

	// Compute hash if not provided
	if prompt.Hash == "" {
		prompt.Hash = HashText(prompt.Text)
	}

	// Extract variables if not provided
	if prompt.Variables == nil {
		prompt.Variables = ExtractVariables(prompt.Text)
	}

	r.mu.Lock()
	r.prompts[prompt.Key] = prompt
	r.mu.Unlock()

	r.logger.Debug("registered embedded prompt", "key", prompt.Key, "vars", prompt.Variables)
}

// Get returns the prompt registered under key.
func (r *Registry) Get(key string) (EmbeddedPrompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prompts[key]
	if !ok {
		return EmbeddedPrompt{}, fmt.Errorf("prompt not found: %s", key)
	}
	return p, nil
}

// Hash returns the hash of the prompt under key, or "" if unknown.
func (r *Registry) Hash(key string) string {
	p, err := r.Get(key)
	if err != nil {
		return ""
	}
	return p.Hash
}

// All returns every registered prompt sorted by key.
func (r *Registry) All() []EmbeddedPrompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]EmbeddedPrompt, 0, len(r.prompts))
	for _, p := range r.prompts {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}
