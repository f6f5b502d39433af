// Package scan orchestrates section detection and value extraction:
// normalize a document, call the vision backend page by page, parse the
// replies and reconcile them into one value per requested section.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/magicscan/internal/llmcall"
	"github.com/jackzampolin/magicscan/internal/normalize"
	"github.com/jackzampolin/magicscan/internal/prompts"
	"github.com/jackzampolin/magicscan/internal/providers"
	"github.com/jackzampolin/magicscan/internal/types"
)

var (
	// ErrNoSections is returned when extraction is requested for an empty section set.
	ErrNoSections = errors.New("no sections requested")
	// ErrCancelled is the reason reported for a document interrupted by cancellation.
	ErrCancelled = errors.New("cancelled")
)

// Normalizer turns a source into page images. *normalize.Normalizer implements it.
type Normalizer interface {
	Normalize(ctx context.Context, src normalize.Source, dpi int) (*types.Document, error)
}

// BackendSource resolves the backend for a config snapshot.
// *providers.Registry implements it.
type BackendSource interface {
	Backend(cfg types.BackendConfig) (providers.VisionBackend, error)
}

// Fixed returns a BackendSource that always yields b.
func Fixed(b providers.VisionBackend) BackendSource {
	return fixed{b}
}

type fixed struct{ b providers.VisionBackend }

func (f fixed) Backend(types.BackendConfig) (providers.VisionBackend, error) { return f.b, nil }

// Options configures a Scanner.
type Options struct {
	Backends   BackendSource
	Normalizer Normalizer
	Prompts    *prompts.Registry
	Recorder   *llmcall.Recorder
	Logger     *slog.Logger

	// OnTransition, when set, is called for every document state change.
	OnTransition func(document string, from, to State)
}

// Scanner runs detection and extraction against a vision backend.
// It is safe for concurrent use; all per-call settings arrive as a
// types.BackendConfig value.
type Scanner struct {
	backends     BackendSource
	normalizer   Normalizer
	prompts      *prompts.Registry
	recorder     *llmcall.Recorder
	logger       *slog.Logger
	onTransition func(string, State, State)
}

// New creates a Scanner.
func New(opts Options) *Scanner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Normalizer == nil {
		opts.Normalizer = normalize.New(normalize.Options{Logger: opts.Logger})
	}
	if opts.Prompts == nil {
		opts.Prompts = prompts.DefaultRegistry(opts.Logger)
	}

	for _, p := range opts.Prompts.All() {
		opts.Logger.Debug("prompt loaded", "key", p.Key, "hash", shortHash(p.Hash))
	}

	return &Scanner{
		backends:     opts.Backends,
		normalizer:   opts.Normalizer,
		prompts:      opts.Prompts,
		recorder:     opts.Recorder,
		logger:       opts.Logger,
		onTransition: opts.OnTransition,
	}
}

// Prompts returns the registry the scanner hashes prompts with.
func (s *Scanner) Prompts() *prompts.Registry {
	return s.prompts
}

func (s *Scanner) backend(cfg types.BackendConfig) (providers.VisionBackend, error) {
	if s.backends == nil {
		return nil, errors.New("no backend configured")
	}
	return s.backends.Backend(cfg)
}

// callInfo identifies one model call for logging and recording.
type callInfo struct {
	doc       *types.Document
	page      int
	promptKey string
}

// generate runs one model call and logs its timing. Failed calls are recorded here.
func (s *Scanner) generate(ctx context.Context, backend providers.VisionBackend, cfg types.BackendConfig, page types.Page, prompt string, info callInfo) (*providers.GenerateResult, error) {
	req := &providers.GenerateRequest{
		Image:     page.Image,
		MIMEType:  page.MIMEType,
		Prompt:    prompt,
		Timeout:   cfg.Timeout,
		RequestID: uuid.New().String(),
	}

	start := time.Now()
	res, err := backend.Generate(ctx, req)
	hash := s.prompts.Hash(info.promptKey)

	attrs := []any{
		"document", info.doc.Name,
		"page", info.page,
		"prompt", info.promptKey,
		"prompt_hash", shortHash(hash),
		"backend", backend.Name(),
		"duration", time.Since(start),
	}
	if res != nil {
		attrs = append(attrs, "prompt_tokens", res.PromptTokens, "completion_tokens", res.CompletionTokens, "attempts", res.Attempts)
	}
	if err != nil {
		s.logger.Warn("model call failed", append(attrs, "error", err)...)
	} else {
		s.logger.Debug("model call", attrs...)
	}

	if err != nil {
		s.record(res, err, info, 0)
		return nil, err
	}
	return res, nil
}

// record stores a finished call. Successful calls are recorded by the caller
// once the reply has been parsed so the warning count is known.
func (s *Scanner) record(res *providers.GenerateResult, err error, info callInfo, warnings int) {
	s.recorder.Record(res, err, llmcall.RecordOptions{
		Document:      info.doc.Name,
		DocumentID:    info.doc.ID,
		Page:          info.page,
		PromptKey:     info.promptKey,
		PromptHash:    s.prompts.Hash(info.promptKey),
		ParseWarnings: warnings,
	})
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
