package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	LocalBackendName = "local"

	// DefaultLocalModel is the model served by the local runtime.
	DefaultLocalModel = "mistral-small3.1"

	// DefaultLoadTimeout bounds a model load: image pull, container start
	// and model pull. It is separate from the per-call timeout.
	DefaultLoadTimeout = 15 * time.Minute
)

// Runtime hosts a model behind an OpenAI-compatible HTTP endpoint.
type Runtime interface {
	// Start loads the model and returns the base URL of its /v1 API.
	Start(ctx context.Context) (baseURL string, err error)
	// Stop unloads the model and frees its resources.
	Stop(ctx context.Context) error
	// Name identifies the runtime in logs and status output.
	Name() string
}

// LocalConfig holds configuration for the local backend.
type LocalConfig struct {
	Runtime     Runtime
	Model       string
	Timeout     time.Duration
	LoadTimeout time.Duration // Lazy model load (DefaultLoadTimeout if zero)
	MaxRetries  int           // SDK-level transport retries
	HTTPClient  *http.Client  // Optional (tests)
	Logger      *slog.Logger
}

// LocalBackend runs calls against a model that is loaded on first use and
// stays resident until Close. Calls are serialized: the model handles one
// generation at a time.
type LocalBackend struct {
	runtime     Runtime
	model       string
	timeout     time.Duration
	loadTimeout time.Duration
	maxRetries  int
	httpClient  *http.Client
	logger      *slog.Logger

	// mu serializes Generate and guards the loaded client.
	mu     sync.Mutex
	client *openai.Client
	loads  int
}

// NewLocalBackend creates a local backend. The model is not loaded until the first Generate.
func NewLocalBackend(cfg LocalConfig) (*LocalBackend, error) {
	if cfg.Runtime == nil {
		return nil, errors.New("local backend requires a runtime")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultLocalModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LocalBackend{
		runtime:     cfg.Runtime,
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		loadTimeout: cfg.LoadTimeout,
		maxRetries:  cfg.MaxRetries,
		httpClient:  cfg.HTTPClient,
		logger:      cfg.Logger,
	}, nil
}

// Name returns the backend identifier.
func (b *LocalBackend) Name() string { return LocalBackendName }

// MaxConcurrency is always 1; the resident model is not shared between calls.
func (b *LocalBackend) MaxConcurrency() int { return 1 }

// Model returns the served model name.
func (b *LocalBackend) Model() string { return b.model }

// Loaded reports whether the model is currently resident.
func (b *LocalBackend) Loaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client != nil
}

// Loads returns how many times the model has been loaded.
func (b *LocalBackend) Loads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads
}

// HealthCheck reports an error when the model is not loaded.
func (b *LocalBackend) HealthCheck(context.Context) error {
	if !b.Loaded() {
		return fmt.Errorf("model %s not loaded", b.model)
	}
	return nil
}

// Generate runs one call, loading the model first if needed.
func (b *LocalBackend) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	result := &GenerateResult{
		RequestID: requestID,
		Provider:  LocalBackendName,
		Model:     b.model,
		Attempts:  1,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// The first call pays for the load under its own deadline; the call
	// timeout starts once the model is resident.
	loadCtx, cancelLoad := context.WithTimeout(ctx, b.loadTimeout)
	client, err := b.ensureLoaded(loadCtx)
	cancelLoad()
	if err != nil {
		if ctxErr := classifyContextErr(ctx, loadCtx); ctxErr != nil {
			result.fail("timeout", ctxErr, start)
			return result, wrapTimeout(ctxErr, b.loadTimeout)
		}
		result.fail("load_error", err, start)
		return result, fmt.Errorf("%w: failed to load model: %v", ErrBackendUnavailable, err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = b.timeout
	}
	callCtx, cancel := withCallTimeout(ctx, timeout)
	defer cancel()

	dataURL := "data:" + mimeOrDefault(req.MIMEType) + ";base64," + base64.StdEncoding.EncodeToString(req.Image)
	resp, err := client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(b.model),
		Temperature: openai.Float(DefaultTemperature),
		MaxTokens:   openai.Int(DefaultMaxTokens),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(req.Prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	})
	if err != nil {
		if ctxErr := classifyContextErr(ctx, callCtx); ctxErr != nil {
			result.fail("timeout", ctxErr, start)
			return result, wrapTimeout(ctxErr, timeout)
		}
		var apiErr *openai.Error
		if !errors.As(err, &apiErr) {
			// The runtime did not answer; load it again on the next call.
			b.client = nil
		}
		result.fail("generate_error", err, start)
		return result, mapLocalError(err)
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices in response")
		result.fail("empty_response", err, start)
		return result, err
	}

	result.Success = true
	result.Text = resp.Choices[0].Message.Content
	if resp.Model != "" {
		result.Model = resp.Model
	}
	result.PromptTokens = int(resp.Usage.PromptTokens)
	result.CompletionTokens = int(resp.Usage.CompletionTokens)
	result.ExecutionTime = time.Since(start)

	b.logger.Debug("local model call complete",
		"request_id", requestID,
		"model", result.Model,
		"duration", result.ExecutionTime,
	)
	return result, nil
}

// ensureLoaded starts the runtime once. Must be called with mu held.
func (b *LocalBackend) ensureLoaded(ctx context.Context) (*openai.Client, error) {
	if b.client != nil {
		return b.client, nil
	}

	b.logger.Info("loading local model", "runtime", b.runtime.Name(), "model", b.model)
	loadStart := time.Now()
	baseURL, err := b.runtime.Start(ctx)
	if err != nil {
		return nil, err
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey("local"),
		option.WithHTTPClient(b.httpClient),
		option.WithMaxRetries(b.maxRetries),
	)
	b.client = &client
	b.loads++
	b.logger.Info("local model ready", "model", b.model, "load_time", time.Since(loadStart))
	return b.client, nil
}

// Close unloads the model. A later Generate loads it again.
func (b *LocalBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil
	}
	b.client = nil
	b.logger.Info("releasing local model", "model", b.model)
	if err := b.runtime.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop %s runtime: %w", b.runtime.Name(), err)
	}
	return nil
}

func wrapTimeout(err error, timeout time.Duration) error {
	if errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	return err
}

func mapLocalError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: local model error (status %d): %s", ErrBackendUnavailable, apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("%w: local model error (status %d): %s", ErrRequestRejected, apiErr.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

var _ VisionBackend = (*LocalBackend)(nil)
var _ HealthChecker = (*LocalBackend)(nil)
