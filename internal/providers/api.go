package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
)

const (
	APIBackendName = "api"

	DefaultAPIServer = "https://api.mistral.ai/v1/chat/completions"
	DefaultAPIModel  = "mistral-small-latest"

	DefaultPoolSize = 5
	MaxPoolSize     = 20
	defaultAttempts = 3
)

// APIConfig holds configuration for the remote API backend.
type APIConfig struct {
	Server      string        // Full chat-completions URL
	Model       string        // Model identifier sent with every request
	APIKey      string        // Sent as a bearer token when non-empty
	PoolSize    int           // Concurrent calls allowed (1..20)
	RateLimit   float64       // Requests per second, 0 = unlimited
	MaxAttempts int           // Total attempts per call including the first
	RetryDelay  time.Duration // Base backoff delay
	Timeout     time.Duration // Default per-call timeout
	HTTPClient  *http.Client  // Optional (tests)
	Logger      *slog.Logger
}

// APIBackend calls a remote chat-completions endpoint with an inline image.
type APIBackend struct {
	server      string
	model       string
	apiKey      string
	poolSize    int
	maxAttempts int
	retryDelay  time.Duration
	timeout     time.Duration
	client      *http.Client
	limiter     *RateLimiter
	logger      *slog.Logger
}

// NewAPIBackend creates an API backend, filling defaults for unset fields.
func NewAPIBackend(cfg APIConfig) *APIBackend {
	if cfg.Server == "" {
		cfg.Server = DefaultAPIServer
	}
	if cfg.Model == "" {
		cfg.Model = DefaultAPIModel
	}
	cfg.PoolSize = ClampPoolSize(cfg.PoolSize)
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultAttempts
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &APIBackend{
		server:      cfg.Server,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		poolSize:    cfg.PoolSize,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		timeout:     cfg.Timeout,
		client:      cfg.HTTPClient,
		limiter:     NewRateLimiter(cfg.RateLimit),
		logger:      cfg.Logger,
	}
}

// ClampPoolSize bounds a configured pool size to 1..MaxPoolSize, defaulting to DefaultPoolSize.
func ClampPoolSize(n int) int {
	switch {
	case n <= 0:
		return DefaultPoolSize
	case n > MaxPoolSize:
		return MaxPoolSize
	default:
		return n
	}
}

// Name returns the backend identifier.
func (b *APIBackend) Name() string { return APIBackendName }

// MaxConcurrency returns the configured pool size.
func (b *APIBackend) MaxConcurrency() int { return b.poolSize }

// Model returns the model identifier sent with requests.
func (b *APIBackend) Model() string { return b.model }

// Close is a no-op; the API backend holds no resources.
func (b *APIBackend) Close(context.Context) error { return nil }

// RateLimiterStatus reports the backend's request pacing.
func (b *APIBackend) RateLimiterStatus() RateLimiterStatus { return b.limiter.Status() }

// HealthCheck verifies the backend is usable without spending a model call.
func (b *APIBackend) HealthCheck(context.Context) error {
	u, err := url.Parse(b.server)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid api server %q", b.server)
	}
	if b.apiKey == "" && !IsLocalHost(u.Hostname()) {
		return fmt.Errorf("no api key configured for %s", u.Hostname())
	}
	return nil
}

// Generate sends one image+prompt request, retrying transient failures.
func (b *APIBackend) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	result := &GenerateResult{
		RequestID: requestID,
		Provider:  APIBackendName,
		Model:     b.model,
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = b.timeout
	}
	callCtx, cancel := withCallTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(b.buildRequest(req))
	if err != nil {
		result.fail("marshal_error", err, start)
		return result, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp *chatResponse
	err = retry.Do(
		func() error {
			result.Attempts++
			r, err := b.doRequest(callCtx, body)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Context(callCtx),
		retry.Attempts(uint(b.maxAttempts)),
		retry.Delay(b.retryDelay),
		retry.MaxDelay(10*time.Second),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(b.jitter()),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Warn("retrying model call",
				"request_id", requestID,
				"attempt", n+1,
				"error", err,
			)
		}),
	)

	if err != nil {
		if ctxErr := classifyContextErr(ctx, callCtx); ctxErr != nil {
			result.fail("timeout", ctxErr, start)
			if errors.Is(ctxErr, ErrTimeout) {
				return result, fmt.Errorf("%w after %s", ErrTimeout, timeout)
			}
			return result, ctxErr
		}
		var rejected *rejectedError
		if errors.As(err, &rejected) {
			result.fail("http_error", err, start)
			return result, fmt.Errorf("%w: %v", ErrRequestRejected, err)
		}
		result.fail("unavailable", err, start)
		return result, fmt.Errorf("%w: %d attempts failed: %v", ErrBackendUnavailable, result.Attempts, err)
	}

	result.Success = true
	result.Text = responseText(resp)
	if resp.Model != "" {
		result.Model = resp.Model
	}
	result.PromptTokens = resp.Usage.PromptTokens
	result.CompletionTokens = resp.Usage.CompletionTokens
	result.ExecutionTime = time.Since(start)

	b.logger.Debug("model call complete",
		"request_id", requestID,
		"model", result.Model,
		"attempts", result.Attempts,
		"duration", result.ExecutionTime,
	)
	return result, nil
}

func (b *APIBackend) jitter() time.Duration {
	if j := b.retryDelay / 2; j > 0 {
		return j
	}
	return time.Millisecond
}

func (b *APIBackend) buildRequest(req *GenerateRequest) chatRequest {
	dataURL := "data:" + mimeOrDefault(req.MIMEType) + ";base64," + base64.StdEncoding.EncodeToString(req.Image)
	return chatRequest{
		Model:       b.model,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &chatImageURL{URL: dataURL}},
			},
		}},
	}
}

// doRequest performs a single HTTP attempt.
func (b *APIBackend) doRequest(ctx context.Context, body []byte) (*chatResponse, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.server, bytes.NewReader(body))
	if err != nil {
		return nil, &rejectedError{body: "failed to create request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		b.limiter.Record429(parseRetryAfter(resp.Header.Get("Retry-After")))
	}
	if shouldRetry(resp.StatusCode) {
		return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, truncate(respBody, 500))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &rejectedError{status: resp.StatusCode, body: truncate(respBody, 500)}
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return nil, &rejectedError{status: resp.StatusCode, body: "malformed response: " + err.Error()}
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("api error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response (model=%s, id=%s)", cr.Model, cr.ID)
	}
	return &cr, nil
}

// rejectedError marks a response that retrying will not fix.
type rejectedError struct {
	status int
	body   string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.status, e.body)
}

func isRetryable(err error) bool {
	var rejected *rejectedError
	if errors.As(err, &rejected) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// shouldRetry returns true for status codes that should be retried.
func shouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	case 520, 521, 522, 523, 524: // Cloudflare errors
		return true
	default:
		return statusCode >= 500
	}
}

func responseText(resp *chatResponse) string {
	switch c := resp.Choices[0].Message.Content.(type) {
	case string:
		return c
	case []any:
		// Some servers return content parts; keep the text ones.
		var sb strings.Builder
		for _, part := range c {
			if m, ok := part.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					sb.WriteString(text)
				}
			}
		}
		return sb.String()
	case nil:
		return ""
	default:
		b, _ := json.Marshal(c)
		return string(b)
	}
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...[truncated]"
}

var _ VisionBackend = (*APIBackend)(nil)
var _ HealthChecker = (*APIBackend)(nil)
