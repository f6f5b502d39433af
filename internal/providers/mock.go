package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockBackendName = "mock"

// MockBackend is a VisionBackend for testing and dry runs.
type MockBackend struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // Fail after N requests (0 = never)
	ResponseText string
	Responses    []string // Per-call responses by call index; falls back to ResponseText
	Concurrency  int      // MaxConcurrency; 0 means 1

	// Respond, when set, overrides every other response source.
	// call is the 1-based call number.
	Respond func(req *GenerateRequest, call int) (string, error)

	// State
	requestCount atomic.Int64
	closeCount   atomic.Int64
	inFlight     atomic.Int64

	mu      sync.Mutex
	maxSeen int64
	prompts []string
}

// NewMockBackend creates a mock backend with sensible defaults.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		Latency:      time.Millisecond,
		ResponseText: `{"extracted_values": []}`,
		Concurrency:  1,
	}
}

// Name returns the backend identifier.
func (m *MockBackend) Name() string { return MockBackendName }

// MaxConcurrency returns the configured concurrency.
func (m *MockBackend) MaxConcurrency() int {
	if m.Concurrency <= 0 {
		return 1
	}
	return m.Concurrency
}

// Generate returns the scripted response for this call.
func (m *MockBackend) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	start := time.Now()
	count := m.requestCount.Add(1)

	current := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)

	m.mu.Lock()
	if current > m.maxSeen {
		m.maxSeen = current
	}
	m.prompts = append(m.prompts, req.Prompt)
	m.mu.Unlock()

	result := &GenerateResult{
		RequestID: fmt.Sprintf("mock-%d", count),
		Provider:  MockBackendName,
		Model:     MockBackendName,
		Attempts:  1,
	}

	if m.ShouldFail {
		err := fmt.Errorf("%w: mock backend configured to fail", ErrBackendUnavailable)
		result.fail("mock_failure", err, start)
		return result, err
	}
	if m.FailAfter > 0 && int(count) > m.FailAfter {
		err := fmt.Errorf("%w: mock backend failed after %d requests", ErrBackendUnavailable, m.FailAfter)
		result.fail("mock_failure", err, start)
		return result, err
	}

	callCtx, cancel := withCallTimeout(ctx, req.Timeout)
	defer cancel()

	select {
	case <-time.After(m.Latency):
	case <-callCtx.Done():
		err := classifyContextErr(ctx, callCtx)
		result.fail("timeout", err, start)
		return result, err
	}

	text, err := m.response(req, int(count))
	if err != nil {
		result.fail("mock_failure", err, start)
		return result, err
	}

	result.Success = true
	result.Text = text
	result.PromptTokens = len(req.Prompt) / 4
	result.CompletionTokens = len(text) / 4
	result.ExecutionTime = time.Since(start)
	return result, nil
}

func (m *MockBackend) response(req *GenerateRequest, call int) (string, error) {
	if m.Respond != nil {
		return m.Respond(req, call)
	}
	if call-1 < len(m.Responses) {
		return m.Responses[call-1], nil
	}
	return m.ResponseText, nil
}

// Close records the release.
func (m *MockBackend) Close(context.Context) error {
	m.closeCount.Add(1)
	return nil
}

// HealthCheck always succeeds unless ShouldFail is set.
func (m *MockBackend) HealthCheck(context.Context) error {
	if m.ShouldFail {
		return fmt.Errorf("mock backend configured to fail")
	}
	return nil
}

// RequestCount returns the number of requests made.
func (m *MockBackend) RequestCount() int64 { return m.requestCount.Load() }

// CloseCount returns how many times Close was called.
func (m *MockBackend) CloseCount() int64 { return m.closeCount.Load() }

// MaxInFlight returns the highest number of concurrent Generate calls observed.
func (m *MockBackend) MaxInFlight() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxSeen
}

// Prompts returns the prompts received, in call order.
func (m *MockBackend) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Reset clears counters and recorded prompts.
func (m *MockBackend) Reset() {
	m.requestCount.Store(0)
	m.closeCount.Store(0)
	m.mu.Lock()
	m.maxSeen = 0
	m.prompts = nil
	m.mu.Unlock()
}

// Verify interface
var _ VisionBackend = (*MockBackend)(nil)
var _ HealthChecker = (*MockBackend)(nil)
