package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func chatReply(content string) map[string]any {
	return map[string]any{
		"id":    "test-id",
		"model": "mistral-small-latest",
		"choices": []map[string]any{
			{
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     120,
			"completion_tokens": 30,
		},
	}
}

func newTestAPIBackend(url, key string) *APIBackend {
	return NewAPIBackend(APIConfig{
		Server:     url,
		APIKey:     key,
		RetryDelay: time.Millisecond,
		Timeout:    5 * time.Second,
	})
}

func TestAPIBackend_Generate(t *testing.T) {
	t.Run("successful call", func(t *testing.T) {
		image := []byte("fake-png-bytes")

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("unexpected method: %s", r.Method)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}

			var req chatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
				return
			}
			if req.Model != DefaultAPIModel {
				t.Errorf("model = %q, want %q", req.Model, DefaultAPIModel)
			}
			if req.MaxTokens != DefaultMaxTokens {
				t.Errorf("max_tokens = %d, want %d", req.MaxTokens, DefaultMaxTokens)
			}
			if len(req.Messages) != 1 || len(req.Messages[0].Content) != 2 {
				t.Errorf("unexpected message shape: %+v", req.Messages)
				return
			}
			if got := req.Messages[0].Content[0].Text; got != "find sections" {
				t.Errorf("prompt = %q", got)
			}
			want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)
			if got := req.Messages[0].Content[1].ImageURL.URL; got != want {
				t.Errorf("image url = %q, want %q", got, want)
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(chatReply(`{"sections": []}`))
		}))
		defer server.Close()

		b := newTestAPIBackend(server.URL, "test-key")
		result, err := b.Generate(context.Background(), &GenerateRequest{
			Image:  image,
			Prompt: "find sections",
		})
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if !result.Success {
			t.Error("expected success")
		}
		if result.Text != `{"sections": []}` {
			t.Errorf("Text = %q", result.Text)
		}
		if result.PromptTokens != 120 || result.CompletionTokens != 30 {
			t.Errorf("tokens = %d/%d, want 120/30", result.PromptTokens, result.CompletionTokens)
		}
		if result.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", result.Attempts)
		}
		if result.RequestID == "" {
			t.Error("expected a request ID")
		}
	})

	t.Run("no bearer header without key", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := r.Header.Get("Authorization"); auth != "" {
				t.Errorf("Authorization = %q, want empty", auth)
			}
			json.NewEncoder(w).Encode(chatReply("ok"))
		}))
		defer server.Close()

		b := newTestAPIBackend(server.URL, "")
		if _, err := b.Generate(context.Background(), &GenerateRequest{Prompt: "p"}); err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
	})

	t.Run("content parts response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resp := chatReply("")
			resp["choices"] = []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"content": []map[string]any{
						{"type": "text", "text": "part one "},
						{"type": "text", "text": "part two"},
					},
				},
			}}
			json.NewEncoder(w).Encode(resp)
		}))
		defer server.Close()

		b := newTestAPIBackend(server.URL, "k")
		result, err := b.Generate(context.Background(), &GenerateRequest{Prompt: "p"})
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if result.Text != "part one part two" {
			t.Errorf("Text = %q", result.Text)
		}
	})

	t.Run("retries transient errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := calls.Add(1)
			switch n {
			case 1:
				w.WriteHeader(http.StatusServiceUnavailable)
				io.WriteString(w, "busy")
			case 2:
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
			default:
				json.NewEncoder(w).Encode(chatReply("recovered"))
			}
		}))
		defer server.Close()

		b := newTestAPIBackend(server.URL, "k")
		result, err := b.Generate(context.Background(), &GenerateRequest{Prompt: "p"})
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if result.Text != "recovered" {
			t.Errorf("Text = %q", result.Text)
		}
		if result.Attempts != 3 {
			t.Errorf("Attempts = %d, want 3", result.Attempts)
		}
		if b.RateLimiterStatus().Last429Time.IsZero() {
			t.Error("expected the 429 to be recorded")
		}
	})

	t.Run("exhausted retries", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		b := newTestAPIBackend(server.URL, "k")
		result, err := b.Generate(context.Background(), &GenerateRequest{Prompt: "p"})
		if !errors.Is(err, ErrBackendUnavailable) {
			t.Fatalf("Generate() error = %v, want ErrBackendUnavailable", err)
		}
		if got := calls.Load(); got != 3 {
			t.Errorf("server saw %d calls, want 3", got)
		}
		if result.Success {
			t.Error("expected failed result")
		}
	})

	t.Run("client error is not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"message":"bad key"}`)
		}))
		defer server.Close()

		b := newTestAPIBackend(server.URL, "wrong")
		_, err := b.Generate(context.Background(), &GenerateRequest{Prompt: "p"})
		if !errors.Is(err, ErrRequestRejected) {
			t.Fatalf("Generate() error = %v, want ErrRequestRejected", err)
		}
		if got := calls.Load(); got != 1 {
			t.Errorf("server saw %d calls, want 1", got)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		b := newTestAPIBackend(server.URL, "k")
		result, err := b.Generate(context.Background(), &GenerateRequest{
			Prompt:  "p",
			Timeout: 50 * time.Millisecond,
		})
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("Generate() error = %v, want ErrTimeout", err)
		}
		if result.ErrorType != "timeout" {
			t.Errorf("ErrorType = %q, want timeout", result.ErrorType)
		}
	})

	t.Run("caller cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		b := newTestAPIBackend(server.URL, "k")
		_, err := b.Generate(ctx, &GenerateRequest{Prompt: "p"})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Generate() error = %v, want context.Canceled", err)
		}
	})
}

func TestAPIBackend_Config(t *testing.T) {
	tests := []struct {
		pool int
		want int
	}{
		{0, DefaultPoolSize},
		{-3, DefaultPoolSize},
		{1, 1},
		{12, 12},
		{50, MaxPoolSize},
	}
	for _, tt := range tests {
		b := NewAPIBackend(APIConfig{PoolSize: tt.pool})
		if got := b.MaxConcurrency(); got != tt.want {
			t.Errorf("MaxConcurrency() with pool %d = %d, want %d", tt.pool, got, tt.want)
		}
	}

	b := NewAPIBackend(APIConfig{})
	if b.Model() != DefaultAPIModel {
		t.Errorf("Model() = %q, want %q", b.Model(), DefaultAPIModel)
	}
	if b.server != DefaultAPIServer {
		t.Errorf("server = %q, want %q", b.server, DefaultAPIServer)
	}
}

func TestAPIBackend_HealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		server  string
		key     string
		wantErr bool
	}{
		{"remote with key", "https://api.mistral.ai/v1/chat/completions", "k", false},
		{"remote without key", "https://api.mistral.ai/v1/chat/completions", "", true},
		{"localhost without key", "http://localhost:8000/v1/chat/completions", "", false},
		{"loopback without key", "http://127.0.0.1:8000/v1/chat/completions", "", false},
		{"invalid url", "::not a url", "k", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewAPIBackend(APIConfig{Server: tt.server, APIKey: tt.key})
			err := b.HealthCheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsLocalHost(t *testing.T) {
	for _, host := range []string{"localhost", "127.0.0.1", "0.0.0.0", "::1", "[::1]", "LOCALHOST", "model.localhost"} {
		if !IsLocalHost(host) {
			t.Errorf("IsLocalHost(%q) = false", host)
		}
	}
	for _, host := range []string{"api.mistral.ai", "10.0.0.1", "localhost.example.com", ""} {
		if IsLocalHost(host) {
			t.Errorf("IsLocalHost(%q) = true", host)
		}
	}
	if got := ServerHost("http://localhost:8000/v1"); got != "localhost" {
		t.Errorf("ServerHost() = %q", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("3"); got != 3*time.Second {
		t.Errorf("parseRetryAfter(3) = %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter(\"\") = %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("parseRetryAfter(soon) = %v", got)
	}
}

func TestRateLimiter(t *testing.T) {
	t.Run("unlimited", func(t *testing.T) {
		rl := NewRateLimiter(0)
		for i := 0; i < 100; i++ {
			if err := rl.Wait(context.Background()); err != nil {
				t.Fatalf("Wait() error = %v", err)
			}
		}
		status := rl.Status()
		if status.TotalConsumed != 100 {
			t.Errorf("TotalConsumed = %d, want 100", status.TotalConsumed)
		}
		if status.RequestsPerSecond != 0 {
			t.Errorf("RequestsPerSecond = %v, want 0 for unlimited", status.RequestsPerSecond)
		}
		if _, err := json.Marshal(status); err != nil {
			t.Errorf("status must encode: %v", err)
		}
	})

	t.Run("429 pause honours context", func(t *testing.T) {
		rl := NewRateLimiter(0)
		rl.Record429(time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Wait() error = %v, want deadline exceeded", err)
		}
	})
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 20)
	if got := truncate([]byte(long), 5); got != "xxxxx...[truncated]" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate([]byte("abc"), 5); got != "abc" {
		t.Errorf("truncate() = %q", got)
	}
}
