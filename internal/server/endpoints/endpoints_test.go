package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/magicscan/internal/config"
	"github.com/jackzampolin/magicscan/internal/llmcall"
	"github.com/jackzampolin/magicscan/internal/normalize"
	"github.com/jackzampolin/magicscan/internal/prompts"
	"github.com/jackzampolin/magicscan/internal/providers"
	"github.com/jackzampolin/magicscan/internal/scan"
	"github.com/jackzampolin/magicscan/internal/svcctx"
)

// newHandler mounts every endpoint on a mux and injects services the way
// the server does.
func newHandler(t *testing.T, svc *svcctx.Services) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	NewRegistry().RegisterRoutes(mux, func(h http.HandlerFunc) http.HandlerFunc { return h })
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), svc)))
	})
}

func testServices(t *testing.T, configYAML string) *svcctx.Services {
	t.Helper()
	cfgFile := ""
	if configYAML != "" {
		cfgFile = filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(cfgFile, []byte(configYAML), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := llmcall.NewStore(10)
	return &svcctx.Services{
		Scanner: scan.New(scan.Options{
			Backends: scan.Fixed(providers.NewMockBackend()),
			Recorder: llmcall.NewRecorder(store),
			Logger:   logger,
		}),
		ConfigManager: cm,
		Logger:        logger,
		LLMCallStore:  store,
	}
}

func do(t *testing.T, h http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, body))
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name string
		svc  *svcctx.Services
		want string
	}{
		{"before start", nil, "starting"},
		{"after start", testServices(t, ""), "ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newHandler(t, tt.svc), http.MethodGet, "/health", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode error = %v", err)
			}
			if resp.Status != "ok" || resp.Scanner != tt.want {
				t.Errorf("health = %+v, want ok with scanner %s", resp, tt.want)
			}
		})
	}
}

func TestPromptEndpoints(t *testing.T) {
	h := newHandler(t, testServices(t, ""))

	t.Run("list is sorted by key", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/prompts", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp PromptsListResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if len(resp.Prompts) != 3 {
			t.Fatalf("got %d prompts, want 3", len(resp.Prompts))
		}
		for i := 1; i < len(resp.Prompts); i++ {
			if resp.Prompts[i-1].Key > resp.Prompts[i].Key {
				t.Errorf("prompts not sorted: %s before %s", resp.Prompts[i-1].Key, resp.Prompts[i].Key)
			}
		}
	})

	t.Run("get by key", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/prompts/"+prompts.ExtractionKey, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp PromptResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if resp.Key != prompts.ExtractionKey || resp.Hash == "" || resp.Text == "" {
			t.Errorf("prompt = %+v", resp)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		if rec := do(t, h, http.MethodGet, "/api/prompts/scan.nope", nil); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestListPrompts_ByKind(t *testing.T) {
	h := newHandler(t, testServices(t, ""))
	rec := do(t, h, http.MethodGet, "/api/prompts?kind=routing", nil)
	var resp PromptsListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if len(resp.Prompts) != 1 || resp.Prompts[0].Kind != prompts.KindRouting {
		t.Errorf("prompts = %+v, want the routing prompt only", resp.Prompts)
	}
}

func TestLLMCallEndpoints(t *testing.T) {
	svc := testServices(t, "")
	for i := 0; i < 3; i++ {
		doc := "a.pdf"
		if i == 2 {
			doc = "b.png"
		}
		svc.LLMCallStore.Add(&llmcall.Call{
			ID:        fmt.Sprintf("call-%d", i),
			Document:  doc,
			PromptKey: prompts.ExtractionKey,
			Success:   true,
		})
	}
	h := newHandler(t, svc)

	t.Run("list filters by document", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/llmcalls?document=a.pdf", nil)
		var resp LLMCallsResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if len(resp.Calls) != 2 {
			t.Errorf("got %d calls, want 2", len(resp.Calls))
		}
	})

	t.Run("get", func(t *testing.T) {
		if rec := do(t, h, http.MethodGet, "/api/llmcalls/call-1", nil); rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		if rec := do(t, h, http.MethodGet, "/api/llmcalls/missing", nil); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("counts", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/llmcalls/counts/a.pdf", nil)
		var resp LLMCallCountsResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if resp.Counts[prompts.ExtractionKey] != 2 {
			t.Errorf("counts = %v", resp.Counts)
		}
	})
}

func TestCallFilter(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		f, err := callFilter(url.Values{})
		if err != nil {
			t.Fatalf("callFilter() error = %v", err)
		}
		if f.Limit != defaultCallLimit || f.Success != nil || f.After != nil {
			t.Errorf("filter = %+v", f)
		}
	})

	t.Run("parses every field", func(t *testing.T) {
		q := url.Values{
			"document": {"a.pdf"}, "success": {"false"}, "limit": {"5"}, "offset": {"2"},
			"after": {"2026-01-15T00:00:00Z"},
		}
		f, err := callFilter(q)
		if err != nil {
			t.Fatalf("callFilter() error = %v", err)
		}
		if f.Document != "a.pdf" || f.Success == nil || *f.Success || f.Limit != 5 || f.Offset != 2 {
			t.Errorf("filter = %+v", f)
		}
		if f.After == nil || f.After.Year() != 2026 {
			t.Errorf("After = %v", f.After)
		}
	})

	for _, bad := range []url.Values{
		{"success": {"maybe"}},
		{"limit": {"-1"}},
		{"offset": {"x"}},
		{"before": {"yesterday"}},
	} {
		if _, err := callFilter(bad); err == nil {
			t.Errorf("callFilter(%v) should fail", bad)
		}
	}
}

func TestSettingsEndpoints(t *testing.T) {
	t.Setenv("MAGICSCAN_BACKEND_API_KEY", "")
	svc := testServices(t, "backend:\n  mode: api\n  api_key: sk-literal-secret\n")
	h := newHandler(t, svc)

	t.Run("list redacts keys", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/settings", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if strings.Contains(rec.Body.String(), "sk-literal-secret") {
			t.Error("API key leaked in settings output")
		}
	})

	t.Run("list by prefix", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/settings?prefix=extraction.", nil)
		var resp SettingsResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if len(resp.Settings) == 0 {
			t.Fatal("no extraction settings listed")
		}
		for _, e := range resp.Settings {
			if !strings.HasPrefix(e.Key, "extraction.") {
				t.Errorf("unexpected key %q", e.Key)
			}
		}
	})

	t.Run("get", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/settings/backend.mode", nil)
		var resp SettingResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if resp.Entry == nil || resp.Entry.Value != "api" {
			t.Errorf("entry = %+v", resp.Entry)
		}
	})

	t.Run("reload", func(t *testing.T) {
		if err := os.WriteFile(svc.ConfigManager.ConfigFile(), []byte("backend:\n  mode: local\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if rec := do(t, h, http.MethodPost, "/api/settings/reload", nil); rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body)
		}
		if got := svc.ConfigManager.Snapshot().Mode; got != "local" {
			t.Errorf("mode after reload = %q, want local", got)
		}
	})

	t.Run("reload without file", func(t *testing.T) {
		h := newHandler(t, testServices(t, ""))
		if rec := do(t, h, http.MethodPost, "/api/settings/reload", nil); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestExtractEndpoint_BadRequests(t *testing.T) {
	h := newHandler(t, testServices(t, "backend:\n  mode: local\n"))

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"paths": [`},
		{"no paths", `{"sections": ["Total"]}`},
		{"no sections", `{"paths": ["a.png"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/extract", strings.NewReader(tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", config.ErrMissingAPIKey), http.StatusBadRequest},
		{scan.ErrNoSections, http.StatusBadRequest},
		{fmt.Errorf("%w: x.txt", normalize.ErrUnsupportedFormat), http.StatusUnprocessableEntity},
		{providers.ErrTimeout, http.StatusGatewayTimeout},
		{providers.ErrRequestRejected, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestServerPath(t *testing.T) {
	if got := serverPath("https://example.com/a.pdf"); got != "https://example.com/a.pdf" {
		t.Errorf("serverPath(url) = %q", got)
	}
	if got := serverPath("a.pdf"); !filepath.IsAbs(got) {
		t.Errorf("serverPath(relative) = %q, want absolute", got)
	}
}

func TestRegistryCommands(t *testing.T) {
	root := NewRegistry().BuildCommands(func() string { return "http://localhost:0" })
	for _, path := range [][]string{
		{"analyze"},
		{"extract"},
		{"llmcalls", "list"},
		{"prompts", "get"},
		{"settings", "reload"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}

func TestSwagger_DocumentsEveryRoute(t *testing.T) {
	rec := do(t, newHandler(t, nil), http.MethodGet, "/swagger.json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var spec struct {
		Paths map[string]any `json:"paths"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&spec); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if missing := undocumented(spec.Paths, NewRegistry().Endpoints()); len(missing) > 0 {
		t.Errorf("undocumented routes: %v", missing)
	}

	missing := undocumented(map[string]any{}, SettingsCommands())
	if len(missing) != 3 || missing[0] != "GET /api/settings" {
		t.Errorf("undocumented(empty) = %v", missing)
	}
}
