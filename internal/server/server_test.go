package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/magicscan/internal/config"
	"github.com/jackzampolin/magicscan/internal/home"
	"github.com/jackzampolin/magicscan/internal/prompts"
	"github.com/jackzampolin/magicscan/internal/providers"
	"github.com/jackzampolin/magicscan/internal/testutil"
	"github.com/jackzampolin/magicscan/internal/types"
)

const testConfigYAML = `backend:
  mode: api
  api_server: http://localhost:1/v1/chat/completions
  api_key: ""
  pool_size: 2
  timeout_seconds: 5
extraction:
  min_confidence: 0.2
`

// scriptedBackend answers each prompt kind with a fixed reply.
func scriptedBackend() *providers.MockBackend {
	mock := providers.NewMockBackend()
	mock.Concurrency = 2
	mock.Respond = func(req *providers.GenerateRequest, call int) (string, error) {
		switch prompts.KindOf(req.Prompt) {
		case prompts.KindDetection:
			return `{"sections": [{"title": "Total", "level": 1}, {"title": "Date", "level": 1}]}`, nil
		case prompts.KindExtraction:
			return `{"extracted_values": [{"section": "Total", "value": "42.00", "confidence": 0.9}]}`, nil
		default:
			return "true", nil
		}
	}
	return mock
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func newTestServer(t *testing.T, cfg testutil.ServerEnv, mock *providers.MockBackend) *Server {
	t.Helper()

	cfg.WriteConfig(t, testConfigYAML)
	cm, err := config.NewManager(cfg.ConfigFile)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	registry := providers.NewRegistry(providers.BackendOptions{Logger: cfg.Logger})
	registry.SetFactory(func(types.BackendConfig) (providers.VisionBackend, error) {
		return mock, nil
	})

	homeDir, err := home.New(filepath.Join(cfg.HomeDir, ".magicscan"))
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}

	srv, err := New(Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		ConfigManager: cm,
		Home:          homeDir,
		Registry:      registry,
		Logger:        cfg.Logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func TestNew_RequiresConfigManager(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() without config manager should fail")
	}
}

func TestServer_RequiresInit(t *testing.T) {
	srv := newTestServer(t, testutil.NewServerEnv(t), scriptedBackend())

	tests := []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/swagger.json", http.StatusOK},
		{"/api/prompts", http.StatusServiceUnavailable},
		{"/api/settings", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("GET %s status = %d, want %d", tt.path, rec.Code, tt.want)
			}
		})
	}
}

func TestServer_FullLifecycle(t *testing.T) {
	cfg := testutil.NewServerEnv(t)
	mock := scriptedBackend()
	srv := newTestServer(t, cfg, mock)

	docPath := filepath.Join(t.TempDir(), "receipt.png")
	writePNG(t, docPath)

	running := testutil.Serve(t, cfg, srv.Start)
	baseURL := cfg.URL()
	if !srv.IsRunning() {
		t.Error("IsRunning() = false after start")
	}

	postJSON := func(t *testing.T, path string, body any, out any) int {
		t.Helper()
		data, _ := json.Marshal(body)
		resp, err := http.Post(baseURL+path, "application/json", bytes.NewReader(data))
		if err != nil {
			t.Fatalf("POST %s error = %v", path, err)
		}
		defer resp.Body.Close()
		if out != nil && resp.StatusCode == http.StatusOK {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				t.Fatalf("decode %s: %v", path, err)
			}
		}
		return resp.StatusCode
	}
	getJSON := func(t *testing.T, path string, out any) int {
		t.Helper()
		resp, err := http.Get(baseURL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		defer resp.Body.Close()
		if out != nil && resp.StatusCode == http.StatusOK {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				t.Fatalf("decode %s: %v", path, err)
			}
		}
		return resp.StatusCode
	}

	t.Run("status", func(t *testing.T) {
		var status struct {
			Server  string `json:"server"`
			Mode    string `json:"mode"`
			Prompts []struct {
				Key string `json:"key"`
			} `json:"prompts"`
		}
		if code := getJSON(t, "/status", &status); code != http.StatusOK {
			t.Fatalf("status code = %d", code)
		}
		if status.Server != "running" || status.Mode != types.ModeAPI {
			t.Errorf("status = %+v", status)
		}
		if len(status.Prompts) == 0 {
			t.Error("status lists no prompts")
		}
	})

	t.Run("analyze", func(t *testing.T) {
		var result struct {
			Sections []types.Section `json:"sections"`
		}
		if code := postJSON(t, "/api/analyze", map[string]string{"path": docPath}, &result); code != http.StatusOK {
			t.Fatalf("analyze code = %d", code)
		}
		if len(result.Sections) != 2 || result.Sections[0].Name != "Total" {
			t.Errorf("sections = %+v, want Total and Date", result.Sections)
		}
	})

	t.Run("analyze unsupported file", func(t *testing.T) {
		txt := filepath.Join(t.TempDir(), "notes.txt")
		if err := os.WriteFile(txt, []byte("plain text"), 0o644); err != nil {
			t.Fatal(err)
		}
		if code := postJSON(t, "/api/analyze", map[string]string{"path": txt}, nil); code != http.StatusUnprocessableEntity {
			t.Errorf("analyze code = %d, want 422", code)
		}
	})

	t.Run("extract", func(t *testing.T) {
		var results []types.ExtractionResult
		req := map[string]any{"paths": []string{docPath}, "sections": []string{"Total", "Date"}}
		if code := postJSON(t, "/api/extract", req, &results); code != http.StatusOK {
			t.Fatalf("extract code = %d", code)
		}
		if len(results) != 1 {
			t.Fatalf("got %d results, want 1", len(results))
		}
		r := results[0]
		if r.Status != types.StatusSuccess {
			t.Errorf("Status = %q (%s)", r.Status, r.Error)
		}
		if v := r.Sections["Total"]; v.Value != "42.00" || !v.Found {
			t.Errorf("Total = %+v", v)
		}
		if v := r.Sections["Date"]; v.Found {
			t.Errorf("Date = %+v, want not found", v)
		}
	})

	t.Run("extract without sections", func(t *testing.T) {
		req := map[string]any{"paths": []string{docPath}}
		if code := postJSON(t, "/api/extract", req, nil); code != http.StatusBadRequest {
			t.Errorf("extract code = %d, want 400", code)
		}
	})

	t.Run("llmcalls recorded", func(t *testing.T) {
		var resp struct {
			Calls []struct {
				Document string `json:"document"`
			} `json:"calls"`
		}
		if code := getJSON(t, "/api/llmcalls?document=receipt.png", &resp); code != http.StatusOK {
			t.Fatalf("llmcalls code = %d", code)
		}
		if len(resp.Calls) < 2 {
			t.Errorf("got %d calls, want detection and extraction", len(resp.Calls))
		}
	})

	t.Run("settings", func(t *testing.T) {
		var resp struct {
			Entry struct {
				Key   string `json:"key"`
				Value any    `json:"value"`
			} `json:"entry"`
		}
		if code := getJSON(t, "/api/settings/backend.mode", &resp); code != http.StatusOK {
			t.Fatalf("settings code = %d", code)
		}
		if resp.Entry.Value != "api" {
			t.Errorf("backend.mode = %v, want api", resp.Entry.Value)
		}
		if code := getJSON(t, "/api/settings/no.such.key", nil); code != http.StatusNotFound {
			t.Errorf("unknown key code = %d, want 404", code)
		}
	})

	t.Run("swagger", func(t *testing.T) {
		var spec map[string]any
		if code := getJSON(t, "/swagger.json", &spec); code != http.StatusOK {
			t.Fatalf("swagger code = %d", code)
		}
		if info, _ := spec["info"].(map[string]any); !strings.Contains(info["title"].(string), "magicscan") {
			t.Errorf("info = %v", spec["info"])
		}
	})

	if err := running.Stop(); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
	if srv.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}
	if mock.CloseCount() == 0 {
		t.Error("backend not closed on shutdown")
	}
}

func TestServer_StartTwice(t *testing.T) {
	cfg := testutil.NewServerEnv(t)
	srv := newTestServer(t, cfg, scriptedBackend())

	testutil.Serve(t, cfg, srv.Start)
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail while running")
	}
}
