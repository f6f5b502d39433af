package endpoints

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/magicscan/internal/api"
	"github.com/jackzampolin/magicscan/internal/providers"
	"github.com/jackzampolin/magicscan/internal/svcctx"
)

// HealthResponse reports liveness. Scanner is "ready" once the server has
// started its services and "starting" before that.
type HealthResponse struct {
	Status  string `json:"status"`
	Scanner string `json:"scanner"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Health check
//	@Description	Answers ok while the HTTP server is up and says whether scans can run yet
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/health [get]
func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Scanner: "starting"}
	if svcctx.ScannerFrom(r.Context()) != nil {
		resp.Scanner = "ready"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *HealthEndpoint) Command(serverURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is up and ready to scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp HealthResponse
			if err := api.NewClient(serverURL()).Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("%s (scanner %s)\n", resp.Status, resp.Scanner)
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server     string                  `json:"server"`
	Mode       string                  `json:"mode"`
	ConfigFile string                  `json:"config_file,omitempty"`
	Backends   []providers.BackendInfo `json:"backends"`
	Prompts    []PromptHash            `json:"prompts"`
	LLMCalls   LLMCallStats            `json:"llm_calls"`
}

// PromptHash identifies the prompt text in use.
type PromptHash struct {
	Key  string `json:"key"`
	Hash string `json:"hash"`
}

// LLMCallStats summarizes the call history.
type LLMCallStats struct {
	Stored int `json:"stored"`
	Total  int `json:"total"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct{}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Server status
//	@Description	Backend mode, cached backends with health, prompt hashes and call counts
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Router			/status [get]
func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatusResponse{
		Server:   "running",
		Backends: []providers.BackendInfo{},
		Prompts:  []PromptHash{},
	}

	if cm := svcctx.ConfigManagerFrom(ctx); cm != nil {
		resp.Mode = cm.Snapshot().Mode
		resp.ConfigFile = cm.ConfigFile()
	}
	if registry := svcctx.RegistryFrom(ctx); registry != nil {
		resp.Backends = registry.Status(ctx)
	}
	if scanner := svcctx.ScannerFrom(ctx); scanner != nil {
		for _, p := range scanner.Prompts().All() {
			resp.Prompts = append(resp.Prompts, PromptHash{Key: p.Key, Hash: p.Hash})
		}
	}
	if store := svcctx.LLMCallStoreFrom(ctx); store != nil {
		resp.LLMCalls = LLMCallStats{Stored: store.Len(), Total: store.Total()}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(serverURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backend mode, cached backends, prompt hashes and call counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp StatusResponse
			if err := api.NewClient(serverURL()).Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
