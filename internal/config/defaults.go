package config

import (
	"strings"

	"github.com/jackzampolin/magicscan/internal/normalize"
	"github.com/jackzampolin/magicscan/internal/providers"
)

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendCfg{
			APIServer:      providers.DefaultAPIServer,
			APIModel:       providers.DefaultAPIModel,
			APIKey:         "${MISTRAL_API_KEY}",
			PoolSize:       providers.DefaultPoolSize,
			TimeoutSeconds: int(providers.DefaultTimeout.Seconds()),
			MaxRetries:     3,
			Local: LocalCfg{
				Image: providers.DefaultRuntimeImage,
				Model: providers.DefaultLocalModel,
				Port:  providers.DefaultRuntimePort,
			},
		},
		Extraction: ExtractionCfg{
			MinConfidence: 0.2,
		},
		Render: RenderCfg{
			DPI: normalize.DefaultDPI,
		},
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
	}
}

// Entry is one documented configuration key.
type Entry struct {
	Key         string `json:"key"`
	Value       any    `json:"value"`
	Description string `json:"description"`
}

// DefaultEntries returns the documented configuration keys with their defaults.
func DefaultEntries() []Entry {
	d := DefaultConfig()
	return []Entry{
		// Backend
		{Key: "backend.mode", Value: d.Backend.Mode, Description: `Backend mode: "api" or "local" (empty picks api when an API key is set)`},
		{Key: "backend.api_server", Value: d.Backend.APIServer, Description: "Chat-completions URL for api mode"},
		{Key: "backend.api_model", Value: d.Backend.APIModel, Description: "Model requested in api mode"},
		{Key: "backend.api_key", Value: d.Backend.APIKey, Description: "API key, required unless the server is on localhost"},
		{Key: "backend.pool_size", Value: d.Backend.PoolSize, Description: "Documents processed concurrently in api mode (1-20)"},
		{Key: "backend.rate_limit", Value: d.Backend.RateLimit, Description: "Requests per second in api mode, 0 for unlimited"},
		{Key: "backend.timeout_seconds", Value: d.Backend.TimeoutSeconds, Description: "Timeout for one model call"},
		{Key: "backend.max_retries", Value: d.Backend.MaxRetries, Description: "Attempts per api call including the first"},
		{Key: "backend.local.image", Value: d.Backend.Local.Image, Description: "Docker image serving the local model"},
		{Key: "backend.local.model", Value: d.Backend.Local.Model, Description: "Model pulled into the local runtime"},
		{Key: "backend.local.port", Value: d.Backend.Local.Port, Description: "Host port of the local runtime"},

		// Extraction
		{Key: "extraction.use_expert_instructions", Value: d.Extraction.UseExpertInstructions, Description: "Append expert instructions to extraction prompts"},
		{Key: "extraction.expert_instructions", Value: d.Extraction.ExpertInstructions, Description: "Free-text extraction guidance"},
		{Key: "extraction.sanitize_expert", Value: d.Extraction.SanitizeExpert, Description: "Neutralize instruction-like text in expert instructions"},
		{Key: "extraction.min_confidence", Value: d.Extraction.MinConfidence, Description: "Drop PDF page values at or below this confidence"},
		{Key: "extraction.page_include", Value: d.Extraction.PageInclude, Description: "Only extract from pages matching this description"},
		{Key: "extraction.page_exclude", Value: d.Extraction.PageExclude, Description: "Skip pages matching this description"},

		// Render and server
		{Key: "render.dpi", Value: d.Render.DPI, Description: "Resolution PDF pages are rendered at"},
		{Key: "server.host", Value: d.Server.Host, Description: "HTTP listen host"},
		{Key: "server.port", Value: d.Server.Port, Description: "HTTP listen port"},
	}
}

// Redact hides literal API keys in entries. ${ENV} references are kept since
// they name the variable, not the secret.
func Redact(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	for i, e := range out {
		if !strings.HasSuffix(e.Key, "api_key") {
			continue
		}
		v, _ := e.Value.(string)
		if v != "" && !envVarPattern.MatchString(v) {
			out[i].Value = "********"
		}
	}
	return out
}
