package endpoints

import (
	"github.com/jackzampolin/magicscan/internal/api"
)

// All returns the endpoints that register at the top level of the CLI.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&StatusEndpoint{},

		// Scan endpoints
		&AnalyzeEndpoint{},
		&AnalyzeUploadEndpoint{},
		&ExtractEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{},
		&SwaggerUIEndpoint{},
	}
}

// NewRegistry returns an api.Registry holding every endpoint, with the
// llmcalls, prompts and settings endpoints grouped under their own
// subcommands.
func NewRegistry() *api.Registry {
	r := api.NewRegistry()
	for _, ep := range All() {
		r.Register(ep)
	}
	r.RegisterGroup("llmcalls", "Inspect recorded model calls", LLMCallCommands()...)
	r.RegisterGroup("prompts", "Inspect prompt templates", PromptCommands()...)
	r.RegisterGroup("settings", "Inspect and reload server settings", SettingsCommands()...)
	return r
}

// SettingsCommands returns endpoints for settings operations.
func SettingsCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},
		&ReloadSettingsEndpoint{},
	}
}

// LLMCallCommands returns endpoints for model call history operations.
func LLMCallCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListLLMCallsEndpoint{},
		&GetLLMCallEndpoint{},
		&LLMCallCountsEndpoint{},
	}
}

// PromptCommands returns endpoints for prompt template operations.
func PromptCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListPromptsEndpoint{},
		&GetPromptEndpoint{},
	}
}
