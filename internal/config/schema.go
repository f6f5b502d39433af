package config

// Config holds magicscan configuration.
// Stored at: ~/.magicscan/config.yaml (or ./config.yaml)
type Config struct {
	Backend    BackendCfg    `mapstructure:"backend" yaml:"backend"`
	Extraction ExtractionCfg `mapstructure:"extraction" yaml:"extraction"`
	Render     RenderCfg     `mapstructure:"render" yaml:"render"`
	Server     ServerCfg     `mapstructure:"server" yaml:"server"`
}

// BackendCfg selects and configures the vision backend.
type BackendCfg struct {
	Mode           string   `mapstructure:"mode" yaml:"mode"`             // "api", "local", or "" to pick api when a key is set
	APIServer      string   `mapstructure:"api_server" yaml:"api_server"` // Full chat-completions URL
	APIModel       string   `mapstructure:"api_model" yaml:"api_model"`
	APIKey         string   `mapstructure:"api_key" yaml:"api_key"` // Supports ${ENV_VAR} syntax
	PoolSize       int      `mapstructure:"pool_size" yaml:"pool_size"`
	RateLimit      float64  `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second, 0 = unlimited
	TimeoutSeconds int      `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int      `mapstructure:"max_retries" yaml:"max_retries"` // Attempts per call including the first
	Local          LocalCfg `mapstructure:"local" yaml:"local"`
}

// LocalCfg configures the locally hosted model runtime.
type LocalCfg struct {
	// Image is the Docker image to use (default: ollama/ollama:latest)
	Image string `mapstructure:"image" yaml:"image"`
	// Model is pulled into the runtime on first use
	Model string `mapstructure:"model" yaml:"model"`
	// Port is the host port to bind (default: 11434)
	Port string `mapstructure:"port" yaml:"port"`
}

// ExtractionCfg tunes prompts and reconciliation.
type ExtractionCfg struct {
	UseExpertInstructions bool    `mapstructure:"use_expert_instructions" yaml:"use_expert_instructions"`
	ExpertInstructions    string  `mapstructure:"expert_instructions" yaml:"expert_instructions"`
	SanitizeExpert        bool    `mapstructure:"sanitize_expert" yaml:"sanitize_expert"`
	MinConfidence         float64 `mapstructure:"min_confidence" yaml:"min_confidence"` // Applied to PDF pages only
	PageInclude           string  `mapstructure:"page_include" yaml:"page_include"`
	PageExclude           string  `mapstructure:"page_exclude" yaml:"page_exclude"`
}

// RenderCfg controls PDF rasterization.
type RenderCfg struct {
	DPI int `mapstructure:"dpi" yaml:"dpi"`
}

// ServerCfg controls the HTTP server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}
