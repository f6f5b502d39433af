package types

import "time"

// Backend modes.
const (
	ModeLocal = "local"
	ModeAPI   = "api"
)

// BackendConfig is an immutable snapshot of the settings that drive one
// orchestration call. It is copied by value at call start so later config
// changes never affect a batch already in flight.
type BackendConfig struct {
	Mode       string        `json:"mode" yaml:"mode"`
	APIServer  string        `json:"api_server" yaml:"api_server"`
	APIModel   string        `json:"api_model" yaml:"api_model"`
	APIKey     string        `json:"-" yaml:"-"`
	PoolSize   int           `json:"pool_size" yaml:"pool_size"`
	RateLimit  float64       `json:"rate_limit" yaml:"rate_limit"` // requests per second, 0 = unlimited
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`

	LocalImage string `json:"local_image" yaml:"local_image"`
	LocalModel string `json:"local_model" yaml:"local_model"`
	LocalPort  string `json:"local_port" yaml:"local_port"`

	UseExpertInstructions bool   `json:"use_expert_instructions" yaml:"use_expert_instructions"`
	ExpertInstructions    string `json:"expert_instructions,omitempty" yaml:"expert_instructions"`
	SanitizeExpert        bool   `json:"sanitize_expert" yaml:"sanitize_expert"`

	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
	PageInclude   string  `json:"page_include,omitempty" yaml:"page_include"`
	PageExclude   string  `json:"page_exclude,omitempty" yaml:"page_exclude"`
	RenderDPI     int     `json:"render_dpi" yaml:"render_dpi"`
}

// Expert returns the expert instructions to apply, or "" when disabled.
func (c BackendConfig) Expert() string {
	if !c.UseExpertInstructions {
		return ""
	}
	return c.ExpertInstructions
}

// RoutingEnabled reports whether pages are filtered before extraction.
func (c BackendConfig) RoutingEnabled() bool {
	return c.PageInclude != "" || c.PageExclude != ""
}
