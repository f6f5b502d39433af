package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/magicscan/internal/types"
)

// legacyEnv maps config keys to the unprefixed environment variables
// earlier deployments used.
var legacyEnv = map[string]string{
	"backend.api_server": "api_server",
	"backend.api_model":  "api_model",
	"backend.api_key":    "api_key",
	"backend.pool_size":  "api_pool_size",
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v         *viper.Viper
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults, environment and config file.
func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	for _, e := range DefaultEntries() {
		v.SetDefault(e.Key, e.Value)
	}

	// Environment variables with MAGICSCAN_ prefix, e.g. MAGICSCAN_BACKEND_API_KEY
	v.SetEnvPrefix("MAGICSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "MAGICSCAN_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.magicscan")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) && !(cfgFile != "" && errors.Is(err, os.ErrNotExist)) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the file the configuration was read from, if any.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// Snapshot returns the backend settings for one orchestration call.
// The value is detached from the manager, so later reloads do not affect it.
func (cm *Manager) Snapshot() types.BackendConfig {
	return cm.Get().Snapshot()
}

// Entries returns every documented key with its current value.
func (cm *Manager) Entries() []Entry {
	entries := DefaultEntries()
	for i := range entries {
		entries[i].Value = cm.v.Get(entries[i].Key)
	}
	return entries
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// Reload re-reads the config file and notifies callbacks.
func (cm *Manager) Reload() error {
	if err := cm.v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return cm.apply()
}

func (cm *Manager) apply() error {
	cfg, err := cm.load()
	if err != nil {
		return err
	}

	cm.mu.Lock()
	cm.config = cfg
	callbacks := make([]func(*Config), len(cm.callbacks))
	copy(callbacks, cm.callbacks)
	cm.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		_ = cm.apply()
	})
	cm.v.WatchConfig()
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// Snapshot converts the config to the per-call backend settings.
// It resolves ${ENV_VAR} references in the API key and picks a mode when
// none is configured: api when a key is available, local otherwise.
func (c *Config) Snapshot() types.BackendConfig {
	key := ResolveEnvVars(c.Backend.APIKey)
	mode := strings.ToLower(strings.TrimSpace(c.Backend.Mode))
	if mode == "" {
		mode = types.ModeLocal
		if key != "" {
			mode = types.ModeAPI
		}
	}

	return types.BackendConfig{
		Mode:       mode,
		APIServer:  c.Backend.APIServer,
		APIModel:   c.Backend.APIModel,
		APIKey:     key,
		PoolSize:   c.Backend.PoolSize,
		RateLimit:  c.Backend.RateLimit,
		Timeout:    time.Duration(c.Backend.TimeoutSeconds) * time.Second,
		MaxRetries: c.Backend.MaxRetries,

		LocalImage: c.Backend.Local.Image,
		LocalModel: c.Backend.Local.Model,
		LocalPort:  c.Backend.Local.Port,

		UseExpertInstructions: c.Extraction.UseExpertInstructions,
		ExpertInstructions:    c.Extraction.ExpertInstructions,
		SanitizeExpert:        c.Extraction.SanitizeExpert,

		MinConfidence: c.Extraction.MinConfidence,
		PageInclude:   c.Extraction.PageInclude,
		PageExclude:   c.Extraction.PageExclude,
		RenderDPI:     c.Render.DPI,
	}
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	var header strings.Builder
	header.WriteString("# magicscan configuration\n")
	header.WriteString("# API keys use ${ENV_VAR} syntax to reference environment variables\n")
	header.WriteString("# Every key can also be set as MAGICSCAN_<SECTION>_<KEY>, e.g. MAGICSCAN_BACKEND_API_KEY\n")
	header.WriteString("#\n")
	for _, e := range DefaultEntries() {
		fmt.Fprintf(&header, "#   %-38s %s\n", e.Key, e.Description)
	}
	header.WriteString("\n")

	return os.WriteFile(path, append([]byte(header.String()), data...), 0o644)
}
