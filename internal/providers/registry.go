package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jackzampolin/magicscan/internal/types"
)

// BackendOptions carries dependencies that are not part of the config snapshot.
type BackendOptions struct {
	Logger     *slog.Logger
	HTTPClient *http.Client

	// Runtime overrides the local model runtime (tests). When nil, local mode
	// uses a DockerRuntime.
	Runtime Runtime

	// ModelsPath is the host directory mounted into the local runtime for model weights.
	ModelsPath string
}

// NewBackend constructs the backend selected by cfg.Mode.
func NewBackend(cfg types.BackendConfig, opts BackendOptions) (VisionBackend, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	switch cfg.Mode {
	case types.ModeAPI:
		return NewAPIBackend(APIConfig{
			Server:      cfg.APIServer,
			Model:       cfg.APIModel,
			APIKey:      cfg.APIKey,
			PoolSize:    cfg.PoolSize,
			RateLimit:   cfg.RateLimit,
			MaxAttempts: cfg.MaxRetries,
			Timeout:     cfg.Timeout,
			HTTPClient:  opts.HTTPClient,
			Logger:      opts.Logger.With("backend", APIBackendName),
		}), nil

	case types.ModeLocal:
		runtime := opts.Runtime
		if runtime == nil {
			dr, err := NewDockerRuntime(DockerRuntimeConfig{
				Image:      cfg.LocalImage,
				HostPort:   cfg.LocalPort,
				Model:      cfg.LocalModel,
				ModelsPath: opts.ModelsPath,
			})
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
			runtime = dr
		}
		return NewLocalBackend(LocalConfig{
			Runtime:    runtime,
			Model:      cfg.LocalModel,
			Timeout:    cfg.Timeout,
			HTTPClient: opts.HTTPClient,
			Logger:     opts.Logger.With("backend", LocalBackendName),
		})

	default:
		return nil, fmt.Errorf("unknown backend mode %q", cfg.Mode)
	}
}

// Factory builds a backend for a config snapshot.
type Factory func(cfg types.BackendConfig) (VisionBackend, error)

// Registry caches backends keyed by the settings they were built from.
// A config change yields a new key, so the next lookup builds a fresh backend
// while batches holding the old one finish undisturbed.
type Registry struct {
	mu       sync.Mutex
	backends map[string]VisionBackend
	lastUsed map[string]time.Time
	factory  Factory
	logger   *slog.Logger
}

// NewRegistry creates a registry that builds backends with NewBackend.
func NewRegistry(opts BackendOptions) *Registry {
	r := &Registry{
		backends: make(map[string]VisionBackend),
		lastUsed: make(map[string]time.Time),
		logger:   opts.Logger,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.factory = func(cfg types.BackendConfig) (VisionBackend, error) {
		return NewBackend(cfg, opts)
	}
	return r
}

// SetFactory replaces how backends are built (tests and dry runs).
// Cached backends are kept until Prune or Close.
func (r *Registry) SetFactory(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory = f
}

// Backend returns the backend for cfg, building it on first use.
func (r *Registry) Backend(cfg types.BackendConfig) (VisionBackend, error) {
	key := backendKey(cfg)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastUsed[key] = time.Now()
	if b, ok := r.backends[key]; ok {
		return b, nil
	}

	b, err := r.factory(cfg)
	if err != nil {
		delete(r.lastUsed, key)
		return nil, err
	}
	r.backends[key] = b
	r.logger.Info("registered backend", "name", b.Name(), "mode", cfg.Mode)
	return b, nil
}

// BackendInfo describes a cached backend for status output.
type BackendInfo struct {
	Name           string             `json:"name"`
	MaxConcurrency int                `json:"max_concurrency"`
	Healthy        bool               `json:"healthy"`
	Error          string             `json:"error,omitempty"`
	LastUsed       time.Time          `json:"last_used"`
	RateLimit      *RateLimiterStatus `json:"rate_limit,omitempty"`
}

// Status reports every cached backend, most recently used first.
func (r *Registry) Status(ctx context.Context) []BackendInfo {
	r.mu.Lock()
	type entry struct {
		backend  VisionBackend
		lastUsed time.Time
	}
	entries := make([]entry, 0, len(r.backends))
	for key, b := range r.backends {
		entries = append(entries, entry{backend: b, lastUsed: r.lastUsed[key]})
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastUsed.After(entries[j].lastUsed)
	})

	infos := make([]BackendInfo, 0, len(entries))
	for _, e := range entries {
		info := BackendInfo{
			Name:           e.backend.Name(),
			MaxConcurrency: e.backend.MaxConcurrency(),
			Healthy:        true,
			LastUsed:       e.lastUsed,
		}
		if hc, ok := e.backend.(HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				info.Healthy = false
				info.Error = err.Error()
			}
		}
		if api, ok := e.backend.(*APIBackend); ok {
			status := api.RateLimiterStatus()
			info.RateLimit = &status
		}
		infos = append(infos, info)
	}
	return infos
}

// Len returns the number of cached backends.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.backends)
}

// Prune closes and forgets every backend not built from keep.
func (r *Registry) Prune(ctx context.Context, keep types.BackendConfig) error {
	keepKey := backendKey(keep)

	r.mu.Lock()
	var stale []VisionBackend
	for key, b := range r.backends {
		if key == keepKey {
			continue
		}
		stale = append(stale, b)
		delete(r.backends, key)
		delete(r.lastUsed, key)
	}
	r.mu.Unlock()

	return r.closeAll(ctx, stale)
}

// Close releases every cached backend.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	all := make([]VisionBackend, 0, len(r.backends))
	for _, b := range r.backends {
		all = append(all, b)
	}
	r.backends = make(map[string]VisionBackend)
	r.lastUsed = make(map[string]time.Time)
	r.mu.Unlock()

	return r.closeAll(ctx, all)
}

func (r *Registry) closeAll(ctx context.Context, backends []VisionBackend) error {
	var errs []error
	for _, b := range backends {
		if err := b.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", b.Name(), err))
			continue
		}
		r.logger.Info("unregistered backend", "name", b.Name())
	}
	return errors.Join(errs...)
}

// backendKey identifies the construction-relevant part of a snapshot.
// Extraction settings (expert text, routing, confidence) do not affect the backend.
// A local backend is keyed by its runtime alone: one resident model must sit
// behind one lock, and the call timeout travels on each GenerateRequest.
func backendKey(cfg types.BackendConfig) string {
	switch cfg.Mode {
	case types.ModeLocal:
		return fmt.Sprintf("local|%s|%s|%s", cfg.LocalImage, cfg.LocalModel, cfg.LocalPort)
	default:
		return fmt.Sprintf("%s|%s|%s|%s|%d|%g|%d|%s",
			cfg.Mode, cfg.APIServer, cfg.APIModel, cfg.APIKey,
			cfg.PoolSize, cfg.RateLimit, cfg.MaxRetries, cfg.Timeout)
	}
}
