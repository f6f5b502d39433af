package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/magicscan/internal/api"
	"github.com/jackzampolin/magicscan/internal/config"
	"github.com/jackzampolin/magicscan/internal/home"
	"github.com/jackzampolin/magicscan/internal/llmcall"
	"github.com/jackzampolin/magicscan/internal/providers"
	"github.com/jackzampolin/magicscan/internal/scan"
	"github.com/jackzampolin/magicscan/internal/server/endpoints"
	"github.com/jackzampolin/magicscan/internal/svcctx"
)

// Server is the magicscan HTTP server. It owns the backend registry and
// closes every cached backend (and any local runtime container) on shutdown.
type Server struct {
	httpServer *http.Server
	registry   *providers.Registry
	scanner    *scan.Scanner
	callStore  *llmcall.Store
	configMgr  *config.Manager
	home       *home.Dir
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Home is the data directory for uploads and local model weights
	Home *home.Dir
	// Registry overrides the backend registry (tests use a mock factory)
	Registry *providers.Registry
	// LLMCallStore overrides the call history store
	LLMCallStore *llmcall.Store
	// Normalizer overrides document normalization
	Normalizer scan.Normalizer
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LLMCallStore == nil {
		cfg.LLMCallStore = llmcall.NewStore(0)
	}

	registry := cfg.Registry
	if registry == nil {
		opts := providers.BackendOptions{Logger: cfg.Logger}
		if cfg.Home != nil {
			opts.ModelsPath = cfg.Home.ModelsDir()
		}
		registry = providers.NewRegistry(opts)
	}

	s := &Server{
		registry:  registry,
		callStore: cfg.LLMCallStore,
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		logger:    cfg.Logger,
	}
	s.scanner = scan.New(scan.Options{
		Backends:   registry,
		Normalizer: cfg.Normalizer,
		Recorder:   llmcall.NewRecorder(cfg.LLMCallStore),
		Logger:     cfg.Logger,
	})

	// Backends built from superseded settings are released once no new
	// batch can pick them up.
	cfg.ConfigManager.OnChange(func(c *config.Config) {
		if err := registry.Prune(context.Background(), c.Snapshot()); err != nil {
			cfg.Logger.Warn("failed to prune backends", "error", err)
		}
		cfg.Logger.Info("backend settings reloaded from config", "mode", c.Snapshot().Mode)
	})

	s.endpointRegistry = endpoints.NewRegistry()

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     s.withServices(mux),
		ReadTimeout: 60 * time.Second,
		// Extraction over a large batch holds the response open.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := config.Validate(s.configMgr.Snapshot()); err != nil {
		s.logger.Warn("backend settings incomplete; scan requests will fail until fixed", "error", err)
	}

	if s.home != nil {
		if err := s.home.EnsureExists(); err != nil {
			s.setNotRunning()
			return fmt.Errorf("failed to prepare home directory: %w", err)
		}
	}

	s.mu.Lock()
	s.services = &svcctx.Services{
		Scanner:       s.scanner,
		Registry:      s.registry,
		ConfigManager: s.configMgr,
		Logger:        s.logger,
		Home:          s.home,
		LLMCallStore:  s.callStore,
	}
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr, "mode", s.configMgr.Snapshot().Mode)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown stops the HTTP server and releases every backend.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := s.registry.Close(shutdownCtx); err != nil {
		s.logger.Error("backend close error", "error", err)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Registry returns the backend registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// Scanner returns the scanner serving requests.
func (s *Server) Scanner() *scan.Scanner {
	return s.scanner
}

func (s *Server) currentServices() *svcctx.Services {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc := s.currentServices(); svc != nil {
			ctx = svcctx.WithServices(ctx, svc)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until Start has wired the services.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.currentServices() == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
