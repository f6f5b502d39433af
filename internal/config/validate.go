package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackzampolin/magicscan/internal/providers"
	"github.com/jackzampolin/magicscan/internal/types"
)

// Configuration errors are fatal: they are reported before any document is processed.
var (
	ErrInvalidMode   = errors.New("invalid backend mode")
	ErrMissingAPIKey = errors.New("missing API key")
	ErrMissingServer = errors.New("missing API server")
)

// Validate checks a backend snapshot before a batch starts.
// An API key is required only when the server is not on the local machine.
func Validate(cfg types.BackendConfig) error {
	switch cfg.Mode {
	case types.ModeLocal:
		return nil
	case types.ModeAPI:
	default:
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidMode, cfg.Mode, types.ModeAPI, types.ModeLocal)
	}

	server := strings.TrimSpace(cfg.APIServer)
	if server == "" {
		return ErrMissingServer
	}
	host := providers.ServerHost(server)
	if host == "" {
		return fmt.Errorf("%w: cannot parse %q", ErrMissingServer, server)
	}
	if cfg.APIKey == "" && !providers.IsLocalHost(host) {
		return fmt.Errorf("%w: %s is not a local server", ErrMissingAPIKey, host)
	}
	return nil
}
