// Package svcctx carries the running server's services to endpoint handlers
// through the request context. It sits apart from server so endpoints can
// import it.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/magicscan/internal/config"
	"github.com/jackzampolin/magicscan/internal/home"
	"github.com/jackzampolin/magicscan/internal/llmcall"
	"github.com/jackzampolin/magicscan/internal/providers"
	"github.com/jackzampolin/magicscan/internal/scan"
)

// Services is what a started server shares with its handlers.
type Services struct {
	Scanner       *scan.Scanner
	Registry      *providers.Registry
	ConfigManager *config.Manager
	LLMCallStore  *llmcall.Store
	Home          *home.Dir
	Logger        *slog.Logger
}

type key struct{}

// WithServices attaches s to ctx.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, key{}, s)
}

// ServicesFrom returns the attached services, or nil before the server starts.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(key{}).(*Services)
	return s
}

// pick reads one field of the attached services, or T's zero value.
func pick[T any](ctx context.Context, field func(*Services) T) T {
	if s := ServicesFrom(ctx); s != nil {
		return field(s)
	}
	var zero T
	return zero
}

func ScannerFrom(ctx context.Context) *scan.Scanner {
	return pick(ctx, func(s *Services) *scan.Scanner { return s.Scanner })
}

func RegistryFrom(ctx context.Context) *providers.Registry {
	return pick(ctx, func(s *Services) *providers.Registry { return s.Registry })
}

func ConfigManagerFrom(ctx context.Context) *config.Manager {
	return pick(ctx, func(s *Services) *config.Manager { return s.ConfigManager })
}

func LLMCallStoreFrom(ctx context.Context) *llmcall.Store {
	return pick(ctx, func(s *Services) *llmcall.Store { return s.LLMCallStore })
}

func HomeFrom(ctx context.Context) *home.Dir {
	return pick(ctx, func(s *Services) *home.Dir { return s.Home })
}

// LoggerFrom never returns nil; it falls back to slog.Default.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if l := pick(ctx, func(s *Services) *slog.Logger { return s.Logger }); l != nil {
		return l
	}
	return slog.Default()
}
