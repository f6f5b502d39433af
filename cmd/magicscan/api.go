package main

import (
	"net"
	"os"

	"github.com/jackzampolin/magicscan/internal/config"
	"github.com/jackzampolin/magicscan/internal/home"
	"github.com/jackzampolin/magicscan/internal/server/endpoints"
)

var serverURL string

// resolveServerURL picks the server the api commands talk to: --server,
// then MAGICSCAN_SERVER, then the host and port "magicscan serve" would
// listen on with the same config.
func resolveServerURL() string {
	if serverURL != "" {
		return serverURL
	}
	if env := os.Getenv("MAGICSCAN_SERVER"); env != "" {
		return env
	}

	srv := config.DefaultConfig().Server
	if h, err := home.New(homeDir); err == nil {
		if cm, err := loadConfig(h); err == nil {
			srv = cm.Get().Server
		}
	}
	host := srv.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, srv.Port)
}

func init() {
	apiCmd := endpoints.NewRegistry().BuildCommands(resolveServerURL)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "", "server URL (default: $MAGICSCAN_SERVER or the configured server.host:server.port)",
	)
	rootCmd.AddCommand(apiCmd)
}
