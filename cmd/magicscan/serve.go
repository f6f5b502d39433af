package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/magicscan/internal/server"
)

var (
	serveHost string
	servePort string
	serveMock bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the magicscan server",
	Long: `Start the magicscan HTTP server.

The server exposes analyze and extract over HTTP, keeps a history of model
calls, and hot-reloads its config file. Backends are built on first use;
in local mode the model container is stopped when the server shuts down.

The server provides:
  - /health       - Basic server health check
  - /status       - Backend mode, cached backends and prompt hashes
  - /swagger      - API documentation

Examples:
  magicscan serve                    # Start on the configured port (8080)
  magicscan serve --port 3000        # Start on custom port
  magicscan serve --host 0.0.0.0     # Bind to all interfaces
  magicscan serve --mock             # Serve scripted replies, no model`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		h, err := getHome()
		if err != nil {
			return err
		}
		cm, err := loadConfig(h)
		if err != nil {
			return err
		}
		cm.WatchConfig()

		host, port := serveHost, servePort
		if host == "" {
			host = cm.Get().Server.Host
		}
		if port == "" {
			port = cm.Get().Server.Port
		}

		registry := newRegistry(h, logger)
		if serveMock {
			useMockBackend(registry)
		}

		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			ConfigManager: cm,
			Home:          h,
			Registry:      registry,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from config)")
	serveCmd.Flags().BoolVar(&serveMock, "mock", false, "Use a scripted backend instead of a model")

	rootCmd.AddCommand(serveCmd)
}
