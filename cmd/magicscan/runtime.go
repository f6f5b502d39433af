package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/magicscan/internal/providers"
)

var runtimeCmd = &cobra.Command{
	Use:   "runtime",
	Short: "Manage the local model container",
	Long: `Manage the container that serves the model in local mode.

The server starts the container on first use and stops it on shutdown.
These commands manage it directly, e.g. to pre-pull the model.
Model weights persist in ~/.magicscan/models/.

Examples:
  magicscan runtime start   # Start the container and pull the model
  magicscan runtime stop    # Stop the container (weights preserved)
  magicscan runtime status  # Check container status
  magicscan runtime logs    # View container logs`,
}

var runtimeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the model container and pull the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rt, err := getRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		fmt.Println("Starting model runtime...")
		baseURL, err := rt.Start(ctx)
		if err != nil {
			return fmt.Errorf("failed to start runtime: %w", err)
		}

		fmt.Printf("Model runtime is serving at %s\n", baseURL)
		return nil
	},
}

var runtimeStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the model container",
	Long: `Stop the model container.

This unloads the model but keeps the container and weights. Use
'magicscan runtime start' to restart it later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rt, err := getRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		fmt.Println("Stopping model runtime...")
		if err := rt.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop runtime: %w", err)
		}

		fmt.Println("Model runtime stopped")
		return nil
	},
}

var runtimeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show model container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rt, err := getRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		status, err := rt.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		switch status {
		case "running":
			fmt.Printf("Status: %s\n", status)
			fmt.Printf("URL: %s\n", rt.URL())

			client := &http.Client{Timeout: 2 * time.Second}
			resp, err := client.Get(rt.URL() + "/api/tags")
			if err != nil {
				fmt.Printf("Health: unhealthy (%v)\n", err)
			} else {
				resp.Body.Close()
				fmt.Println("Health: healthy")
			}
		case "not_found":
			fmt.Printf("Status: %s (use 'magicscan runtime start' to create)\n", status)
		default:
			fmt.Printf("Status: %s (use 'magicscan runtime start' to start)\n", status)
		}
		return nil
	},
}

var logsTail string

var runtimeLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show model container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := getRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		logs, err := rt.Logs(cmd.Context(), logsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}

		fmt.Print(logs)
		return nil
	},
}

var runtimeRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the model container",
	Long: `Remove the model container.

Weights in ~/.magicscan/models/ are NOT deleted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := getRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		fmt.Println("Removing model container...")
		if err := rt.Remove(cmd.Context()); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}

		fmt.Println("Model container removed (weights preserved)")
		return nil
	},
}

func init() {
	runtimeCmd.AddCommand(runtimeStartCmd)
	runtimeCmd.AddCommand(runtimeStopCmd)
	runtimeCmd.AddCommand(runtimeStatusCmd)
	runtimeCmd.AddCommand(runtimeLogsCmd)
	runtimeCmd.AddCommand(runtimeRemoveCmd)

	runtimeLogsCmd.Flags().StringVar(&logsTail, "tail", "100", "Number of lines to show from the end")

	rootCmd.AddCommand(runtimeCmd)
}

// getRuntime builds the runtime described by the current config.
func getRuntime() (*providers.DockerRuntime, error) {
	h, err := getHome()
	if err != nil {
		return nil, err
	}
	cm, err := loadConfig(h)
	if err != nil {
		return nil, err
	}
	cfg := cm.Snapshot()
	return providers.NewDockerRuntime(providers.DockerRuntimeConfig{
		Image:      cfg.LocalImage,
		Model:      cfg.LocalModel,
		HostPort:   cfg.LocalPort,
		ModelsPath: h.ModelsDir(),
	})
}
