package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/magicscan/internal/api"
	"github.com/jackzampolin/magicscan/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create and inspect the config file",
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config to the home directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := getHome()
		if err != nil {
			return err
		}
		path := cfgFile
		if path == "" {
			path = h.ConfigPath()
		}
		if h.ConfigExists() && path == h.ConfigPath() && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := getHome()
		if err != nil {
			return err
		}
		cm, err := loadConfig(h)
		if err != nil {
			return err
		}

		resp := struct {
			ConfigFile string         `json:"config_file" yaml:"config_file"`
			Mode       string         `json:"mode" yaml:"mode"`
			Valid      bool           `json:"valid" yaml:"valid"`
			Problem    string         `json:"problem,omitempty" yaml:"problem,omitempty"`
			Settings   []config.Entry `json:"settings" yaml:"settings"`
		}{
			ConfigFile: cm.ConfigFile(),
			Mode:       cm.Snapshot().Mode,
			Valid:      true,
			Settings:   config.Redact(cm.Entries()),
		}
		if err := config.Validate(cm.Snapshot()); err != nil {
			resp.Valid = false
			resp.Problem = err.Error()
		}
		return api.Output(resp)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
