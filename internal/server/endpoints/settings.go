package endpoints

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/magicscan/internal/api"
	"github.com/jackzampolin/magicscan/internal/config"
	"github.com/jackzampolin/magicscan/internal/svcctx"
)

// SettingsResponse lists config entries with their effective values, after
// environment overrides. Literal API keys are redacted.
type SettingsResponse struct {
	ConfigFile string         `json:"config_file,omitempty"`
	Settings   []config.Entry `json:"settings"`
}

// SettingResponse holds one config entry.
type SettingResponse struct {
	Entry *config.Entry `json:"entry,omitempty"`
	Error string        `json:"error,omitempty"`
}

// settings returns the redacted entries whose key starts with prefix.
func settings(cm *config.Manager, prefix string) SettingsResponse {
	resp := SettingsResponse{ConfigFile: cm.ConfigFile(), Settings: []config.Entry{}}
	for _, e := range config.Redact(cm.Entries()) {
		if strings.HasPrefix(e.Key, prefix) {
			resp.Settings = append(resp.Settings, e)
		}
	}
	return resp
}

// ListSettingsEndpoint handles GET /api/settings.
type ListSettingsEndpoint struct{}

func (e *ListSettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/settings", e.handler
}

func (e *ListSettingsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List settings
//	@Description	Effective backend and extraction settings, API keys redacted
//	@Tags			settings
//	@Produce		json
//	@Param			prefix	query		string	false	"Key prefix, e.g. backend."
//	@Success		200		{object}	SettingsResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/settings [get]
func (e *ListSettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	cm := svcctx.ConfigManagerFrom(r.Context())
	if cm == nil {
		writeError(w, http.StatusInternalServerError, "config manager not available")
		return
	}
	writeJSON(w, http.StatusOK, settings(cm, r.URL.Query().Get("prefix")))
}

func (e *ListSettingsEndpoint) Command(serverURL func() string) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the server's effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/settings"
			if prefix != "" {
				path += "?prefix=" + url.QueryEscape(prefix)
			}
			var resp SettingsResponse
			if err := api.NewClient(serverURL()).Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only keys with this prefix, e.g. backend.")
	return cmd
}

// GetSettingEndpoint handles GET /api/settings/{key...}.
type GetSettingEndpoint struct{}

func (e *GetSettingEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/settings/{key...}", e.handler
}

func (e *GetSettingEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get a setting
//	@Description	One effective setting by key
//	@Tags			settings
//	@Produce		json
//	@Param			key	path		string	true	"Setting key, e.g. backend.mode"
//	@Success		200	{object}	SettingResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/settings/{key} [get]
func (e *GetSettingEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	cm := svcctx.ConfigManagerFrom(r.Context())
	if cm == nil {
		writeError(w, http.StatusInternalServerError, "config manager not available")
		return
	}
	key, err := url.PathUnescape(r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key encoding")
		return
	}
	for _, entry := range settings(cm, key).Settings {
		if entry.Key == key {
			writeJSON(w, http.StatusOK, SettingResponse{Entry: &entry})
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown setting "+key)
}

func (e *GetSettingEndpoint) Command(serverURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show one effective setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp SettingResponse
			if err := api.NewClient(serverURL()).Get(cmd.Context(), "/api/settings/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp.Entry)
		},
	}
}

// ReloadSettingsEndpoint handles POST /api/settings/reload.
type ReloadSettingsEndpoint struct{}

func (e *ReloadSettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/settings/reload", e.handler
}

func (e *ReloadSettingsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Reload settings
//	@Description	Re-read the config file and prune backends whose settings changed. Running batches keep the snapshot they started with.
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	SettingsResponse
//	@Failure		400	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/settings/reload [post]
func (e *ReloadSettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	cm := svcctx.ConfigManagerFrom(r.Context())
	if cm == nil {
		writeError(w, http.StatusInternalServerError, "config manager not available")
		return
	}
	if cm.ConfigFile() == "" {
		writeError(w, http.StatusBadRequest, "server was started without a config file")
		return
	}
	if err := cm.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	svcctx.LoggerFrom(r.Context()).Info("settings reloaded", "file", cm.ConfigFile(), "mode", cm.Snapshot().Mode)
	writeJSON(w, http.StatusOK, settings(cm, ""))
}

func (e *ReloadSettingsEndpoint) Command(serverURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Make the server re-read its config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp SettingsResponse
			if err := api.NewClient(serverURL()).Post(cmd.Context(), "/api/settings/reload", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
