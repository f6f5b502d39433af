package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Registry holds all registered endpoints.
type Registry struct {
	endpoints []Endpoint
	groups    []group
}

type group struct {
	name, short string
	endpoints   []Endpoint
}

// NewRegistry creates a new endpoint registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an endpoint to the registry.
func (r *Registry) Register(ep Endpoint) {
	r.endpoints = append(r.endpoints, ep)
}

// RegisterGroup adds endpoints whose CLI commands live under a shared
// subcommand, e.g. "llmcalls list".
func (r *Registry) RegisterGroup(name, short string, eps ...Endpoint) {
	r.endpoints = append(r.endpoints, eps...)
	r.groups = append(r.groups, group{name: name, short: short, endpoints: eps})
}

// RegisterRoutes registers all endpoint HTTP routes with the given mux.
// initMiddleware wraps handlers that require full server initialization.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, initMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		if ep.RequiresInit() {
			handler = initMiddleware(handler)
		}
		mux.HandleFunc(method+" "+path, handler)
	}
}

// BuildCommands returns a cobra.Command tree for all registered endpoints.
// Grouped endpoints are nested under their group's command.
// serverURL is resolved when a command runs.
func (r *Registry) BuildCommands(serverURL func() string) *cobra.Command {
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Commands that call the running server",
		Long: `API commands call the running magicscan server via HTTP.

These commands require a running server (magicscan serve). The server URL
comes from --server, then $MAGICSCAN_SERVER, then server.host and
server.port in the config file.

Examples:
  magicscan api health                          # Check server health
  magicscan api analyze template.pdf            # Detect sections
  magicscan api extract a.pdf b.png -s Total    # Extract values
  magicscan api llmcalls list --failed          # Inspect failed model calls`,
	}

	grouped := make(map[Endpoint]bool)
	for _, g := range r.groups {
		groupCmd := &cobra.Command{Use: g.name, Short: g.short}
		for _, ep := range g.endpoints {
			groupCmd.AddCommand(ep.Command(serverURL))
			grouped[ep] = true
		}
		apiCmd.AddCommand(groupCmd)
	}

	for _, ep := range r.endpoints {
		if grouped[ep] {
			continue
		}
		apiCmd.AddCommand(ep.Command(serverURL))
	}

	return apiCmd
}

// Endpoints returns all registered endpoints.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}
