// Package api ties each HTTP operation of the magicscan server to the CLI
// command that calls it, and holds the client and output helpers those
// commands share.
package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint is one server operation, exposed twice: as a route on the server
// mux and as a "magicscan api ..." command that calls that route.
type Endpoint interface {
	// Route is the pattern method, path and the handler serving it.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit is true for routes that need the scanner, backend
	// registry or call store. They answer 503 until the server has started.
	RequiresInit() bool

	// Command builds the CLI side. serverURL is resolved when the command
	// runs so --server can be parsed first.
	Command(serverURL func() string) *cobra.Command
}
