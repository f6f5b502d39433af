package endpoints

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/swaggo/swag"

	"github.com/jackzampolin/magicscan/docs"
	"github.com/jackzampolin/magicscan/internal/api"
)

// swaggerUI loads Swagger UI from a CDN and points it at /swagger.json.
const swaggerUI = `<!DOCTYPE html>
<html>
<head>
  <title>magicscan API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({url: '/swagger.json', dom_id: '#swagger-ui', layout: 'BaseLayout',
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset]});
  </script>
</body>
</html>`

// SwaggerEndpoint serves the OpenAPI document registered by the docs package.
type SwaggerEndpoint struct{}

func (e *SwaggerEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/swagger.json", e.handler
}

func (e *SwaggerEndpoint) RequiresInit() bool { return false }

func (e *SwaggerEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc(docs.SwaggerInfo.InstanceName())
	if err != nil {
		writeError(w, http.StatusNotFound, "OpenAPI document not registered")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write([]byte(doc))
}

// undocumented lists registered routes, as "METHOD /path", that the OpenAPI
// paths object does not describe. The Swagger routes themselves are skipped.
func undocumented(paths map[string]any, eps []api.Endpoint) []string {
	var missing []string
	for _, ep := range eps {
		method, path, _ := ep.Route()
		if strings.HasPrefix(path, "/swagger") {
			continue
		}
		ops, _ := paths[strings.ReplaceAll(path, "...}", "}")].(map[string]any)
		if _, ok := ops[strings.ToLower(method)]; !ok {
			missing = append(missing, method+" "+path)
		}
	}
	sort.Strings(missing)
	return missing
}

func (e *SwaggerEndpoint) Command(serverURL func() string) *cobra.Command {
	var file string
	var check bool
	cmd := &cobra.Command{
		Use:   "swagger",
		Short: "Fetch the server's OpenAPI document",
		RunE: func(cmd *cobra.Command, args []string) error {
			var spec map[string]any
			if err := api.NewClient(serverURL()).Get(cmd.Context(), "/swagger.json", &spec); err != nil {
				return err
			}
			if check {
				paths, _ := spec["paths"].(map[string]any)
				missing := undocumented(paths, NewRegistry().Endpoints())
				for _, m := range missing {
					fmt.Fprintln(os.Stderr, "undocumented:", m)
				}
				if len(missing) > 0 {
					return fmt.Errorf("%d route(s) missing from the OpenAPI document", len(missing))
				}
			}
			if file != "" {
				return api.OutputToFile(spec, file)
			}
			return api.Output(spec)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Write the document here; .json or .yaml picks the format")
	cmd.Flags().BoolVar(&check, "check", false, "Fail if a route of this build is not documented")
	return cmd
}

// SwaggerUIEndpoint serves Swagger UI at /swagger.
type SwaggerUIEndpoint struct{}

func (e *SwaggerUIEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/swagger", e.handler
}

func (e *SwaggerUIEndpoint) RequiresInit() bool { return false }

func (e *SwaggerUIEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(swaggerUI))
}

func (e *SwaggerUIEndpoint) Command(serverURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:    "swagger-ui",
		Hidden: true,
		Short:  "Print the Swagger UI address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println("Open in browser:", serverURL()+"/swagger")
			return nil
		},
	}
}
