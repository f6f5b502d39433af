package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/magicscan/internal/api"
	"github.com/jackzampolin/magicscan/internal/prompts"
	"github.com/jackzampolin/magicscan/internal/svcctx"
)

// PromptResponse is one prompt template. Hash is what recorded model calls
// carry, so a call can be matched to the exact text that produced it.
type PromptResponse struct {
	Key         string       `json:"key"`
	Kind        prompts.Kind `json:"kind"`
	Text        string       `json:"text"`
	Description string       `json:"description,omitempty"`
	Variables   []string     `json:"variables,omitempty"`
	Hash        string       `json:"hash,omitempty"`
}

// PromptsListResponse lists prompts sorted by key.
type PromptsListResponse struct {
	Prompts []PromptResponse `json:"prompts"`
}

func toPromptResponse(p prompts.EmbeddedPrompt) PromptResponse {
	return PromptResponse{
		Key:         p.Key,
		Kind:        p.Kind,
		Text:        p.Text,
		Description: p.Description,
		Variables:   p.Variables,
		Hash:        p.Hash,
	}
}

// ListPromptsEndpoint handles GET /api/prompts.
type ListPromptsEndpoint struct{}

func (e *ListPromptsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/prompts", e.handler
}

func (e *ListPromptsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List prompts
//	@Description	The detection, extraction and routing templates with their hashes
//	@Tags			prompts
//	@Produce		json
//	@Param			kind	query		string	false	"detection, extraction or routing"
//	@Success		200		{object}	PromptsListResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/prompts [get]
func (e *ListPromptsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	scanner := svcctx.ScannerFrom(r.Context())
	if scanner == nil {
		writeError(w, http.StatusInternalServerError, "scanner not available")
		return
	}
	kind := prompts.Kind(strings.ToLower(r.URL.Query().Get("kind")))

	resp := PromptsListResponse{Prompts: []PromptResponse{}}
	for _, p := range scanner.Prompts().All() {
		if kind != prompts.KindUnknown && p.Kind != kind {
			continue
		}
		resp.Prompts = append(resp.Prompts, toPromptResponse(p))
	}
	slices.SortFunc(resp.Prompts, func(a, b PromptResponse) int { return strings.Compare(a.Key, b.Key) })
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListPromptsEndpoint) Command(serverURL func() string) *cobra.Command {
	var kind string
	var hashes bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prompt templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/prompts"
			if kind != "" {
				path += "?kind=" + url.QueryEscape(kind)
			}
			var resp PromptsListResponse
			if err := api.NewClient(serverURL()).Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			if hashes {
				for _, p := range resp.Prompts {
					fmt.Printf("%s\t%s\n", p.Hash, p.Key)
				}
				return nil
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Only prompts of this kind (detection, extraction, routing)")
	cmd.Flags().BoolVar(&hashes, "hashes", false, "Print hash and key only")
	return cmd
}

// GetPromptEndpoint handles GET /api/prompts/{key...}.
type GetPromptEndpoint struct{}

func (e *GetPromptEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/prompts/{key...}", e.handler
}

func (e *GetPromptEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get a prompt
//	@Description	One prompt template by key
//	@Tags			prompts
//	@Produce		json
//	@Param			key	path		string	true	"Prompt key, e.g. scan.extraction"
//	@Success		200	{object}	PromptResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/prompts/{key} [get]
func (e *GetPromptEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	scanner := svcctx.ScannerFrom(r.Context())
	if scanner == nil {
		writeError(w, http.StatusInternalServerError, "scanner not available")
		return
	}
	key, err := url.PathUnescape(r.PathValue("key"))
	if err != nil || key == "" {
		writeError(w, http.StatusBadRequest, "invalid prompt key")
		return
	}
	p, err := scanner.Prompts().Get(key)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toPromptResponse(p))
}

func (e *GetPromptEndpoint) Command(serverURL func() string) *cobra.Command {
	var textOnly bool
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Show one prompt template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp PromptResponse
			if err := api.NewClient(serverURL()).Get(cmd.Context(), "/api/prompts/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			if textOnly {
				fmt.Println(resp.Text)
				return nil
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&textOnly, "text", false, "Print the template text only")
	return cmd
}
