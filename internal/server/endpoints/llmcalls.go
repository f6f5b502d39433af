package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/magicscan/internal/api"
	"github.com/jackzampolin/magicscan/internal/llmcall"
	"github.com/jackzampolin/magicscan/internal/svcctx"
)

const defaultCallLimit = 100

// LLMCallsResponse is a page of recorded model calls, newest first.
type LLMCallsResponse struct {
	Calls []llmcall.Call `json:"calls"`
	Total int            `json:"total"`
}

// LLMCallResponse wraps one recorded call.
type LLMCallResponse struct {
	Call  *llmcall.Call `json:"call,omitempty"`
	Error string        `json:"error,omitempty"`
}

// LLMCallCountsResponse counts one document's calls per prompt key.
type LLMCallCountsResponse struct {
	Counts map[string]int `json:"counts"`
}

// callFilter reads list filters from query parameters.
func callFilter(q url.Values) (llmcall.QueryFilter, error) {
	f := llmcall.QueryFilter{
		Document:  q.Get("document"),
		PromptKey: q.Get("prompt_key"),
		Provider:  q.Get("provider"),
		Model:     q.Get("model"),
		Limit:     defaultCallLimit,
	}

	if v := q.Get("success"); v != "" {
		ok, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("success must be true or false, got %q", v)
		}
		f.Success = &ok
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("%s must be a non-negative integer, got %q", name, v)
		}
		*dst = n
	}
	if f.Limit == 0 {
		f.Limit = defaultCallLimit
	}
	for name, dst := range map[string]**time.Time{"after": &f.After, "before": &f.Before} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("%s must be an RFC3339 time such as 2026-01-15T00:00:00Z, got %q", name, v)
		}
		*dst = &ts
	}
	return f, nil
}

// ListLLMCallsEndpoint handles GET /api/llmcalls.
type ListLLMCallsEndpoint struct{}

func (e *ListLLMCallsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/llmcalls", e.handler
}

func (e *ListLLMCallsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List model calls
//	@Description	Recorded detection, routing and extraction calls, newest first
//	@Tags			llmcalls
//	@Produce		json
//	@Param			document	query		string	false	"Document display name"
//	@Param			prompt_key	query		string	false	"Prompt key, e.g. scan.extraction"
//	@Param			provider	query		string	false	"Backend provider"
//	@Param			model		query		string	false	"Model name"
//	@Param			success		query		bool	false	"true for successful calls, false for failures"
//	@Param			limit		query		int		false	"Max results (default 100)"
//	@Param			offset		query		int		false	"Result offset"
//	@Param			after		query		string	false	"Only calls after this RFC3339 time"
//	@Param			before		query		string	false	"Only calls before this RFC3339 time"
//	@Success		200			{object}	LLMCallsResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/llmcalls [get]
func (e *ListLLMCallsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.LLMCallStoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusInternalServerError, "call store not available")
		return
	}
	filter, err := callFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	calls := store.List(filter)
	writeJSON(w, http.StatusOK, LLMCallsResponse{Calls: calls, Total: len(calls)})
}

func (e *ListLLMCallsEndpoint) Command(serverURL func() string) *cobra.Command {
	var (
		document, promptKey, provider, model string
		limit, offset                        int
		failed, succeeded                    bool
		since                                time.Duration
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded model calls",
		Example: `  magicscan api llmcalls list --document invoice.pdf --failed
  magicscan api llmcalls list --prompt-key scan.extraction --since 10m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if failed && succeeded {
				return fmt.Errorf("--failed and --success are mutually exclusive")
			}
			q := url.Values{}
			for k, v := range map[string]string{
				"document": document, "prompt_key": promptKey, "provider": provider, "model": model,
			} {
				if v != "" {
					q.Set(k, v)
				}
			}
			switch {
			case failed:
				q.Set("success", "false")
			case succeeded:
				q.Set("success", "true")
			}
			if since > 0 {
				q.Set("after", time.Now().Add(-since).UTC().Format(time.RFC3339))
			}
			q.Set("limit", strconv.Itoa(limit))
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}

			var resp LLMCallsResponse
			if err := api.NewClient(serverURL()).Get(cmd.Context(), "/api/llmcalls?"+q.Encode(), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&document, "document", "", "Only calls for this document")
	cmd.Flags().StringVar(&promptKey, "prompt-key", "", "Only calls made with this prompt")
	cmd.Flags().StringVar(&provider, "provider", "", "Only calls to this provider")
	cmd.Flags().StringVar(&model, "model", "", "Only calls to this model")
	cmd.Flags().BoolVar(&succeeded, "success", false, "Only successful calls")
	cmd.Flags().BoolVar(&failed, "failed", false, "Only failed calls")
	cmd.Flags().DurationVar(&since, "since", 0, "Only calls within this long ago, e.g. 15m")
	cmd.Flags().IntVar(&limit, "limit", defaultCallLimit, "Max results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Result offset")
	return cmd
}

// GetLLMCallEndpoint handles GET /api/llmcalls/{id}.
type GetLLMCallEndpoint struct{}

func (e *GetLLMCallEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/llmcalls/{id}", e.handler
}

func (e *GetLLMCallEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get a model call
//	@Description	One recorded call with its prompt, response and error
//	@Tags			llmcalls
//	@Produce		json
//	@Param			id	path		string	true	"Call ID"
//	@Success		200	{object}	LLMCallResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/llmcalls/{id} [get]
func (e *GetLLMCallEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.LLMCallStoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusInternalServerError, "call store not available")
		return
	}
	id := r.PathValue("id")
	call, ok := store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no call %q (it may have been evicted)", id))
		return
	}
	writeJSON(w, http.StatusOK, LLMCallResponse{Call: call})
}

func (e *GetLLMCallEndpoint) Command(serverURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one recorded model call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp LLMCallResponse
			if err := api.NewClient(serverURL()).Get(cmd.Context(), "/api/llmcalls/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp.Call)
		},
	}
}

// LLMCallCountsEndpoint handles GET /api/llmcalls/counts/{document}.
type LLMCallCountsEndpoint struct{}

func (e *LLMCallCountsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/llmcalls/counts/{document}", e.handler
}

func (e *LLMCallCountsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Count model calls by prompt key
//	@Description	How many detection, routing and extraction calls a document needed
//	@Tags			llmcalls
//	@Produce		json
//	@Param			document	path		string	true	"Document display name"
//	@Success		200			{object}	LLMCallCountsResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/llmcalls/counts/{document} [get]
func (e *LLMCallCountsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.LLMCallStoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusInternalServerError, "call store not available")
		return
	}
	writeJSON(w, http.StatusOK, LLMCallCountsResponse{Counts: store.CountByPromptKey(r.PathValue("document"))})
}

func (e *LLMCallCountsEndpoint) Command(serverURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "counts <document>",
		Short: "Count a document's model calls per prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp LLMCallCountsResponse
			if err := api.NewClient(serverURL()).Get(cmd.Context(), "/api/llmcalls/counts/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp.Counts)
		},
	}
}
