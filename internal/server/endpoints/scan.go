package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/magicscan/internal/api"
	"github.com/jackzampolin/magicscan/internal/config"
	"github.com/jackzampolin/magicscan/internal/normalize"
	"github.com/jackzampolin/magicscan/internal/providers"
	"github.com/jackzampolin/magicscan/internal/scan"
	"github.com/jackzampolin/magicscan/internal/svcctx"
	"github.com/jackzampolin/magicscan/internal/types"
)

// maxUploadBytes bounds a single uploaded document.
const maxUploadBytes = 64 << 20

// AnalyzeRequest is the request body for POST /api/analyze.
type AnalyzeRequest struct {
	Path string `json:"path"`
}

// ExtractRequest is the request body for POST /api/extract.
type ExtractRequest struct {
	Paths              []string `json:"paths"`
	Sections           []string `json:"sections"`
	ExpertInstructions string   `json:"expert_instructions,omitempty"`
	PageInclude        string   `json:"page_include,omitempty"`
	PageExclude        string   `json:"page_exclude,omitempty"`
}

// snapshot applies per-request overrides to the server's current settings.
func (req ExtractRequest) snapshot(cm *config.Manager) types.BackendConfig {
	cfg := cm.Snapshot()
	if strings.TrimSpace(req.ExpertInstructions) != "" {
		cfg.UseExpertInstructions = true
		cfg.ExpertInstructions = req.ExpertInstructions
	}
	if req.PageInclude != "" {
		cfg.PageInclude = req.PageInclude
	}
	if req.PageExclude != "" {
		cfg.PageExclude = req.PageExclude
	}
	return cfg
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, config.ErrInvalidMode),
		errors.Is(err, config.ErrMissingAPIKey),
		errors.Is(err, config.ErrMissingServer),
		errors.Is(err, scan.ErrNoSections):
		return http.StatusBadRequest
	case errors.Is(err, normalize.ErrUnsupportedFormat),
		errors.Is(err, normalize.ErrEmptyDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, providers.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, providers.ErrBackendUnavailable),
		errors.Is(err, providers.ErrRequestRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AnalyzeEndpoint handles POST /api/analyze.
type AnalyzeEndpoint struct{}

var _ api.Endpoint = (*AnalyzeEndpoint)(nil)

func (e *AnalyzeEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/analyze", e.handler
}

func (e *AnalyzeEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Detect sections
//	@Description	Detect the sections of a template document from its first page
//	@Tags			scan
//	@Accept			json
//	@Produce		json
//	@Param			request	body		AnalyzeRequest	true	"Document path or URL"
//	@Success		200		{object}	scan.AnalysisResult
//	@Failure		400		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Failure		502		{object}	ErrorResponse
//	@Router			/api/analyze [post]
func (e *AnalyzeEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	analyze(w, r, normalize.Source{Path: req.Path})
}

func analyze(w http.ResponseWriter, r *http.Request, src normalize.Source) {
	ctx := r.Context()
	scanner := svcctx.ScannerFrom(ctx)
	cm := svcctx.ConfigManagerFrom(ctx)
	if scanner == nil || cm == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not initialized")
		return
	}

	res, err := scanner.AnalyzeDocument(ctx, src, cm.Snapshot())
	if err != nil {
		svcctx.LoggerFrom(ctx).Warn("analyze failed", "document", src.DisplayName(), "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *AnalyzeEndpoint) Command(serverURL func() string) *cobra.Command {
	var upload bool
	cmd := &cobra.Command{
		Use:   "analyze <file|url>",
		Short: "Detect the sections of a template document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(serverURL())
			var resp scan.AnalysisResult
			if upload {
				if err := client.Upload(cmd.Context(), "/api/analyze/upload", args[0], nil, &resp); err != nil {
					return err
				}
				return api.Output(resp)
			}
			if err := client.Post(cmd.Context(), "/api/analyze", AnalyzeRequest{Path: serverPath(args[0])}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&upload, "upload", false, "Upload the file instead of sending its path")
	return cmd
}

// AnalyzeUploadEndpoint handles POST /api/analyze/upload with a multipart file.
type AnalyzeUploadEndpoint struct{}

var _ api.Endpoint = (*AnalyzeUploadEndpoint)(nil)

func (e *AnalyzeUploadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/analyze/upload", e.handler
}

func (e *AnalyzeUploadEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Detect sections in an uploaded document
//	@Description	Upload a PDF or image and detect its sections
//	@Tags			scan
//	@Accept			mpfd
//	@Produce		json
//	@Param			file	formData	file	true	"PDF, PNG or JPEG document"
//	@Success		200		{object}	scan.AnalysisResult
//	@Failure		400		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Router			/api/analyze/upload [post]
func (e *AnalyzeUploadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, fh, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer f.Close()

	name := filepath.Base(fh.Filename)
	var dest string
	if homeDir := svcctx.HomeFrom(r.Context()); homeDir != nil {
		dir, err := homeDir.NewUploadDir()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		defer os.RemoveAll(dir)
		dest = filepath.Join(dir, name)
	}

	if dest == "" {
		data, err := io.ReadAll(f)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err))
			return
		}
		analyze(w, r, normalize.Source{Name: name, Data: data, MIMEType: fh.Header.Get("Content-Type")})
		return
	}

	out, err := os.Create(dest)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to store upload: %v", err))
		return
	}
	if _, err := io.Copy(out, f); err != nil {
		out.Close()
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err))
		return
	}
	if err := out.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	analyze(w, r, normalize.Source{Path: dest, Name: name, MIMEType: fh.Header.Get("Content-Type")})
}

func (e *AnalyzeUploadEndpoint) Command(serverURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:    "analyze-upload <file>",
		Short:  "Upload a document and detect its sections",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(serverURL())
			var resp scan.AnalysisResult
			if err := client.Upload(cmd.Context(), "/api/analyze/upload", args[0], nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ExtractEndpoint handles POST /api/extract.
type ExtractEndpoint struct{}

var _ api.Endpoint = (*ExtractEndpoint)(nil)

func (e *ExtractEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/extract", e.handler
}

func (e *ExtractEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Extract section values
//	@Description	Extract the requested sections from each document. The response has one entry per path, in request order.
//	@Tags			scan
//	@Accept			json
//	@Produce		json
//	@Param			request	body		ExtractRequest	true	"Documents and sections"
//	@Success		200		{array}		types.ExtractionResult
//	@Failure		400		{object}	ErrorResponse
//	@Router			/api/extract [post]
func (e *ExtractEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "paths is required")
		return
	}

	ctx := r.Context()
	scanner := svcctx.ScannerFrom(ctx)
	cm := svcctx.ConfigManagerFrom(ctx)
	if scanner == nil || cm == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not initialized")
		return
	}

	srcs := make([]normalize.Source, len(req.Paths))
	for i, p := range req.Paths {
		srcs[i] = normalize.Source{Path: p}
	}

	batch, err := scanner.ExtractValues(ctx, srcs, types.NewSectionSet(req.Sections...), req.snapshot(cm))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, batch.Results)
}

func (e *ExtractEndpoint) Command(serverURL func() string) *cobra.Command {
	var req ExtractRequest
	var sectionsFile string
	cmd := &cobra.Command{
		Use:   "extract <files...>",
		Short: "Extract section values from documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sectionsFile != "" {
				data, err := os.ReadFile(sectionsFile)
				if err != nil {
					return fmt.Errorf("failed to read sections file: %w", err)
				}
				req.Sections = append(req.Sections, types.ParseManualSections(string(data))...)
			}
			for _, a := range args {
				req.Paths = append(req.Paths, serverPath(a))
			}

			client := api.NewClient(serverURL())
			var resp []types.ExtractionResult
			if err := client.Post(cmd.Context(), "/api/extract", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringSliceVarP(&req.Sections, "section", "s", nil, "Section to extract (repeatable)")
	cmd.Flags().StringVar(&sectionsFile, "sections-file", "", "File listing sections, one per line or comma separated")
	cmd.Flags().StringVar(&req.ExpertInstructions, "expert", "", "Expert instructions appended to the extraction prompt")
	cmd.Flags().StringVar(&req.PageInclude, "page-include", "", "Only extract pages matching this description")
	cmd.Flags().StringVar(&req.PageExclude, "page-exclude", "", "Skip pages matching this description")
	return cmd
}

// serverPath makes a local path absolute so a server on the same machine can
// open it. URLs pass through.
func serverPath(p string) string {
	if normalize.IsURL(p) {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
