// Package normalize turns a PDF or image input into a short sequence of page
// images suitable for vision-model calls.
package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for DecodeConfig
	_ "image/png"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jackzampolin/magicscan/internal/types"
)

var (
	// ErrUnsupportedFormat is returned when the input cannot be read as a PDF or image.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrEmptyDocument is returned when the input has no renderable pages.
	ErrEmptyDocument = errors.New("empty document")
)

// DefaultDPI is the resolution PDF pages are rendered at.
const DefaultDPI = 300

// Source describes one input document. Either Path or Data must be set.
// Path may also be an http(s) URL, which is downloaded first.
type Source struct {
	Path     string
	Data     []byte
	MIMEType string
	Name     string
}

// DisplayName returns the name used to label results for this source.
func (s Source) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if IsURL(s.Path) {
		return s.Path
	}
	if s.Path != "" {
		return filepath.Base(s.Path)
	}
	return "document"
}

// Options configures a Normalizer.
type Options struct {
	DPI      int
	Renderer Renderer
	Counter  PageCounter
	Fetcher  *Fetcher
	TempDir  string // parent for per-document temp dirs, "" = os.TempDir()
	Logger   *slog.Logger
}

// Normalizer converts sources into documents.
type Normalizer struct {
	dpi      int
	renderer Renderer
	counter  PageCounter
	fetcher  *Fetcher
	tempDir  string
	logger   *slog.Logger
}

// New creates a Normalizer. Missing options fall back to pdftoppm rendering at 300 dpi.
func New(opts Options) *Normalizer {
	if opts.DPI <= 0 {
		opts.DPI = DefaultDPI
	}
	if opts.Renderer == nil {
		opts.Renderer = PopplerRenderer{}
	}
	if opts.Counter == nil {
		opts.Counter = PDFCPUCounter{}
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewFetcher(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Normalizer{
		dpi:      opts.DPI,
		renderer: opts.Renderer,
		counter:  opts.Counter,
		fetcher:  opts.Fetcher,
		tempDir:  opts.TempDir,
		logger:   opts.Logger,
	}
}

// Normalize loads src and renders at most types.MaxPDFPages pages.
// The returned document owns a temp directory; callers must call Cleanup.
// On error nothing is left on disk.
func (n *Normalizer) Normalize(ctx context.Context, src Source, dpi int) (doc *types.Document, err error) {
	if dpi <= 0 {
		dpi = n.dpi
	}

	workDir, err := os.MkdirTemp(n.tempDir, "magicscan-doc-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() error { return os.RemoveAll(workDir) }
	defer func() {
		if err != nil {
			_ = cleanup()
		}
	}()

	data, path, err := n.load(ctx, src, workDir)
	if err != nil {
		return nil, err
	}

	mime := DetectMIME(src.MIMEType, path, data)
	doc = &types.Document{
		ID:         uuid.New().String(),
		Name:       src.DisplayName(),
		SourcePath: src.Path,
		MIMEType:   mime,
	}

	switch {
	case mime == "application/pdf":
		if err := n.loadPDF(ctx, doc, path, data, workDir, dpi); err != nil {
			return nil, err
		}
	case supported(mime):
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("%w: cannot decode image %s: %v", ErrUnsupportedFormat, doc.Name, err)
		}
		doc.Pages = []types.Page{{Number: 1, Image: data, MIMEType: mime, Path: path}}
		doc.TotalPages = 1
	default:
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, doc.Name, mime)
	}

	if len(doc.Pages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, doc.Name)
	}

	doc.SetCleanup(cleanup)
	n.logger.Debug("document normalized",
		"document", doc.Name,
		"pages", len(doc.Pages),
		"total_pages", doc.TotalPages,
		"truncated", doc.Truncated,
	)
	return doc, nil
}

// load resolves the source bytes and a local path for them, downloading URLs
// and spilling in-memory data into workDir so PDF rendering has a file to read.
func (n *Normalizer) load(ctx context.Context, src Source, workDir string) ([]byte, string, error) {
	switch {
	case len(src.Data) > 0:
		name := filepath.Base(src.DisplayName())
		path := filepath.Join(workDir, "input-"+name)
		if err := os.WriteFile(path, src.Data, 0o600); err != nil {
			return nil, "", fmt.Errorf("failed to write input: %w", err)
		}
		return src.Data, path, nil
	case IsURL(src.Path):
		return n.fetcher.Fetch(ctx, src.Path, workDir)
	case src.Path != "":
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return data, src.Path, nil
	default:
		return nil, "", fmt.Errorf("%w: no input provided", ErrUnsupportedFormat)
	}
}

func (n *Normalizer) loadPDF(ctx context.Context, doc *types.Document, path string, data []byte, workDir string, dpi int) error {
	total, err := n.counter.CountPages(data)
	if err != nil {
		return fmt.Errorf("%w: invalid PDF %s: %v", ErrUnsupportedFormat, doc.Name, err)
	}
	doc.TotalPages = total
	if total == 0 {
		return fmt.Errorf("%w: %s has no pages", ErrEmptyDocument, doc.Name)
	}

	limit := total
	if limit > types.MaxPDFPages {
		limit = types.MaxPDFPages
		doc.Truncated = true
		n.logger.Warn("PDF truncated",
			"document", doc.Name,
			"total_pages", total,
			"dropped_pages", total-limit,
		)
	}

	for page := 1; page <= limit; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := n.renderer.RenderPage(ctx, path, page, dpi, workDir)
		if err != nil {
			return fmt.Errorf("failed to render page %d of %s: %w", page, doc.Name, err)
		}
		img, err := os.ReadFile(out)
		if err != nil {
			return fmt.Errorf("failed to read rendered page %d: %w", page, err)
		}
		doc.Pages = append(doc.Pages, types.Page{
			Number:   page,
			Image:    img,
			MIMEType: "image/png",
			Path:     out,
		})
	}
	return nil
}

// DetectMIME resolves a content type from an explicit value, the file
// extension, and finally by sniffing the bytes.
func DetectMIME(declared, path string, data []byte) string {
	if m := canonicalMIME(declared); supported(m) {
		return m
	}
	switch strings.ToLower(filepath.Ext(stripQuery(path))) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return canonicalMIME(http.DetectContentType(data))
}

func canonicalMIME(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.Index(m, ";"); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	switch m {
	case "application/pdf", "image/png", "image/jpeg":
		return m
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	default:
		return m
	}
}

func supported(m string) bool {
	return m == "application/pdf" || m == "image/png" || m == "image/jpeg"
}

func stripQuery(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		return p[:i]
	}
	return p
}
