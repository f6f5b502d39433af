package normalize

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageCounter reports the number of pages in a PDF.
type PageCounter interface {
	CountPages(data []byte) (int, error)
}

// PDFCPUCounter counts pages with pdfcpu.
type PDFCPUCounter struct{}

// CountPages parses the PDF and returns its page count.
func (PDFCPUCounter) CountPages(data []byte) (int, error) {
	return api.PageCount(bytes.NewReader(data), nil)
}

// Renderer rasterizes a single PDF page to an image file.
type Renderer interface {
	// RenderPage writes page (1-indexed) of pdfPath into outDir and returns the image path.
	RenderPage(ctx context.Context, pdfPath string, page, dpi int, outDir string) (string, error)
}

// PopplerRenderer renders pages with pdftoppm from poppler-utils.
type PopplerRenderer struct {
	// Binary overrides the pdftoppm executable path.
	Binary string
}

// RenderPage runs pdftoppm for a single page and returns the PNG path.
func (r PopplerRenderer) RenderPage(ctx context.Context, pdfPath string, page, dpi int, outDir string) (string, error) {
	bin := r.Binary
	if bin == "" {
		bin = "pdftoppm"
	}

	// -singlefile keeps pdftoppm from appending the page number to the prefix
	prefix := filepath.Join(outDir, fmt.Sprintf("page_%04d", page))
	pageStr := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, bin,
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(dpi),
		"-singlefile",
		pdfPath,
		prefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	out := prefix + ".png"
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	return out, nil
}
