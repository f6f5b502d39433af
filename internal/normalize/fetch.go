package normalize

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxDownloadBytes caps remote inputs.
const maxDownloadBytes = 64 << 20

// IsURL reports whether p is an http or https URL.
func IsURL(p string) bool {
	lower := strings.ToLower(p)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Fetcher downloads remote documents.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher. A nil client gets a 30 second timeout.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{client: client}
}

// Fetch downloads url into dir and returns its bytes and local path.
func (f *Fetcher) Fetch(ctx context.Context, url, dir string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid URL %s: %v", ErrUnsupportedFormat, url, err)
	}
	req.Header.Set("User-Agent", "magicscan")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: download failed: %v", ErrUnsupportedFormat, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: download %s returned status %d", ErrUnsupportedFormat, url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to read download: %v", ErrUnsupportedFormat, err)
	}
	if len(data) > maxDownloadBytes {
		return nil, "", fmt.Errorf("%w: download exceeds %d bytes", ErrUnsupportedFormat, maxDownloadBytes)
	}

	ext := path.Ext(stripQuery(url))
	if ext == "" {
		ext = extensionFor(DetectMIME(resp.Header.Get("Content-Type"), "", data))
	}
	local := filepath.Join(dir, "download-"+uuid.New().String()[:8]+ext)
	if err := os.WriteFile(local, data, 0o600); err != nil {
		return nil, "", fmt.Errorf("failed to save download: %w", err)
	}
	return data, local, nil
}

func extensionFor(mime string) string {
	switch mime {
	case "application/pdf":
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	default:
		return ""
	}
}
