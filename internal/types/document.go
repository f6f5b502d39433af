package types

// MaxPDFPages is the number of leading PDF pages that are scanned.
// Later pages are dropped and the document is flagged as truncated.
const MaxPDFPages = 5

// Page is a single rendered page image.
type Page struct {
	Number   int    `json:"number"` // 1-indexed
	Image    []byte `json:"-"`
	MIMEType string `json:"mime_type"`
	Path     string `json:"path,omitempty"`
}

// Document is a normalized input ready for model calls.
type Document struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SourcePath string `json:"source_path,omitempty"`
	MIMEType   string `json:"mime_type"` // of the source, not the rendered pages
	Pages      []Page `json:"pages"`
	TotalPages int    `json:"total_pages"`
	Truncated  bool   `json:"truncated"`

	cleanup func() error
}

// SetCleanup registers the function that removes the document's temporary files.
func (d *Document) SetCleanup(fn func() error) {
	d.cleanup = fn
}

// Cleanup removes temporary files created while normalizing the document.
// It is safe to call more than once.
func (d *Document) Cleanup() error {
	if d == nil || d.cleanup == nil {
		return nil
	}
	fn := d.cleanup
	d.cleanup = nil
	return fn()
}

// DroppedPages reports how many source pages were not scanned.
func (d *Document) DroppedPages() int {
	if d.TotalPages <= len(d.Pages) {
		return 0
	}
	return d.TotalPages - len(d.Pages)
}

// IsPDF reports whether the source was a PDF.
func (d *Document) IsPDF() bool {
	return d.MIMEType == "application/pdf"
}
