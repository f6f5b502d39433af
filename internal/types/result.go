package types

// DefaultConfidence is assigned to extracted values whose response carried no
// confidence score.
const DefaultConfidence = 0.5

// NotFoundValue is the value reported for a requested section with no record.
const NotFoundValue = "not found"

// ExtractionRecord is one section value read from one page.
type ExtractionRecord struct {
	Section        string  `json:"section"`
	Value          string  `json:"value"`
	Confidence     float64 `json:"confidence"`
	SourcePage     int     `json:"source_page"`
	SourceDocument string  `json:"source_document,omitempty"`
}

// SectionValue is the reconciled value for one section of one document.
type SectionValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Found      bool    `json:"found"`
	Page       int     `json:"page,omitempty"`
	Support    int     `json:"support,omitempty"` // pages agreeing with Value
}

// NotFound returns the explicit entry for a section with no usable record.
func NotFound() SectionValue {
	return SectionValue{Value: NotFoundValue}
}

// Document processing outcomes reported per batch entry.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// ExtractionResult is the per-document outcome of an extraction batch.
// Sections holds exactly one entry per requested section.
type ExtractionResult struct {
	Document        string                  `json:"document"`
	Sections        map[string]SectionValue `json:"sections"`
	Status          string                  `json:"status"`
	State           string                  `json:"state,omitempty"`
	Error           string                  `json:"error,omitempty"`
	PagesScanned    int                     `json:"pages_scanned"`
	PagesSkipped    int                     `json:"pages_skipped,omitempty"`
	TotalPages      int                     `json:"total_pages,omitempty"`
	Truncated       bool                    `json:"truncated,omitempty"`
	SectionsFound   []string                `json:"sections_found"`
	SectionsMissing []string                `json:"sections_missing"`
	ParseWarnings   int                     `json:"parse_warnings"`
}

// FailedResult builds an error entry that still lists every requested section
// as not found, so consumers can rely on the section keys being present.
func FailedResult(document string, set SectionSet, status, reason string) ExtractionResult {
	res := ExtractionResult{
		Document: document,
		Sections: make(map[string]SectionValue, set.Len()),
		Status:   status,
		Error:    reason,
	}
	for _, name := range set.Names() {
		res.Sections[name] = NotFound()
		res.SectionsMissing = append(res.SectionsMissing, name)
	}
	return res
}
