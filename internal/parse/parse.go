// Package parse turns free-form model replies into sections and extraction
// records.
//
// Model output is not guaranteed to be well formed, so parsing is best effort:
// a reply is read as JSON when possible (after stripping fences and surrounding
// prose, and closing truncated documents), and otherwise by a line-oriented
// state machine. Nothing here returns an error. Input that cannot be used is
// dropped and counted in Warnings.
package parse

import "github.com/jackzampolin/magicscan/internal/types"

// Method records how a reply was read.
type Method string

const (
	MethodEmpty    Method = "empty"    // blank reply
	MethodJSON     Method = "json"     // clean JSON document
	MethodRepaired Method = "repaired" // truncated JSON closed by repair
	MethodLines    Method = "lines"    // line-oriented fallback
)

// SectionsResult is the outcome of reading a detection reply.
type SectionsResult struct {
	Sections []types.Section `json:"sections"`
	Warnings int             `json:"warnings"`
	Method   Method          `json:"method"`
}

// ExtractionsResult is the outcome of reading an extraction reply.
// Records carry no page or document; the caller stamps provenance.
type ExtractionsResult struct {
	Records  []types.ExtractionRecord `json:"records"`
	Warnings int                      `json:"warnings"`
	Method   Method                   `json:"method"`
}
