// Package prompts builds the text sent to vision models alongside each page image.
//
// Templates are embedded .tmpl files and are the single source of truth. Each
// is registered under a hierarchical key with a SHA256 hash so logs and status
// output can tie a model call to the exact prompt version that produced it.
//
// Three prompts exist:
//   - detection: list the sections visible on a template page
//   - extraction: read values for a requested set of sections
//   - routing: decide whether a page is relevant before extracting
package prompts

// Kind identifies which prompt a model call was made with.
type Kind string

const (
	KindDetection  Kind = "detection"
	KindExtraction Kind = "extraction"
	KindRouting    Kind = "routing"
	KindUnknown    Kind = ""
)

// Prompt keys
const (
	DetectionKey  = "scan.detection"
	ExtractionKey = "scan.extraction"
	RoutingKey    = "scan.routing"
)

// EmbeddedPrompt represents a prompt loaded from an embedded .tmpl file.
type EmbeddedPrompt struct {
	Key         string   `json:"key"`                   // Hierarchical key: scan.extraction
	Kind        Kind     `json:"kind"`                  // Which call the prompt drives
	Text        string   `json:"-"`                     // The prompt text (Go template)
	Description string   `json:"description,omitempty"` // Human-readable description
	Variables   []string `json:"variables,omitempty"`   // Extracted template variables
	Hash        string   `json:"hash"`                  // SHA256 hash of the text for change detection
}
