package prompts

import (
	_ "embed"
	"strings"
	"text/template"

	"github.com/jackzampolin/magicscan/internal/types"
)

//go:embed extraction.tmpl
var extractionPromptTmpl string

var extractionTemplate = template.Must(template.New("extraction").Parse(extractionPromptTmpl))

// BuildExtractionPrompt builds the prompt that reads values for set from page.
// expert is appended verbatim when non-blank; callers that want it neutralized
// pass it through SanitizeExpert first.
func BuildExtractionPrompt(page types.Page, set types.SectionSet, expert string) string {
	data := struct {
		Page     int
		Sections []string
		Expert   string
	}{
		Page:     page.Number,
		Sections: set.Names(),
		Expert:   strings.TrimSpace(expert),
	}
	return render(extractionTemplate, extractionPromptTmpl, data)
}
