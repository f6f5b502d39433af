package prompts

import (
	_ "embed"
	"text/template"

	"github.com/jackzampolin/magicscan/internal/types"
)

//go:embed detection.tmpl
var detectionPromptTmpl string

var detectionTemplate = template.Must(template.New("detection").Parse(detectionPromptTmpl))

// BuildDetectionPrompt builds the prompt that asks for the sections visible on page.
func BuildDetectionPrompt(page types.Page) string {
	data := struct{ Page int }{Page: page.Number}
	return render(detectionTemplate, detectionPromptTmpl, data)
}
