package prompts

import (
	_ "embed"
	"strings"
	"text/template"
)

//go:embed routing.tmpl
var routingPromptTmpl string

var routingTemplate = template.Must(template.New("routing").Parse(routingPromptTmpl))

// BuildRoutingPrompt builds a true/false relevance question from the page filters.
// Returns "" when both filters are blank, meaning every page is processed.
func BuildRoutingPrompt(include, exclude string) string {
	include = strings.TrimSpace(include)
	exclude = strings.TrimSpace(exclude)
	if include == "" && exclude == "" {
		return ""
	}
	data := struct{ Include, Exclude string }{Include: include, Exclude: exclude}
	return render(routingTemplate, routingPromptTmpl, data)
}

// ParseRoutingAnswer reads a routing reply. Anything that is not clearly
// "false" processes the page.
func ParseRoutingAnswer(text string) bool {
	answer := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.Contains(answer, "true"):
		return true
	case strings.Contains(answer, "false"):
		return false
	default:
		return true
	}
}

// KindOf identifies which prompt text was built from. Used by dry-run backends
// to script replies per call type.
func KindOf(prompt string) Kind {
	switch {
	case strings.Contains(prompt, `"extracted_values"`):
		return KindExtraction
	case strings.Contains(prompt, `"sections"`):
		return KindDetection
	case strings.Contains(prompt, "'true' or 'false'"):
		return KindRouting
	default:
		return KindUnknown
	}
}
