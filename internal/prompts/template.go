package prompts

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"text/template"
)

// variablePattern matches Go template variable references like {{.Sections}},
// including references inside actions such as {{if .Expert}}.
var variablePattern = regexp.MustCompile(`\{\{[^}]*?\.([A-Z][a-zA-Z0-9_]*)`)

// ExtractVariables returns the sorted, distinct template fields referenced by text.
// For example, "{{range .Sections}}{{.}}{{end}} {{if .Expert}}" returns ["Expert", "Sections"].
func ExtractVariables(text string) []string {
	seen := make(map[string]bool)
	var vars []string
	for _, match := range variablePattern.FindAllStringSubmatch(text, -1) {
		if name := match[1]; !seen[name] {
			seen[name] = true
			vars = append(vars, name)
		}
	}
	sort.Strings(vars)
	return vars
}

// HashText returns a SHA256 hash of the text for change detection.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// render executes tmpl, falling back to the raw text if execution fails.
func render(tmpl *template.Template, raw string, data any) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return raw
	}
	return strings.TrimSpace(buf.String())
}
