package parse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/magicscan/internal/prompts"
)

var (
	detectionSchema  = mustCompileSchema("detection.json", prompts.DetectionSchema)
	extractionSchema = mustCompileSchema("extraction.json", prompts.ExtractionSchema)
)

// maxRepairCuts bounds how many element boundaries repair backs off through.
const maxRepairCuts = 64

func mustCompileSchema(name, raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("failed to load %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return schema
}

// decodeJSON decodes with json.Number so numeric values keep their literal text.
func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// Trailing garbage after the first value is not a clean document.
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return v, nil
}

// maxStartOffsets bounds how many { or [ positions recovery tries as the
// start of the document.
const maxStartOffsets = 64

// recoverJSON finds a JSON document in model output. Returns the decoded
// value, whether truncation repair was needed, and ok=false when nothing
// decodable was found.
//
// The whole text and the first fenced block are taken as-is when they
// decode. Otherwise every { or [ is tried in turn as the start of the
// document, a clean decode before a repaired one, and the first value
// accept recognises wins. Prose such as "page [1]" decodes but is not what the
// caller is looking for, so it never shadows the payload that follows it.
func recoverJSON(content string, accept func(any) bool) (doc any, repaired bool, ok bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false, false
	}

	body := content
	if stripped := stripCodeFences(content); stripped != "" {
		body = stripped
		if v, err := decodeJSON(body); err == nil {
			return v, false, true
		}
	}
	if v, err := decodeJSON(content); err == nil {
		return v, false, true
	}

	for _, start := range jsonStarts(body) {
		for _, candidate := range spansFrom(body[start:]) {
			v, err := decodeJSON(candidate)
			if err != nil {
				continue
			}
			if accept(v) {
				return v, false, true
			}
		}
		if v, ok := repairTruncated(body[start:]); ok && accept(v) {
			return v, true, true
		}
	}
	return nil, false, false
}

// stripCodeFences returns the body of the first ``` fenced block, or "" if none.
// An unterminated fence returns everything after the opening line.
func stripCodeFences(content string) string {
	start := strings.Index(content, "```")
	if start < 0 {
		return ""
	}
	rest := content[start+3:]

	// Drop the info string (e.g. "json") on the opening fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		return ""
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// jsonStarts returns the offsets of every { and [ in content, in order.
func jsonStarts(content string) []int {
	var starts []int
	for i := 0; i < len(content) && len(starts) < maxStartOffsets; i++ {
		if content[i] == '{' || content[i] == '[' {
			starts = append(starts, i)
		}
	}
	return starts
}

// spansFrom returns the candidate documents beginning at s[0]: the first
// complete value, then the span to the last matching closer.
func spansFrom(s string) []string {
	closeChar := "}"
	if s[0] == '[' {
		closeChar = "]"
	}
	var spans []string
	dec := json.NewDecoder(strings.NewReader(s))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err == nil {
		spans = append(spans, string(raw))
	}
	if end := strings.LastIndex(s, closeChar); end > 0 {
		if last := s[:end+1]; len(spans) == 0 || last != spans[0] {
			spans = append(spans, last)
		}
	}
	return spans
}

func jsonStart(content string) (int, string) {
	objectStart := strings.Index(content, "{")
	arrayStart := strings.Index(content, "[")
	switch {
	case objectStart >= 0 && (arrayStart < 0 || objectStart < arrayStart):
		return objectStart, "}"
	case arrayStart >= 0:
		return arrayStart, "]"
	default:
		return -1, ""
	}
}

// repairTruncated closes a JSON document that was cut off mid-stream, as
// happens when a model hits its token limit. It first closes the open string
// and brackets as-is, then backs off to earlier element boundaries until the
// result decodes.
func repairTruncated(content string) (any, bool) {
	start, _ := jsonStart(content)
	if start < 0 {
		return nil, false
	}
	s := content[start:]

	type cut struct {
		pos   int
		stack []byte
	}
	var (
		stack    []byte
		inString bool
		escaped  bool
		cuts     []cut
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				// Unbalanced closer: keep what came before it.
				return decodeClosed(s[:i], nil)
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				// A complete top-level value followed by more text.
				return decodeClosed(s[:i+1], nil)
			}
		case ',':
			cuts = append(cuts, cut{pos: i, stack: append([]byte(nil), stack...)})
		}
	}

	// Close the value as it stands.
	tail := s
	if inString {
		if escaped {
			tail = tail[:len(tail)-1]
		}
		tail += `"`
	}
	if v, ok := decodeClosed(tail, stack); ok {
		return v, true
	}

	// Back off to the most recent complete element.
	for n, i := 0, len(cuts)-1; i >= 0 && n < maxRepairCuts; i, n = i-1, n+1 {
		if v, ok := decodeClosed(s[:cuts[i].pos], cuts[i].stack); ok {
			return v, true
		}
	}
	return nil, false
}

// decodeClosed appends closers for stack (innermost last) and decodes.
func decodeClosed(s string, stack []byte) (any, bool) {
	var b bytes.Buffer
	b.WriteString(strings.TrimRight(strings.TrimSpace(s), ","))
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	v, err := decodeJSON(b.String())
	if err != nil {
		return nil, false
	}
	return v, true
}

// validates reports whether doc matches schema.
func validates(schema *jsonschema.Schema, doc any) bool {
	return schema.Validate(doc) == nil
}
