package parse

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jackzampolin/magicscan/internal/types"
)

// lineKind classifies one line of a reply for the line-oriented parser.
type lineKind int

const (
	lineBlank      lineKind = iota
	lineFence               // ``` or ```json
	lineStructural          // only braces, brackets and commas
	lineFragment            // "key": value, a line of pretty-printed JSON
	lineObject              // a whole JSON object on one line
	lineTableSep            // |---|---|
	lineTableRow            // | a | b | c |
	linePair                // name <delimiter> value
	lineBare                // text without a delimiter
	lineBroken              // looked structured but could not be read
)

type token struct {
	kind    lineKind
	key     string // fragment key or pair name
	value   string // fragment or pair value, undecoded
	cells   []string
	obj     map[string]any
	heading bool // pair with an empty value ending in ':'
}

var (
	fragmentPattern = regexp.MustCompile(`^"([A-Za-z_ ]+)"\s*:\s*(.*?)\s*,?\s*$`)
	bulletPattern   = regexp.MustCompile(`^(?:[-*•+]|\d+[.)])\s+`)
	tableSepPattern = regexp.MustCompile(`^:?-{2,}:?$`)

	// confLabelPattern matches a trailing "confidence: 0.9" or "(conf=90%)".
	confLabelPattern = regexp.MustCompile(`(?i)[,;]?\s*[\(\[]?\s*conf(?:idence)?\s*[:=]\s*(\d*[.,]?\d+\s*%?)\s*[\)\]]?\s*$`)
	// confParenPattern matches a trailing "(0.9)", "[85%]" or "(1)". Bare
	// integers other than 0 and 1 are left alone: "(2)" is usually part of the value.
	confParenPattern = regexp.MustCompile(`\s*[\(\[]\s*(\d*[.,]\d+\s*%?|\d+\s*%|[01])\s*[\)\]]\s*$`)
)

// pairDelimiters split a name from its value. The earliest match wins.
var pairDelimiters = []string{":", "=", " — ", " – ", " - ", "\t", " | "}

// tokenize classifies a single line.
func tokenize(raw string) token {
	line := strings.TrimSpace(raw)
	switch {
	case line == "":
		return token{kind: lineBlank}
	case strings.HasPrefix(line, "```"):
		return token{kind: lineFence}
	case strings.Trim(line, "{}[], ") == "":
		return token{kind: lineStructural}
	}

	if m := fragmentPattern.FindStringSubmatch(line); m != nil {
		return token{kind: lineFragment, key: strings.TrimSpace(m[1]), value: m[2]}
	}

	if strings.HasPrefix(line, "{") {
		obj := strings.TrimSuffix(line, ",")
		if v, err := decodeJSON(obj); err == nil {
			if m, ok := v.(map[string]any); ok {
				return token{kind: lineObject, obj: m}
			}
		}
		if v, ok := repairTruncated(obj); ok {
			if m, ok := v.(map[string]any); ok {
				return token{kind: lineObject, obj: m}
			}
		}
		return token{kind: lineBroken}
	}

	if strings.HasPrefix(line, "|") {
		cells := splitTableRow(line)
		sep := len(cells) > 0
		for _, c := range cells {
			if !tableSepPattern.MatchString(c) {
				sep = false
				break
			}
		}
		if sep {
			return token{kind: lineTableSep}
		}
		return token{kind: lineTableRow, cells: cells}
	}

	line = cleanMarkdown(line)
	if line == "" {
		return token{kind: lineBlank}
	}
	name, value, ok := splitPair(line)
	if !ok {
		return token{kind: lineBare, value: line}
	}
	return token{
		kind:    linePair,
		key:     name,
		value:   value,
		heading: value == "" && strings.HasSuffix(line, ":"),
	}
}

// cleanMarkdown strips headings, bullets, emphasis and inline code markers.
func cleanMarkdown(line string) string {
	line = strings.TrimLeft(line, "#> ")
	line = bulletPattern.ReplaceAllString(line, "")
	line = strings.NewReplacer("**", "", "__", "", "`", "").Replace(line)
	return strings.TrimSpace(line)
}

func splitPair(line string) (name, value string, ok bool) {
	best, width := -1, 0
	for _, d := range pairDelimiters {
		i := strings.Index(line, d)
		// Skip the colon in a URL scheme.
		for i >= 0 && d == ":" && strings.HasPrefix(line[i:], "://") {
			next := strings.Index(line[i+1:], d)
			if next < 0 {
				i = -1
				break
			}
			i += next + 1
		}
		if i > 0 && (best < 0 || i < best) {
			best, width = i, len(d)
		}
	}
	if best < 0 {
		return "", "", false
	}
	name = strings.Trim(strings.TrimSpace(line[:best]), `"'`)
	value = strings.Trim(strings.TrimSpace(line[best+width:]), `"'`)
	if name == "" {
		return "", "", false
	}
	return name, value, true
}

func splitTableRow(line string) []string {
	parts := strings.Split(strings.Trim(line, "|"), "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(cleanMarkdown(p)))
	}
	return cells
}

// splitConfidence removes a trailing confidence annotation from a value.
// found is false when the value carries none.
func splitConfidence(value string) (rest string, conf float64, found, clean bool) {
	for _, p := range []*regexp.Regexp{confLabelPattern, confParenPattern} {
		if m := p.FindStringSubmatchIndex(value); m != nil {
			c, ok := parseConfidenceText(value[m[2]:m[3]])
			return strings.TrimSpace(value[:m[0]]), c, true, ok
		}
	}
	return value, types.DefaultConfidence, false, true
}

// fragmentValue decodes the value part of a "key": value line.
func fragmentValue(s string) any {
	s = strings.TrimSuffix(strings.TrimSpace(s), ",")
	if v, err := decodeJSON(s); err == nil {
		return v
	}
	// An unterminated string at a line break.
	return strings.Trim(s, `"`)
}

var tableHeaderNames = map[string]bool{
	"section": true, "section name": true, "field": true, "name": true, "title": true, "champ": true,
}

var tableHeaderValues = map[string]bool{
	"value": true, "extracted value": true, "valeur": true, "description": true,
}

func isTableHeader(cells []string) bool {
	return len(cells) >= 2 &&
		tableHeaderNames[types.SectionKey(cells[0])] &&
		tableHeaderValues[types.SectionKey(cells[1])]
}

// extractionMachine reads records from tokens. Pretty-printed JSON fragments
// accumulate into a pending record until the next section key or a
// non-fragment line.
type extractionMachine struct {
	res     ExtractionsResult
	pending *types.ExtractionRecord
	warn    bool
}

func parseExtractionLines(text string) ExtractionsResult {
	m := &extractionMachine{res: ExtractionsResult{Method: MethodLines}}
	for _, line := range strings.Split(text, "\n") {
		m.feed(tokenize(line))
	}
	m.flush()
	return m.res
}

func (m *extractionMachine) feed(t token) {
	if t.kind != lineFragment && t.kind != lineStructural && t.kind != lineBlank {
		m.flush()
	}

	switch t.kind {
	case lineBlank, lineFence, lineStructural, lineTableSep:
		// no content

	case lineFragment:
		m.fragment(t.key, t.value)

	case lineObject:
		if hasListKey(t.obj) && stringField(t.obj, "section", "field", "name", "title", "key") == "" {
			// A whole reply on one line after some prose.
			if sub, ok := extractionsFromJSON(t.obj); ok {
				m.res.Records = append(m.res.Records, sub.Records...)
				m.res.Warnings += sub.Warnings
				return
			}
		}
		rec, warn := recordFromItem(t.obj)
		m.res.add(rec, warn)

	case lineTableRow:
		if isTableHeader(t.cells) {
			return
		}
		if len(t.cells) < 2 || t.cells[0] == "" {
			m.res.Warnings++
			return
		}
		rec := types.ExtractionRecord{Section: t.cells[0], Value: t.cells[1], Confidence: types.DefaultConfidence}
		clean := true
		if len(t.cells) >= 3 && t.cells[2] != "" {
			if c, ok := parseConfidenceText(t.cells[2]); ok {
				rec.Confidence = c
			} else {
				clean = false
			}
		} else if rest, c, found, ok := splitConfidence(rec.Value); found {
			rec.Value, rec.Confidence, clean = rest, c, ok
		}
		m.res.add(rec, !clean)

	case linePair:
		if t.heading {
			return
		}
		value, conf, _, clean := splitConfidence(t.value)
		m.res.add(types.ExtractionRecord{Section: t.key, Value: value, Confidence: conf}, !clean)

	default:
		m.res.Warnings++
	}
}

func (m *extractionMachine) fragment(key, raw string) {
	v := fragmentValue(raw)
	switch strings.ToLower(key) {
	case "section", "field", "name", "title", "key":
		m.flush()
		m.pending = &types.ExtractionRecord{Section: valueText(v), Confidence: types.DefaultConfidence}
	case "value", "values", "text":
		if m.pending == nil {
			m.res.Warnings++
			return
		}
		m.pending.Value = valueText(v)
	case "confidence", "score":
		if m.pending == nil {
			m.res.Warnings++
			return
		}
		c, clean := confidenceOf(v, true)
		m.pending.Confidence = c
		m.warn = m.warn || !clean
	default:
		// A flat "Section": "value" line; containers open a nested block.
		if opensContainer(raw) || containerKeys[strings.ToLower(key)] {
			return
		}
		m.flush()
		m.res.add(types.ExtractionRecord{Section: key, Value: valueText(v), Confidence: types.DefaultConfidence}, false)
	}
}

var containerKeys = map[string]bool{
	"extracted_values": true, "values": true, "extractions": true, "results": true, "fields": true, "sections": true,
}

func opensContainer(raw string) bool {
	raw = strings.TrimSpace(raw)
	return strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[")
}

func (m *extractionMachine) flush() {
	if m.pending == nil {
		return
	}
	m.res.add(*m.pending, m.warn)
	m.pending, m.warn = nil, false
}

// sectionMachine reads detection output. Bare heading-like lines are held
// back and only used when nothing structured was found.
type sectionMachine struct {
	res     SectionsResult
	pending *types.Section
	bare    []string
	prose   int
}

func parseSectionLines(text string) SectionsResult {
	m := &sectionMachine{res: SectionsResult{Method: MethodLines}}
	for _, line := range strings.Split(text, "\n") {
		m.feed(tokenize(line))
	}
	m.flush()

	if len(m.res.Sections) == 0 {
		for _, b := range m.bare {
			m.res.Sections = append(m.res.Sections, types.Section{Name: b, Level: 1, Type: "section"})
		}
	} else {
		m.res.Warnings += len(m.bare)
	}
	m.res.Warnings += m.prose
	return m.res
}

func (m *sectionMachine) feed(t token) {
	if t.kind != lineFragment && t.kind != lineStructural && t.kind != lineBlank {
		m.flush()
	}

	switch t.kind {
	case lineBlank, lineFence, lineStructural, lineTableSep:

	case lineFragment:
		m.fragment(t.key, fragmentValue(t.value))

	case lineObject:
		if sectionShaped(t.obj) && stringField(t.obj, "title", "name", "section") == "" {
			if sub, ok := sectionsFromJSON(t.obj); ok {
				m.res.Sections = append(m.res.Sections, sub.Sections...)
				m.res.Warnings += sub.Warnings
				return
			}
		}
		if sec, ok := sectionFromItem(t.obj, &m.res.Warnings); ok {
			m.res.Sections = append(m.res.Sections, sec)
		}

	case lineTableRow:
		if isTableHeader(t.cells) {
			return
		}
		if len(t.cells) == 0 || t.cells[0] == "" {
			m.res.Warnings++
			return
		}
		sec := types.Section{Name: t.cells[0]}
		if len(t.cells) > 1 {
			sec.Description = t.cells[1]
		}
		m.res.Sections = append(m.res.Sections, sec)

	case linePair:
		if isLeadIn(t.key) {
			return
		}
		if !headingLike(t.key) {
			m.prose++
			return
		}
		m.res.Sections = append(m.res.Sections, types.Section{Name: t.key, Description: t.value})

	case lineBare:
		if isLeadIn(t.value) {
			return
		}
		if headingLike(t.value) {
			m.bare = append(m.bare, t.value)
		} else {
			m.prose++
		}

	default:
		m.res.Warnings++
	}
}

func (m *sectionMachine) fragment(key string, v any) {
	switch strings.ToLower(key) {
	case "title", "name", "section":
		m.flush()
		m.pending = &types.Section{Name: valueText(v)}
	case "description":
		if m.pending != nil {
			m.pending.Description = valueText(v)
		}
	case "level":
		if m.pending != nil {
			if lvl, ok := intOf(v); ok {
				m.pending.Level = lvl
			}
		}
	case "type":
		if m.pending != nil {
			m.pending.Type = valueText(v)
		}
	}
}

func (m *sectionMachine) flush() {
	if m.pending == nil {
		return
	}
	if m.pending.Name == "" {
		m.res.Warnings++
	} else {
		m.res.Sections = append(m.res.Sections, *m.pending)
	}
	m.pending = nil
}

// headingLike reports whether s could be a section title rather than a sentence.
func headingLike(s string) bool {
	if utf8.RuneCountInString(s) > 80 || len(strings.Fields(s)) > 10 {
		return false
	}
	return !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "?") && !strings.HasSuffix(s, "!")
}

var leadIns = []string{"here is", "here are", "the following", "sections found", "detected sections", "json", "note"}

// isLeadIn reports introductory chatter such as "Here are the sections".
func isLeadIn(s string) bool {
	key := types.SectionKey(s)
	for _, l := range leadIns {
		if key == l || strings.HasPrefix(key, l+" ") {
			return true
		}
	}
	return false
}
