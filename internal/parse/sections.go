package parse

import (
	"strings"

	"github.com/jackzampolin/magicscan/internal/types"
)

// ParseSections reads the sections listed in a detection reply.
// Duplicates are kept; the caller decides how to merge them.
func ParseSections(text string) SectionsResult {
	if strings.TrimSpace(text) == "" {
		return SectionsResult{Method: MethodEmpty}
	}

	if doc, repaired, ok := recoverJSON(text, sectionShaped); ok {
		if res, ok := sectionsFromJSON(doc); ok {
			if repaired {
				res.Method = MethodRepaired
			}
			return res
		}
	}

	return parseSectionLines(text)
}

// sectionKeys are the top-level keys that hold detected sections.
var sectionKeys = []string{"sections", "fields", "titles"}

// sectionShaped reports whether doc looks like a detection reply: an object
// with a section list, or a list that is empty or holds a name or an object.
func sectionShaped(doc any) bool {
	switch d := doc.(type) {
	case map[string]any:
		_, found := lookup(d, sectionKeys...)
		return found
	case []any:
		if len(d) == 0 {
			return true
		}
		for _, item := range d {
			switch it := item.(type) {
			case map[string]any:
				return true
			case string:
				if strings.TrimSpace(it) != "" {
					return true
				}
			}
		}
	}
	return false
}

func sectionsFromJSON(doc any) (SectionsResult, bool) {
	res := SectionsResult{Method: MethodJSON}

	var items []any
	switch d := doc.(type) {
	case map[string]any:
		raw, found := lookup(d, sectionKeys...)
		if !found {
			return res, false
		}
		list, ok := raw.([]any)
		if !ok {
			res.Warnings++
			return res, true
		}
		if validates(detectionSchema, d) {
			for _, item := range list {
				if sec, ok := sectionFromItem(item.(map[string]any), &res.Warnings); ok {
					res.Sections = append(res.Sections, sec)
				}
			}
			return res, true
		}
		items = list
	case []any:
		items = d
	default:
		return res, false
	}

	for _, item := range items {
		switch it := item.(type) {
		case string:
			if name := strings.TrimSpace(it); name != "" {
				res.Sections = append(res.Sections, types.Section{Name: name})
			} else {
				res.Warnings++
			}
		case map[string]any:
			if sec, ok := sectionFromItem(it, &res.Warnings); ok {
				res.Sections = append(res.Sections, sec)
			}
		default:
			res.Warnings++
		}
	}
	return res, true
}

// sectionFromItem reads one {"title","description","level","type"} object.
func sectionFromItem(m map[string]any, warnings *int) (types.Section, bool) {
	sec := types.Section{
		Name:        stringField(m, "title", "name", "section"),
		Description: stringField(m, "description", "desc"),
		Type:        stringField(m, "type"),
	}
	if sec.Name == "" {
		*warnings++
		return sec, false
	}
	if raw, ok := m["level"]; ok {
		lvl, ok := intOf(raw)
		if !ok {
			*warnings++
		}
		sec.Level = lvl
	}
	return sec, true
}
