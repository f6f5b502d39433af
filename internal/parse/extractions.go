package parse

import (
	"sort"
	"strings"

	"github.com/jackzampolin/magicscan/internal/types"
)

// listKeys are the top-level keys that hold extraction items.
var listKeys = []string{"extracted_values", "values", "extractions", "results", "fields"}

// ParseExtractions reads section/value/confidence records from a model reply.
func ParseExtractions(text string) ExtractionsResult {
	if strings.TrimSpace(text) == "" {
		return ExtractionsResult{Method: MethodEmpty}
	}

	if doc, repaired, ok := recoverJSON(text, extractionShaped); ok {
		if res, ok := extractionsFromJSON(doc); ok {
			if repaired {
				res.Method = MethodRepaired
			}
			return res
		}
	}

	return parseExtractionLines(text)
}

// extractionShaped reports whether doc looks like an extraction reply: an
// object, an empty list, or a list holding at least one object. A list of
// numbers such as "[1]" is prose, not a payload.
func extractionShaped(doc any) bool {
	switch d := doc.(type) {
	case map[string]any:
		return true
	case []any:
		if len(d) == 0 {
			return true
		}
		for _, item := range d {
			if _, ok := item.(map[string]any); ok {
				return true
			}
		}
	}
	return false
}

// hasListKey reports whether m wraps its items under one of listKeys.
func hasListKey(m map[string]any) bool {
	_, found := lookup(m, listKeys...)
	return found
}

// extractionsFromJSON reads records from a decoded document. ok is false when
// the document has no recognizable extraction shape.
func extractionsFromJSON(doc any) (ExtractionsResult, bool) {
	res := ExtractionsResult{Method: MethodJSON}

	switch d := doc.(type) {
	case map[string]any:
		if validates(extractionSchema, d) {
			for _, item := range d["extracted_values"].([]any) {
				rec, warn := recordFromItem(item.(map[string]any))
				res.add(rec, warn)
			}
			return res, true
		}

		items, found := lookup(d, listKeys...)
		if found {
			list, isList := items.([]any)
			if !isList {
				res.Warnings++
				return res, true
			}
			res.addItems(list)
			return res, true
		}

		// A flat {"Section": value} or {"Section": {"value", "confidence"}} map.
		if len(d) == 0 {
			return res, true
		}
		for name, raw := range d {
			name = strings.TrimSpace(name)
			if name == "" {
				res.Warnings++
				continue
			}
			rec := types.ExtractionRecord{Section: name, Value: valueText(raw)}
			conf, present := any(nil), false
			if m, ok := raw.(map[string]any); ok {
				conf, present = lookup(m, "confidence", "score")
			}
			c, clean := confidenceOf(conf, present)
			rec.Confidence = c
			res.add(rec, !clean)
		}
		sortRecords(res.Records)
		return res, true

	case []any:
		res.addItems(d)
		return res, true

	default:
		return res, false
	}
}

func (r *ExtractionsResult) addItems(items []any) {
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			r.Warnings++
			continue
		}
		rec, warn := recordFromItem(m)
		r.add(rec, warn)
	}
}

// add appends rec when it names a section. warn counts a suspect field.
func (r *ExtractionsResult) add(rec types.ExtractionRecord, warn bool) {
	if warn {
		r.Warnings++
	}
	if rec.Section == "" {
		if !warn {
			r.Warnings++
		}
		return
	}
	r.Records = append(r.Records, rec)
}

func recordFromItem(m map[string]any) (types.ExtractionRecord, bool) {
	rec := types.ExtractionRecord{
		Section: stringField(m, "section", "field", "name", "title", "key"),
	}
	if raw, ok := lookup(m, "value", "values", "text"); ok {
		rec.Value = valueText(raw)
	}
	raw, present := lookup(m, "confidence", "score")
	c, clean := confidenceOf(raw, present)
	rec.Confidence = c
	return rec, !clean
}

// sortRecords orders flat-map records by section so output does not depend on map iteration.
func sortRecords(recs []types.ExtractionRecord) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Section < recs[j].Section })
}
