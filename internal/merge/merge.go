// Package merge reconciles per-page extraction records into one value per
// requested section.
package merge

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jackzampolin/magicscan/internal/types"
)

// Options tune reconciliation.
type Options struct {
	// MinConfidence drops records scored at or below it. Zero keeps everything.
	MinConfidence float64
}

// Merge selects one value per section in set from records.
//
// Records for sections outside set are ignored. A section's winner is the
// record with the highest confidence; ties go to the earliest page, then to
// the record seen first. Sections with no usable record are reported with
// types.NotFound. The result always has exactly one entry per section in set,
// keyed by the section's name as it appears in set.
func Merge(records []types.ExtractionRecord, set types.SectionSet, opts Options) map[string]types.SectionValue {
	out := make(map[string]types.SectionValue, set.Len())

	bySection := make(map[string][]candidate, set.Len())
	for i, rec := range records {
		sec, ok := set.Lookup(rec.Section)
		if !ok || !usable(rec, opts) {
			continue
		}
		bySection[sec.Name] = append(bySection[sec.Name], candidate{rec: rec, order: i})
	}

	for _, name := range set.Names() {
		cands := bySection[name]
		if len(cands) == 0 {
			out[name] = types.NotFound()
			continue
		}
		best := cands[0]
		for _, c := range cands[1:] {
			if c.beats(best) {
				best = c
			}
		}
		out[name] = types.SectionValue{
			Value:      best.rec.Value,
			Confidence: best.rec.Confidence,
			Found:      true,
			Page:       best.rec.SourcePage,
			Support:    support(cands, NormalizeValue(best.rec.Value)),
		}
	}
	return out
}

type candidate struct {
	rec   types.ExtractionRecord
	order int
}

func (c candidate) beats(o candidate) bool {
	if c.rec.Confidence != o.rec.Confidence {
		return c.rec.Confidence > o.rec.Confidence
	}
	if c.rec.SourcePage != o.rec.SourcePage {
		return c.rec.SourcePage < o.rec.SourcePage
	}
	return c.order < o.order
}

// support counts the distinct pages whose value matches key.
func support(cands []candidate, key string) int {
	pages := make(map[int]struct{})
	for _, c := range cands {
		if NormalizeValue(c.rec.Value) == key {
			pages[c.rec.SourcePage] = struct{}{}
		}
	}
	return len(pages)
}

// usable reports whether rec carries a real value.
func usable(rec types.ExtractionRecord, opts Options) bool {
	key := NormalizeValue(rec.Value)
	if key == "" || key == NormalizeValue(types.NotFoundValue) {
		return false
	}
	if opts.MinConfidence > 0 && rec.Confidence <= opts.MinConfidence {
		return false
	}
	return true
}

// NormalizeValue folds a value to its comparison form: NFKC, case folded,
// whitespace collapsed. Compatibility forms such as full-width digits and
// ligatures compare equal to their plain spellings.
func NormalizeValue(s string) string {
	t := transform.Chain(norm.NFKC, cases.Fold())
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = strings.ToLower(s)
	}
	return strings.Join(strings.Fields(folded), " ")
}
