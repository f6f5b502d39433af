package parse

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/jackzampolin/magicscan/internal/types"
)

// normalizeConfidence maps a model-reported score into [0,1].
// Scores in (1,100] are read as percentages. Anything else out of range is
// clamped and reported as suspect.
func normalizeConfidence(v float64) (float64, bool) {
	switch {
	case math.IsNaN(v):
		return types.DefaultConfidence, false
	case v < 0:
		return 0, false
	case v <= 1:
		return v, true
	case v <= 100:
		return v / 100, true
	default:
		return 1, false
	}
}

// parseConfidenceText reads "0.9", "90%", ".85" and similar.
func parseConfidenceText(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	if percent {
		f /= 100
	}
	return normalizeConfidence(f)
}

// confidenceOf reads a decoded JSON confidence field.
// A missing or null field yields DefaultConfidence without a warning.
func confidenceOf(raw any, present bool) (float64, bool) {
	if !present || raw == nil {
		return types.DefaultConfidence, true
	}
	switch c := raw.(type) {
	case json.Number:
		f, err := c.Float64()
		if err != nil {
			return types.DefaultConfidence, false
		}
		return normalizeConfidence(f)
	case float64:
		return normalizeConfidence(c)
	case string:
		if strings.TrimSpace(c) == "" {
			return types.DefaultConfidence, true
		}
		if f, ok := parseConfidenceText(c); ok {
			return f, true
		}
		return types.DefaultConfidence, false
	default:
		return types.DefaultConfidence, false
	}
}

// valueText renders a decoded JSON value as the string stored in a record.
// Lists are joined with ", "; null is empty.
func valueText(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := valueText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		// A nested {"value": ...} wrapper.
		if inner, ok := v["value"]; ok {
			return valueText(inner)
		}
		b, _ := json.Marshal(v)
		return string(b)
	default:
		return ""
	}
}

// intOf reads a level-like field that may be a number or numeric string.
func intOf(raw any) (int, bool) {
	switch v := raw.(type) {
	case nil:
		return 0, true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i), true
		}
		if f, err := v.Float64(); err == nil {
			return int(f), true
		}
	case float64:
		return int(v), true
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, true
		}
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s := valueText(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func lookup(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}
