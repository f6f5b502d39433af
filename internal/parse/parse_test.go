package parse

import (
	"math"
	"strings"
	"testing"

	"github.com/jackzampolin/magicscan/internal/types"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func recordBySection(recs []types.ExtractionRecord, section string) (types.ExtractionRecord, bool) {
	for _, r := range recs {
		if r.Section == section {
			return r, true
		}
	}
	return types.ExtractionRecord{}, false
}

func TestParseExtractions_JSON(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		res := ParseExtractions("")
		if len(res.Records) != 0 || res.Warnings != 0 {
			t.Errorf("ParseExtractions(\"\") = %d records, %d warnings, want 0, 0", len(res.Records), res.Warnings)
		}
		if res.Method != MethodEmpty {
			t.Errorf("Method = %q, want %q", res.Method, MethodEmpty)
		}
	})

	t.Run("clean document", func(t *testing.T) {
		res := ParseExtractions(`{"extracted_values": [{"section": "Name", "value": "Jane Doe", "confidence": 0.92}]}`)
		if res.Method != MethodJSON {
			t.Errorf("Method = %q, want %q", res.Method, MethodJSON)
		}
		if len(res.Records) != 1 {
			t.Fatalf("got %d records, want 1", len(res.Records))
		}
		rec := res.Records[0]
		if rec.Section != "Name" || rec.Value != "Jane Doe" || !approx(rec.Confidence, 0.92) {
			t.Errorf("record = %+v", rec)
		}
		if res.Warnings != 0 {
			t.Errorf("Warnings = %d, want 0", res.Warnings)
		}
	})

	t.Run("fenced with surrounding prose", func(t *testing.T) {
		text := "Here is what I found:\n```json\n{\"extracted_values\": [{\"section\": \"Total\", \"value\": \"42.00\", \"confidence\": 0.8}]}\n```\nLet me know if you need more."
		res := ParseExtractions(text)
		if len(res.Records) != 1 || res.Records[0].Value != "42.00" {
			t.Fatalf("records = %+v", res.Records)
		}
		if res.Method != MethodJSON {
			t.Errorf("Method = %q, want %q", res.Method, MethodJSON)
		}
	})

	t.Run("confidence normalization", func(t *testing.T) {
		res := ParseExtractions(`{"extracted_values": [
			{"section": "Percent", "value": "a", "confidence": 85},
			{"section": "Missing", "value": "b"},
			{"section": "Null", "value": "c", "confidence": null},
			{"section": "Text", "value": "d", "confidence": "70%"}
		]}`)
		want := map[string]float64{"Percent": 0.85, "Missing": 0.5, "Null": 0.5, "Text": 0.7}
		for section, conf := range want {
			rec, ok := recordBySection(res.Records, section)
			if !ok {
				t.Errorf("no record for %s", section)
				continue
			}
			if !approx(rec.Confidence, conf) {
				t.Errorf("%s confidence = %v, want %v", section, rec.Confidence, conf)
			}
		}
		if res.Warnings != 0 {
			t.Errorf("Warnings = %d, want 0", res.Warnings)
		}
	})

	t.Run("out of range confidence is clamped with a warning", func(t *testing.T) {
		res := ParseExtractions(`{"extracted_values": [
			{"section": "High", "value": "a", "confidence": 150},
			{"section": "Low", "value": "b", "confidence": -0.3}
		]}`)
		high, _ := recordBySection(res.Records, "High")
		low, _ := recordBySection(res.Records, "Low")
		if high.Confidence != 1 || low.Confidence != 0 {
			t.Errorf("confidences = %v, %v, want 1, 0", high.Confidence, low.Confidence)
		}
		if res.Warnings != 2 {
			t.Errorf("Warnings = %d, want 2", res.Warnings)
		}
	})

	t.Run("list values are joined", func(t *testing.T) {
		res := ParseExtractions(`{"extracted_values": [{"section": "Items", "value": ["bolts", "nuts", "washers"], "confidence": 0.9}]}`)
		if len(res.Records) != 1 {
			t.Fatalf("got %d records, want 1", len(res.Records))
		}
		if got, want := res.Records[0].Value, "bolts, nuts, washers"; got != want {
			t.Errorf("Value = %q, want %q", got, want)
		}
	})

	t.Run("truncated document is repaired", func(t *testing.T) {
		text := `{"extracted_values": [{"section": "Name", "value": "Jane", "confidence": 0.9}, {"section": "Date", "value": "2024-`
		res := ParseExtractions(text)
		if res.Method != MethodRepaired {
			t.Errorf("Method = %q, want %q", res.Method, MethodRepaired)
		}
		if len(res.Records) != 2 {
			t.Fatalf("got %d records, want 2: %+v", len(res.Records), res.Records)
		}
		if res.Records[0].Section != "Name" || !approx(res.Records[0].Confidence, 0.9) {
			t.Errorf("first record = %+v", res.Records[0])
		}
		if res.Records[1].Section != "Date" || res.Records[1].Value != "2024-" {
			t.Errorf("second record = %+v", res.Records[1])
		}
	})

	t.Run("flat map", func(t *testing.T) {
		res := ParseExtractions(`{"Total": {"value": "42", "confidence": 0.8}, "Name": "Jane"}`)
		if len(res.Records) != 2 {
			t.Fatalf("got %d records, want 2", len(res.Records))
		}
		if res.Records[0].Section != "Name" || res.Records[1].Section != "Total" {
			t.Errorf("records not sorted by section: %+v", res.Records)
		}
		if !approx(res.Records[0].Confidence, 0.5) || !approx(res.Records[1].Confidence, 0.8) {
			t.Errorf("confidences = %v, %v", res.Records[0].Confidence, res.Records[1].Confidence)
		}
		if res.Records[1].Value != "42" {
			t.Errorf("Total value = %q, want 42", res.Records[1].Value)
		}
	})

	t.Run("items without a section are dropped", func(t *testing.T) {
		res := ParseExtractions(`[{"value": "orphan"}, {"section": "Name", "value": "Jane"}, "stray"]`)
		if len(res.Records) != 1 || res.Records[0].Section != "Name" {
			t.Errorf("records = %+v", res.Records)
		}
		if res.Warnings != 2 {
			t.Errorf("Warnings = %d, want 2", res.Warnings)
		}
	})
}

func TestParseExtractions_Lines(t *testing.T) {
	t.Run("pairs with confidence annotations", func(t *testing.T) {
		text := "Name: Jane Doe (0.9)\nDate = 2024-01-01\n- **Total**: 42 EUR confidence: 85%"
		res := ParseExtractions(text)
		if res.Method != MethodLines {
			t.Errorf("Method = %q, want %q", res.Method, MethodLines)
		}
		want := []types.ExtractionRecord{
			{Section: "Name", Value: "Jane Doe", Confidence: 0.9},
			{Section: "Date", Value: "2024-01-01", Confidence: 0.5},
			{Section: "Total", Value: "42 EUR", Confidence: 0.85},
		}
		if len(res.Records) != len(want) {
			t.Fatalf("got %d records, want %d: %+v", len(res.Records), len(want), res.Records)
		}
		for i, w := range want {
			got := res.Records[i]
			if got.Section != w.Section || got.Value != w.Value || !approx(got.Confidence, w.Confidence) {
				t.Errorf("record %d = %+v, want %+v", i, got, w)
			}
		}
		if res.Warnings != 0 {
			t.Errorf("Warnings = %d, want 0", res.Warnings)
		}
	})

	t.Run("markdown table", func(t *testing.T) {
		text := "| Section | Value | Confidence |\n|---|---|---|\n| Name | Jane | 0.8 |\n| Total | 42 | 90% |"
		res := ParseExtractions(text)
		if len(res.Records) != 2 {
			t.Fatalf("got %d records, want 2: %+v", len(res.Records), res.Records)
		}
		if res.Records[0].Value != "Jane" || !approx(res.Records[0].Confidence, 0.8) {
			t.Errorf("first record = %+v", res.Records[0])
		}
		if res.Records[1].Value != "42" || !approx(res.Records[1].Confidence, 0.9) {
			t.Errorf("second record = %+v", res.Records[1])
		}
		if res.Warnings != 0 {
			t.Errorf("Warnings = %d, want 0", res.Warnings)
		}
	})

	t.Run("pretty-printed fragments", func(t *testing.T) {
		text := "{\n  \"section\": \"Name\"\n  \"value\": \"Jane\"\n  \"confidence\": 0.7\n}\n{\n  \"section\": \"Date\"\n  \"value\": \"2024\"\n}"
		res := ParseExtractions(text)
		if len(res.Records) != 2 {
			t.Fatalf("got %d records, want 2: %+v", len(res.Records), res.Records)
		}
		if res.Records[0].Value != "Jane" || !approx(res.Records[0].Confidence, 0.7) {
			t.Errorf("first record = %+v", res.Records[0])
		}
		if res.Records[1].Section != "Date" || !approx(res.Records[1].Confidence, 0.5) {
			t.Errorf("second record = %+v", res.Records[1])
		}
	})

	t.Run("prose lines count as warnings", func(t *testing.T) {
		res := ParseExtractions("I could not read some parts of this page\nName: Jane")
		if len(res.Records) != 1 || res.Records[0].Value != "Jane" {
			t.Errorf("records = %+v", res.Records)
		}
		if res.Warnings != 1 {
			t.Errorf("Warnings = %d, want 1", res.Warnings)
		}
	})
}

func TestParse_NeverPanics(t *testing.T) {
	inputs := []string{
		"{{{{",
		"]]]]",
		"```",
		"```json\n",
		`"`,
		`{"a":`,
		"| |",
		"::::",
		"\x00\xff\xfe",
		strings.Repeat("[", 500),
		`{"extracted_values": "not a list"}`,
		`{"sections": 42}`,
		`{"extracted_values": [{"section": {"nested": true}, "confidence": "abc"}]}`,
		"\"section\": \n\"value\": \"x\"",
	}
	for _, in := range inputs {
		ex := ParseExtractions(in)
		for _, r := range ex.Records {
			if r.Section == "" {
				t.Errorf("ParseExtractions(%q) produced a record without a section", in)
			}
			if r.Confidence < 0 || r.Confidence > 1 {
				t.Errorf("ParseExtractions(%q) confidence %v out of range", in, r.Confidence)
			}
		}
		sec := ParseSections(in)
		for _, s := range sec.Sections {
			if s.Name == "" {
				t.Errorf("ParseSections(%q) produced a section without a name", in)
			}
		}
	}
}

func TestParseSections(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		res := ParseSections("   \n")
		if len(res.Sections) != 0 || res.Warnings != 0 || res.Method != MethodEmpty {
			t.Errorf("ParseSections(blank) = %+v", res)
		}
	})

	t.Run("json document", func(t *testing.T) {
		res := ParseSections(`{"sections": [
			{"title": "Invoice Number", "description": "top right", "level": 1, "type": "field"},
			{"title": "Total", "level": "2"}
		]}`)
		if len(res.Sections) != 2 {
			t.Fatalf("got %d sections, want 2", len(res.Sections))
		}
		first := res.Sections[0]
		if first.Name != "Invoice Number" || first.Description != "top right" || first.Level != 1 || first.Type != "field" {
			t.Errorf("first section = %+v", first)
		}
		if res.Sections[1].Level != 2 {
			t.Errorf("string level = %d, want 2", res.Sections[1].Level)
		}
	})

	t.Run("blank titles are dropped", func(t *testing.T) {
		res := ParseSections(`{"sections": [{"title": ""}, {"title": "Total"}]}`)
		if len(res.Sections) != 1 || res.Sections[0].Name != "Total" {
			t.Errorf("sections = %+v", res.Sections)
		}
		if res.Warnings != 1 {
			t.Errorf("Warnings = %d, want 1", res.Warnings)
		}
	})

	t.Run("array of names", func(t *testing.T) {
		res := ParseSections(`["Name", "Date"]`)
		if len(res.Sections) != 2 || res.Sections[1].Name != "Date" {
			t.Errorf("sections = %+v", res.Sections)
		}
	})

	t.Run("name description lines", func(t *testing.T) {
		res := ParseSections("Name: full name\nDate: issue date\nTotal: amount")
		if len(res.Sections) != 3 {
			t.Fatalf("got %d sections, want 3: %+v", len(res.Sections), res.Sections)
		}
		if res.Sections[1].Name != "Date" || res.Sections[1].Description != "issue date" {
			t.Errorf("second section = %+v", res.Sections[1])
		}
		if res.Warnings != 0 {
			t.Errorf("Warnings = %d, want 0", res.Warnings)
		}
	})

	t.Run("bare headings are a fallback", func(t *testing.T) {
		res := ParseSections("Invoice Number\nCustomer Name\nTotal Amount")
		if len(res.Sections) != 3 {
			t.Fatalf("got %d sections, want 3", len(res.Sections))
		}
		if res.Sections[0].Description != "" || res.Sections[0].Type != "section" {
			t.Errorf("fallback section = %+v", res.Sections[0])
		}
	})

	t.Run("bare lines ignored when structure exists", func(t *testing.T) {
		res := ParseSections("Here are the sections:\nName: full name\nSome heading")
		if len(res.Sections) != 1 || res.Sections[0].Name != "Name" {
			t.Errorf("sections = %+v", res.Sections)
		}
		if res.Warnings != 1 {
			t.Errorf("Warnings = %d, want 1", res.Warnings)
		}
	})
}

func TestParse_PayloadAfterBracketedProse(t *testing.T) {
	const payload = `{"extracted_values": [{"section": "Total", "value": "42.00", "confidence": 0.8}]}`

	extractions := []struct {
		name    string
		text    string
		method  Method
		records int
	}{
		{"same line", "Values read from page [1]: " + payload, MethodJSON, 1},
		{"next line", "Confidence scale [0-1] used.\n" + payload, MethodJSON, 1},
		{"bracket after the payload", payload + "\nSee [3] for the rest.", MethodJSON, 1},
		{
			"truncated after prose",
			`See [2]: {"extracted_values": [{"section": "Total", "value": "42.00", "confidence": 0.8}, {"section": "Date", "value": "2024-`,
			MethodRepaired, 2,
		},
	}
	for _, tt := range extractions {
		t.Run("extractions/"+tt.name, func(t *testing.T) {
			res := ParseExtractions(tt.text)
			if res.Method != tt.method {
				t.Errorf("Method = %q, want %q", res.Method, tt.method)
			}
			if len(res.Records) != tt.records {
				t.Fatalf("got %d records, want %d: %+v", len(res.Records), tt.records, res.Records)
			}
			rec := res.Records[0]
			if rec.Section != "Total" || rec.Value != "42.00" || !approx(rec.Confidence, 0.8) {
				t.Errorf("first record = %+v", rec)
			}
		})
	}

	sections := []struct {
		name string
		text string
	}{
		{"same line", `Note (see [2]) {"sections": [{"title": "Total"}, {"title": "Date"}]}`},
		{"next line", "Layout per [ISO 1]:\n" + `{"sections": [{"title": "Total"}, {"title": "Date"}]}`},
		{"numbered list before", "[1] [2]\n" + `["Total", "Date"]`},
	}
	for _, tt := range sections {
		t.Run("sections/"+tt.name, func(t *testing.T) {
			res := ParseSections(tt.text)
			if res.Method != MethodJSON {
				t.Errorf("Method = %q, want %q", res.Method, MethodJSON)
			}
			if len(res.Sections) != 2 || res.Sections[0].Name != "Total" || res.Sections[1].Name != "Date" {
				t.Errorf("sections = %+v", res.Sections)
			}
		})
	}

	t.Run("empty list after prose means nothing found", func(t *testing.T) {
		ex := ParseExtractions("No values found: []")
		if ex.Method != MethodJSON || len(ex.Records) != 0 || ex.Warnings != 0 {
			t.Errorf("ParseExtractions = %+v", ex)
		}
		sec := ParseSections("No sections found: []")
		if sec.Method != MethodJSON || len(sec.Sections) != 0 || sec.Warnings != 0 {
			t.Errorf("ParseSections = %+v", sec)
		}
	})

	t.Run("line mode unwraps a one-line reply", func(t *testing.T) {
		text := "Name: Jane\n" + payload + "\n{\"section\": \"Items\", \"values\": [\"bolts\", \"nuts\"]}\nbroken {"
		res := parseExtractionLines(text)
		want := map[string]string{"Name": "Jane", "Total": "42.00", "Items": "bolts, nuts"}
		for section, value := range want {
			rec, ok := recordBySection(res.Records, section)
			if !ok || rec.Value != value {
				t.Errorf("record %s = %+v, %v", section, rec, ok)
			}
		}
		if len(res.Records) != len(want) {
			t.Errorf("records = %+v", res.Records)
		}
	})

	t.Run("line mode unwraps a one-line detection reply", func(t *testing.T) {
		text := "Name: full name\n" + `{"sections": [{"title": "Total"}, {"title": "Date"}]}` + "\nbroken {"
		res := parseSectionLines(text)
		var names []string
		for _, s := range res.Sections {
			names = append(names, s.Name)
		}
		if strings.Join(names, ",") != "Name,Total,Date" {
			t.Errorf("sections = %v", names)
		}
	})
}

func TestNormalizeConfidence(t *testing.T) {
	tests := []struct {
		in    float64
		want  float64
		clean bool
	}{
		{0.42, 0.42, true},
		{1, 1, true},
		{85, 0.85, true},
		{100, 1, true},
		{150, 1, false},
		{-2, 0, false},
		{math.NaN(), 0.5, false},
	}
	for _, tt := range tests {
		got, clean := normalizeConfidence(tt.in)
		if !approx(got, tt.want) || clean != tt.clean {
			t.Errorf("normalizeConfidence(%v) = %v, %v, want %v, %v", tt.in, got, clean, tt.want, tt.clean)
		}
	}
}

func TestSplitPair(t *testing.T) {
	tests := []struct {
		line  string
		name  string
		value string
		ok    bool
	}{
		{"Website: https://example.com", "Website", "https://example.com", true},
		{"https://example.com", "", "", false},
		{"Total = 42", "Total", "42", true},
		{"Vendor — ACME Corp", "Vendor", "ACME Corp", true},
		{"no delimiter here", "", "", false},
		{": leading colon", "", "", false},
	}
	for _, tt := range tests {
		name, value, ok := splitPair(tt.line)
		if name != tt.name || value != tt.value || ok != tt.ok {
			t.Errorf("splitPair(%q) = %q, %q, %v, want %q, %q, %v", tt.line, name, value, ok, tt.name, tt.value, tt.ok)
		}
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := map[string]string{
		"```json\n{\"a\": 1}\n```":  `{"a": 1}`,
		"text\n```\n[1]\n```\nmore": `[1]`,
		"```json\n{\"a\": 1":        `{"a": 1`,
		"no fences":                 "",
		"```":                       "",
	}
	for in, want := range tests {
		if got := stripCodeFences(in); got != want {
			t.Errorf("stripCodeFences(%q) = %q, want %q", in, got, want)
		}
	}
}
