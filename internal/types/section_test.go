package types

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestSectionSet_Add(t *testing.T) {
	t.Run("rejects case-insensitive duplicates", func(t *testing.T) {
		var s SectionSet
		if !s.Add(Section{Name: "Invoice Number"}) {
			t.Fatal("first Add() = false, want true")
		}
		if s.Add(Section{Name: "invoice   number"}) {
			t.Error("duplicate Add() = true, want false")
		}
		if s.Len() != 1 {
			t.Errorf("Len() = %d, want 1", s.Len())
		}
	})

	t.Run("rejects blank names", func(t *testing.T) {
		var s SectionSet
		if s.Add(Section{Name: "   "}) {
			t.Error("blank Add() = true, want false")
		}
	})

	t.Run("keeps insertion order", func(t *testing.T) {
		s := NewSectionSet("Total", "Date", "total", "Vendor")
		want := []string{"Total", "Date", "Vendor"}
		if got := s.Names(); !reflect.DeepEqual(got, want) {
			t.Errorf("Names() = %v, want %v", got, want)
		}
	})
}

func TestSectionSet_RemoveAndToggle(t *testing.T) {
	s := NewSectionSet("A", "B", "C")

	if !s.Remove("b") {
		t.Fatal("Remove(b) = false, want true")
	}
	if s.Contains("B") {
		t.Error("B still present after Remove")
	}
	if !s.Contains("c") {
		t.Error("index not rebuilt after Remove")
	}

	if selected := s.Toggle(Section{Name: "A"}); selected {
		t.Error("Toggle on present section should deselect")
	}
	if selected := s.Toggle(Section{Name: "D"}); !selected {
		t.Error("Toggle on absent section should select")
	}
	want := []string{"C", "D"}
	if got := s.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestSectionSet_CopiesAreIndependent(t *testing.T) {
	orig := NewSectionSet("A", "B")
	cp := orig
	cp.Add(Section{Name: "C"})
	orig.Add(Section{Name: "D"})

	if orig.Contains("C") {
		t.Error("Add on a copy is visible in the original")
	}
	if got, want := orig.Names(), []string{"A", "B", "D"}; !reflect.DeepEqual(got, want) {
		t.Errorf("original Names() = %v, want %v", got, want)
	}
	if got, want := cp.Names(), []string{"A", "B", "C"}; !reflect.DeepEqual(got, want) {
		t.Errorf("copy Names() = %v, want %v", got, want)
	}
	if sec, ok := cp.Lookup("C"); !ok || sec.Name != "C" {
		t.Errorf("copy Lookup(C) = %+v, %v", sec, ok)
	}

	cp.Remove("A")
	if sec, ok := orig.Lookup("B"); !ok || sec.Name != "B" {
		t.Errorf("original Lookup(B) after Remove on copy = %+v, %v", sec, ok)
	}
	if sec, ok := orig.Lookup("D"); !ok || sec.Name != "D" {
		t.Errorf("original Lookup(D) = %+v, %v", sec, ok)
	}
	if orig.Len() != 3 || cp.Len() != 2 {
		t.Errorf("Len() = %d, %d, want 3, 2", orig.Len(), cp.Len())
	}
}

func TestSectionSet_JSON(t *testing.T) {
	s := NewSectionSet("Name", "Date")
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded SectionSet
	if err := json.Unmarshal([]byte(`[{"name":"Name"},{"name":"NAME"},{"name":"Date"}]`), &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Len() != 2 {
		t.Errorf("decoded Len() = %d, want 2", decoded.Len())
	}
	if string(data) != `[{"name":"Name"},{"name":"Date"}]` {
		t.Errorf("Marshal() = %s", data)
	}
}

func TestParseManualSections(t *testing.T) {
	got := ParseManualSections("Name, Date\nTotal amount;\n , IBAN")
	want := []string{"Name", "Date", "Total amount", "IBAN"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseManualSections() = %v, want %v", got, want)
	}
}

func TestFailedResult(t *testing.T) {
	set := NewSectionSet("A", "B")
	res := FailedResult("doc.pdf", set, StatusSkipped, "cancelled")

	if len(res.Sections) != 2 {
		t.Fatalf("Sections = %d, want 2", len(res.Sections))
	}
	for name, v := range res.Sections {
		if v.Found || v.Value != NotFoundValue || v.Confidence != 0 {
			t.Errorf("section %s = %+v, want explicit not-found", name, v)
		}
	}
	if res.Status != StatusSkipped {
		t.Errorf("Status = %q", res.Status)
	}
}
