// Package types holds the data model shared by the scanning pipeline.
package types

import (
	"encoding/json"
	"strings"
)

// Section is a named field or heading a user wants extracted.
// Names are unique within a SectionSet, compared case-insensitively.
type Section struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Level       int    `json:"level,omitempty"`
	Type        string `json:"type,omitempty"`
	Page        int    `json:"page,omitempty"`
}

// SectionKey folds a section name to its comparison form: lower case with
// runs of whitespace collapsed to a single space.
func SectionKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// SectionSet is an ordered collection of sections without duplicates.
// The zero value is ready to use. Mutators never write to storage a copy of
// the set may share, so a SectionSet can be passed and copied by value.
type SectionSet struct {
	sections []Section
	index    map[string]int
}

// NewSectionSet builds a set from names, skipping blanks and duplicates.
func NewSectionSet(names ...string) SectionSet {
	var s SectionSet
	for _, n := range names {
		s.Add(Section{Name: n})
	}
	return s
}

// Add appends sec unless a section with the same key already exists.
// Blank names are rejected. Reports whether the section was added.
func (s *SectionSet) Add(sec Section) bool {
	sec.Name = strings.TrimSpace(sec.Name)
	key := SectionKey(sec.Name)
	if key == "" {
		return false
	}
	if _, ok := s.index[key]; ok {
		return false
	}
	index := make(map[string]int, len(s.index)+1)
	for k, i := range s.index {
		index[k] = i
	}
	index[key] = len(s.sections)
	n := len(s.sections)
	s.index = index
	s.sections = append(s.sections[:n:n], sec)
	return true
}

// Remove deletes the section matching name. Reports whether one was removed.
func (s *SectionSet) Remove(name string) bool {
	key := SectionKey(name)
	i, ok := s.index[key]
	if !ok {
		return false
	}
	sections := make([]Section, 0, len(s.sections)-1)
	sections = append(sections, s.sections[:i]...)
	s.sections = append(sections, s.sections[i+1:]...)
	s.reindex()
	return true
}

// Toggle adds the section when absent and removes it when present, the way a
// checkbox list behaves. Reports whether the section is selected afterwards.
func (s *SectionSet) Toggle(sec Section) bool {
	if s.Contains(sec.Name) {
		s.Remove(sec.Name)
		return false
	}
	return s.Add(sec)
}

// Contains reports whether a section matching name is in the set.
func (s SectionSet) Contains(name string) bool {
	_, ok := s.index[SectionKey(name)]
	return ok
}

// Lookup returns the stored section matching name.
func (s SectionSet) Lookup(name string) (Section, bool) {
	i, ok := s.index[SectionKey(name)]
	if !ok {
		return Section{}, false
	}
	return s.sections[i], true
}

// Len returns the number of sections.
func (s SectionSet) Len() int {
	return len(s.sections)
}

// Sections returns a copy of the sections in insertion order.
func (s SectionSet) Sections() []Section {
	out := make([]Section, len(s.sections))
	copy(out, s.sections)
	return out
}

// Names returns the section names in insertion order.
func (s SectionSet) Names() []string {
	names := make([]string, len(s.sections))
	for i, sec := range s.sections {
		names[i] = sec.Name
	}
	return names
}

// Clone returns an independent copy of the set.
func (s SectionSet) Clone() SectionSet {
	var c SectionSet
	for _, sec := range s.sections {
		c.Add(sec)
	}
	return c
}

func (s *SectionSet) reindex() {
	s.index = make(map[string]int, len(s.sections))
	for i, sec := range s.sections {
		s.index[SectionKey(sec.Name)] = i
	}
}

// ParseManualSections splits free text typed by a user into section names.
// Names may be separated by commas or newlines.
func ParseManualSections(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r' || r == ';'
	})
	var names []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			names = append(names, f)
		}
	}
	return names
}

// MarshalJSON encodes the set as an array of sections.
func (s SectionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sections())
}

// UnmarshalJSON decodes an array of sections, dropping duplicates.
func (s *SectionSet) UnmarshalJSON(data []byte) error {
	var secs []Section
	if err := json.Unmarshal(data, &secs); err != nil {
		return err
	}
	*s = SectionSet{}
	for _, sec := range secs {
		s.Add(sec)
	}
	return nil
}
