package llmcall

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of calls a Store keeps.
const DefaultCapacity = 1000

// Store keeps the most recent calls in memory. Older calls are evicted
// once capacity is reached.
type Store struct {
	mu       sync.RWMutex
	calls    []Call // oldest first
	capacity int
	total    int
}

// NewStore creates a Store holding up to capacity calls.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity}
}

// QueryFilter specifies filters for listing calls.
type QueryFilter struct {
	Document  string
	PromptKey string
	Provider  string
	Model     string
	After     *time.Time
	Before    *time.Time
	Success   *bool
	Limit     int
	Offset    int
}

// Add appends a call, evicting the oldest when full.
func (s *Store) Add(c *Call) {
	if c == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == s.capacity {
		copy(s.calls, s.calls[1:])
		s.calls = s.calls[:len(s.calls)-1]
	}
	s.calls = append(s.calls, *c)
	s.total++
}

// Get retrieves a single call by ID.
func (s *Store) Get(id string) (*Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.calls {
		if s.calls[i].ID == id {
			c := s.calls[i]
			return &c, true
		}
	}
	return nil, false
}

// List returns calls matching the filter, newest first.
func (s *Store) List(filter QueryFilter) []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Call
	skipped := 0
	for i := len(s.calls) - 1; i >= 0; i-- {
		c := s.calls[i]
		if !filter.matches(c) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, c)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// CountByPromptKey returns call counts grouped by prompt key.
// An empty document counts every call.
func (s *Store) CountByPromptKey(document string) map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, c := range s.calls {
		if document == "" || c.Document == document {
			counts[c.PromptKey]++
		}
	}
	return counts
}

// Len returns the number of calls held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}

// Total returns the number of calls ever added, including evicted ones.
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

func (f QueryFilter) matches(c Call) bool {
	switch {
	case f.Document != "" && c.Document != f.Document:
		return false
	case f.PromptKey != "" && c.PromptKey != f.PromptKey:
		return false
	case f.Provider != "" && c.Provider != f.Provider:
		return false
	case f.Model != "" && c.Model != f.Model:
		return false
	case f.Success != nil && c.Success != *f.Success:
		return false
	case f.After != nil && !c.Timestamp.After(*f.After):
		return false
	case f.Before != nil && !c.Timestamp.Before(*f.Before):
		return false
	}
	return true
}
