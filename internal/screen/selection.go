package screen

import (
	"sort"
	"sync"
)

// Selection is the set of checked record identifiers. It is independent of
// the displayed page: the table reports the full checked set on every
// interaction and Toggle stores that snapshot.
type Selection struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewSelection() *Selection {
	return &Selection{ids: make(map[string]struct{})}
}

// Toggle replaces the whole set with ids. Duplicates collapse.
func (s *Selection) Toggle(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	s.mu.Lock()
	s.ids = next
	s.mu.Unlock()
}

// IDs returns the selected identifiers in sorted order.
func (s *Selection) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Selection) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *Selection) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Remove drops ids from the set. Only the deletion workflow calls it.
func (s *Selection) Remove(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.ids, id)
	}
}
