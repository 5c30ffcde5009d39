package review

import (
	"sort"
	"sync"
)

// OpinionStore provides thread-safe in-memory storage for drafted
// opinions, keyed by log entry ID. Opinions live only as long as the
// process; the audit trail of actual resolutions is in the database.
type OpinionStore struct {
	mu       sync.RWMutex
	opinions map[string]*Opinion
}

// NewOpinionStore creates a new in-memory opinion store
func NewOpinionStore() *OpinionStore {
	return &OpinionStore{
		opinions: make(map[string]*Opinion),
	}
}

// Save stores or updates the opinion for a log entry
func (s *OpinionStore) Save(opinion Opinion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opinions[opinion.EntryID] = &opinion
}

// Get retrieves the opinion for a log entry if one was drafted
func (s *OpinionStore) Get(entryID string) (*Opinion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opinion, exists := s.opinions[entryID]
	return opinion, exists
}

// Delete removes an opinion from the store
func (s *OpinionStore) Delete(entryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.opinions, entryID)
}

// List returns all stored opinions ordered by entry ID.
func (s *OpinionStore) List() []Opinion {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Opinion, 0, len(s.opinions))
	for _, o := range s.opinions {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out
}

// Count returns the total number of opinions in the store
func (s *OpinionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.opinions)
}
