// Package passage implements the in-memory Passage Store of spec §4.E:
// a derived, rebuildable cache of passages keyed by id with a
// secondary index by version.
package passage

import (
	"sync"

	"github.com/kieranveyl/knowledgevault/internal/vault"
)

// Store holds Passages in memory, indexed by id and by version id.
// Safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	byID       map[string]vault.Passage
	byVersion  map[string][]string // version_id -> passage ids, insertion order
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		byID:      make(map[string]vault.Passage),
		byVersion: make(map[string][]string),
	}
}

// Put inserts or replaces a passage.
func (s *Store) Put(p vault.Passage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[p.ID]; !exists {
		s.byVersion[p.VersionID] = append(s.byVersion[p.VersionID], p.ID)
	}
	s.byID[p.ID] = p
}

// PutAll inserts or replaces a batch of passages for one version.
func (s *Store) PutAll(passages []vault.Passage) {
	for _, p := range passages {
		s.Put(p)
	}
}

// Get returns the passage with the given id.
func (s *Store) Get(id string) (vault.Passage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	return p, ok
}

// ByVersion returns all passages for a version, in insertion order.
func (s *Store) ByVersion(versionID string) []vault.Passage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byVersion[versionID]
	out := make([]vault.Passage, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	return out
}

// DeleteByVersion removes every passage belonging to a version.
func (s *Store) DeleteByVersion(versionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byVersion[versionID] {
		delete(s.byID, id)
	}
	delete(s.byVersion, versionID)
}

// All returns every passage currently stored, in no particular order.
func (s *Store) All() []vault.Passage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]vault.Passage, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, p)
	}
	return out
}

// Len returns the number of passages stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
