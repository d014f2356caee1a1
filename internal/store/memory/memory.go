// Package memory implements internal/store.Store entirely in-process
// using a map+mutex shape.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/kieranveyl/knowledgevault/internal/store"
	"github.com/kieranveyl/knowledgevault/internal/vault"
)

// Store is an in-memory, mutex-guarded implementation of store.Store.
// It never fabricates a version id on idempotent replay: the record is
// written by Publish (from PublishWrite.Idempotency) or SaveIdempotency
// with the actual version id produced on first execution.
type Store struct {
	mu sync.Mutex

	notes       map[string]vault.Note
	drafts      map[string]vault.Draft
	versions    map[string]vault.Version
	versionsOf  map[string][]string // note_id -> version ids, insertion order
	publications map[string]vault.Publication
	collections map[string]vault.Collection
	collByName  map[string]string // lowercase name -> collection id
	noteColls   map[string]map[string]bool // note_id -> set(collection_id)

	idempotency map[string]store.IdempotencyRecord // noteID+"\x00"+token -> record
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		notes:        make(map[string]vault.Note),
		drafts:       make(map[string]vault.Draft),
		versions:     make(map[string]vault.Version),
		versionsOf:   make(map[string][]string),
		publications: make(map[string]vault.Publication),
		collections:  make(map[string]vault.Collection),
		collByName:   make(map[string]string),
		noteColls:    make(map[string]map[string]bool),
		idempotency:  make(map[string]store.IdempotencyRecord),
	}
}

func (s *Store) CreateNote(_ context.Context, n vault.Note) (vault.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.notes[n.ID]; exists {
		return vault.Note{}, &vault.ConflictError{Message: "note already exists: " + n.ID}
	}
	s.notes[n.ID] = n
	return n, nil
}

func (s *Store) GetNote(_ context.Context, id string) (vault.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok {
		return vault.Note{}, &vault.NotFound{Entity: "note", ID: id}
	}
	return n, nil
}

func (s *Store) ListNotes(_ context.Context, page, pageSize int) ([]vault.Note, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.notes))
	for id := range s.notes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	total := len(ids)
	window := paginateIDs(ids, page, pageSize)
	out := make([]vault.Note, 0, len(window))
	for _, id := range window {
		out = append(out, s.notes[id])
	}
	return out, total, nil
}

func (s *Store) UpdateNote(_ context.Context, n vault.Note) (vault.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[n.ID]; !ok {
		return vault.Note{}, &vault.NotFound{Entity: "note", ID: n.ID}
	}
	s.notes[n.ID] = n
	return n, nil
}

func (s *Store) DeleteNote(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[id]; !ok {
		return &vault.NotFound{Entity: "note", ID: id}
	}
	delete(s.notes, id)
	delete(s.drafts, id)
	delete(s.noteColls, id)
	return nil
}

func (s *Store) SaveDraft(_ context.Context, d vault.Draft) (vault.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[d.NoteID]; !ok {
		return vault.Draft{}, &vault.NotFound{Entity: "note", ID: d.NoteID}
	}
	s.drafts[d.NoteID] = d
	return d, nil
}

func (s *Store) GetDraft(_ context.Context, noteID string) (vault.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[noteID]
	if !ok {
		return vault.Draft{}, &vault.NotFound{Entity: "draft", ID: noteID}
	}
	return d, nil
}

func (s *Store) HasDraft(_ context.Context, noteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.drafts[noteID]
	return ok, nil
}

func (s *Store) DeleteDraft(_ context.Context, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, noteID)
	return nil
}

func (s *Store) CreateVersion(_ context.Context, v vault.Version) (vault.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.versions[v.ID]; exists {
		return vault.Version{}, &vault.ConflictError{Message: "version already exists: " + v.ID}
	}
	s.versions[v.ID] = v
	s.versionsOf[v.NoteID] = append(s.versionsOf[v.NoteID], v.ID)
	return v, nil
}

func (s *Store) GetVersion(_ context.Context, id string) (vault.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return vault.Version{}, &vault.NotFound{Entity: "version", ID: id}
	}
	return v, nil
}

func (s *Store) ListVersions(_ context.Context, noteID string, page, pageSize int) ([]vault.Version, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.versionsOf[noteID]
	total := len(ids)
	window := paginateIDs(ids, page, pageSize)
	out := make([]vault.Version, 0, len(window))
	for _, id := range window {
		out = append(out, s.versions[id])
	}
	return out, total, nil
}

func (s *Store) CreatePublication(_ context.Context, p vault.Publication) (vault.Publication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publications[p.ID] = p
	m, ok := s.noteColls[p.NoteID]
	if !ok {
		m = make(map[string]bool)
		s.noteColls[p.NoteID] = m
	}
	for _, c := range p.CollectionIDs {
		m[c] = true
	}
	return p, nil
}

func (s *Store) GetPublicationByVersion(_ context.Context, versionID string) (vault.Publication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best vault.Publication
	found := false
	for _, p := range s.publications {
		if p.VersionID != versionID {
			continue
		}
		if !found || p.PublishedAt.After(best.PublishedAt) {
			best = p
			found = true
		}
	}
	if !found {
		return vault.Publication{}, &vault.NotFound{Entity: "publication", ID: versionID}
	}
	return best, nil
}

func (s *Store) CreateCollection(_ context.Context, c vault.Collection) (vault.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(c.Name)
	if _, exists := s.collByName[key]; exists {
		return vault.Collection{}, &vault.ConflictError{Message: "collection name already in use: " + c.Name}
	}
	s.collections[c.ID] = c
	s.collByName[key] = c.ID
	return c, nil
}

func (s *Store) GetCollection(_ context.Context, id string) (vault.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[id]
	if !ok {
		return vault.Collection{}, &vault.NotFound{Entity: "collection", ID: id}
	}
	return c, nil
}

func (s *Store) ListCollections(_ context.Context) ([]vault.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]vault.Collection, 0, len(s.collections))
	for _, c := range s.collections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) LookupCollectionByName(_ context.Context, name string) (vault.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.collByName[strings.ToLower(name)]
	if !ok {
		return vault.Collection{}, &vault.NotFound{Entity: "collection", ID: name}
	}
	return s.collections[id], nil
}

func (s *Store) AttachCollection(_ context.Context, noteID, collectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.noteColls[noteID]
	if !ok {
		m = make(map[string]bool)
		s.noteColls[noteID] = m
	}
	m[collectionID] = true
	return nil
}

func (s *Store) DetachCollection(_ context.Context, noteID, collectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.noteColls[noteID]; ok {
		delete(m, collectionID)
	}
	return nil
}

func (s *Store) LookupIdempotency(_ context.Context, noteID, clientToken string) (store.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.idempotency[idemKey(noteID, clientToken)]
	return rec, ok, nil
}

func (s *Store) SaveIdempotency(_ context.Context, rec store.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idempotency[idemKey(rec.NoteID, rec.ClientToken)] = rec
	return nil
}

// Publish applies all four PublishWrite writes under one critical
// section: a single mutex hold is this backend's equivalent of a
// transaction, so either every map mutation below happens or (on the
// early validation failure) none of them do.
func (s *Store) Publish(_ context.Context, w store.PublishWrite) (vault.Version, vault.Publication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.versions[w.Version.ID]; exists {
		return vault.Version{}, vault.Publication{}, &vault.ConflictError{Message: "version already exists: " + w.Version.ID}
	}
	if _, ok := s.notes[w.Note.ID]; !ok {
		return vault.Version{}, vault.Publication{}, &vault.NotFound{Entity: "note", ID: w.Note.ID}
	}

	s.versions[w.Version.ID] = w.Version
	s.versionsOf[w.Version.NoteID] = append(s.versionsOf[w.Version.NoteID], w.Version.ID)

	s.notes[w.Note.ID] = w.Note

	s.publications[w.Publication.ID] = w.Publication
	m, ok := s.noteColls[w.Publication.NoteID]
	if !ok {
		m = make(map[string]bool)
		s.noteColls[w.Publication.NoteID] = m
	}
	for _, c := range w.Publication.CollectionIDs {
		m[c] = true
	}

	if w.Idempotency.ClientToken != "" {
		s.idempotency[idemKey(w.Idempotency.NoteID, w.Idempotency.ClientToken)] = w.Idempotency
	}

	return w.Version, w.Publication, nil
}

func idemKey(noteID, token string) string { return noteID + "\x00" + token }

func paginateIDs(ids []string, page, pageSize int) []string {
	if pageSize <= 0 {
		pageSize = len(ids)
	}
	start := page * pageSize
	if start >= len(ids) {
		return nil
	}
	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}
	return ids[start:end]
}
