// Package index implements the segmented, two-phase inverted index of
// spec §4.F: a Building/Ready state machine over passages, BM25-style
// field-boosted scoring, and a health gate guarding the atomic swap
// from a shadow build to the current serving index.
package index

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/kieranveyl/knowledgevault/internal/tokenize"
	"github.com/kieranveyl/knowledgevault/internal/vault"
)

// Field identifies which Passage field a posting came from, for
// field-boosted scoring.
type Field string

const (
	FieldContent       Field = "content"
	FieldSnippet       Field = "snippet"
	FieldStructurePath Field = "structure_path"
)

// Boosts are the per-field score multipliers applied on top of BM25.
var Boosts = map[Field]float64{
	FieldContent:       1.0,
	FieldSnippet:       1.5,
	FieldStructurePath: 0.5,
}

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// posting is one (term, passage, field) occurrence.
type posting struct {
	passageID string
	field     Field
	termFreq  int
}

// Result is one scored hit from Retrieve.
type Result struct {
	VersionID     string
	PassageID     string
	Score         float64
	Snippet       string
	StructurePath string
	CollectionIDs []string
}

// HealthError reports a failed health gate check (§4.F).
type HealthError struct {
	Reason string
}

func (e *HealthError) Error() string {
	return "index: health check failed: " + e.Reason
}

// Index is one immutable, built generation of the inverted index.
// Index is safe for concurrent reads; it is never mutated after Build
// returns it.
type Index struct {
	corpusID string

	// postings[term] -> postings for that term across all fields/passages.
	postings map[string][]posting

	docLen     map[string]int // passage_id -> content token count, for BM25 length norm
	avgDocLen  float64
	totalDocs  int

	passages      map[string]vault.Passage
	versionOf     map[string]string   // passage_id -> version_id
	collectionsOf map[string][]string // version_id -> collection ids
}

// PassageInput is what Build consumes per passage: the passage itself
// plus the collection ids its owning version was published into.
type PassageInput struct {
	Passage       vault.Passage
	CollectionIDs []string
}

// Build constructs a new, fully populated Index from scratch. It never
// mutates any previously built Index.
func Build(corpusID string, inputs []PassageInput) *Index {
	idx := &Index{
		corpusID:      corpusID,
		postings:      make(map[string][]posting),
		docLen:        make(map[string]int),
		passages:      make(map[string]vault.Passage),
		versionOf:     make(map[string]string),
		collectionsOf: make(map[string][]string),
	}

	var totalLen int
	for _, in := range inputs {
		p := in.Passage
		idx.passages[p.ID] = p
		idx.versionOf[p.ID] = p.VersionID
		idx.collectionsOf[p.VersionID] = in.CollectionIDs

		contentToks := tokenize.Tokenize(p.Content).Tokens
		idx.docLen[p.ID] = len(contentToks)
		totalLen += len(contentToks)

		idx.indexField(p.ID, FieldContent, contentToks)
		idx.indexField(p.ID, FieldSnippet, tokenize.Tokenize(p.Snippet).Tokens)
		idx.indexField(p.ID, FieldStructurePath, structurePathTokens(p.StructurePath))
	}

	idx.totalDocs = len(inputs)
	if idx.totalDocs > 0 {
		idx.avgDocLen = float64(totalLen) / float64(idx.totalDocs)
	}
	return idx
}

func (idx *Index) indexField(passageID string, field Field, tokens []string) {
	freq := make(map[string]int)
	for _, t := range tokens {
		freq[strings.ToLower(t)]++
	}
	for term, tf := range freq {
		idx.postings[term] = append(idx.postings[term], posting{passageID: passageID, field: field, termFreq: tf})
	}
}

func structurePathTokens(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Health runs the §4.F health gate: every version id in wantVersions
// has at least one indexed passage, there are no orphan passages (a
// passage whose version isn't in wantVersions), and no duplicate
// passage ids. Passages are held in a map keyed by id (Build keeps the
// last of any repeated id), so the duplicate check here never fires.
func (idx *Index) Health(wantVersions []string) error {
	seen := make(map[string]bool, len(wantVersions))
	for _, v := range wantVersions {
		seen[v] = true
	}
	covered := make(map[string]bool, len(wantVersions))
	ids := make(map[string]bool, len(idx.passages))
	for id, p := range idx.passages {
		if ids[id] {
			return &HealthError{Reason: "duplicate passage id " + id}
		}
		ids[id] = true
		if !seen[p.VersionID] {
			return &HealthError{Reason: "orphan passage for version " + p.VersionID}
		}
		covered[p.VersionID] = true
	}
	for _, v := range wantVersions {
		if !covered[v] {
			return &HealthError{Reason: "missing passages for version " + v}
		}
	}
	return nil
}

// Retrieve scores query against the index, restricted to
// collectionFilter if non-empty, and returns the top_k results sorted
// by descending score with a deterministic tie-break on
// (version_id asc, passage_id asc).
func (idx *Index) Retrieve(query string, collectionFilter []string, topK int) []Result {
	if idx == nil || idx.totalDocs == 0 {
		return nil
	}
	terms := tokenize.Tokenize(strings.ToLower(query)).Tokens
	if len(terms) == 0 {
		return nil
	}

	allow := map[string]bool{}
	for _, c := range collectionFilter {
		allow[c] = true
	}

	scores := make(map[string]float64)
	for _, term := range terms {
		postings := idx.postings[term]
		if len(postings) == 0 {
			continue
		}
		docsWithTerm := uniqueDocs(postings)
		idf := idfBM25(idx.totalDocs, len(docsWithTerm))
		for _, post := range postings {
			if len(allow) > 0 {
				versionID := idx.versionOf[post.passageID]
				if !collectionsIntersect(idx.collectionsOf[versionID], allow) {
					continue
				}
			}
			dl := float64(idx.docLen[post.passageID])
			norm := (1 - bm25B) + bm25B*dl/idx.avgDocLen
			tf := float64(post.termFreq)
			score := idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*norm)
			scores[post.passageID] += score * Boosts[post.field]
		}
	}

	results := make([]Result, 0, len(scores))
	for pid, score := range scores {
		p := idx.passages[pid]
		results = append(results, Result{
			VersionID:     p.VersionID,
			PassageID:     p.ID,
			Score:         score,
			Snippet:       p.Snippet,
			StructurePath: p.StructurePath,
			CollectionIDs: idx.collectionsOf[p.VersionID],
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].VersionID != results[j].VersionID {
			return results[i].VersionID < results[j].VersionID
		}
		return results[i].PassageID < results[j].PassageID
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

func collectionsIntersect(have []string, want map[string]bool) bool {
	for _, c := range have {
		if want[c] {
			return true
		}
	}
	return false
}

func uniqueDocs(postings []posting) map[string]bool {
	out := make(map[string]bool, len(postings))
	for _, p := range postings {
		out[p.passageID] = true
	}
	return out
}

func idfBM25(totalDocs, docsWithTerm int) float64 {
	if docsWithTerm == 0 {
		return 0
	}
	return math.Log(1 + (float64(totalDocs)-float64(docsWithTerm)+0.5)/(float64(docsWithTerm)+0.5))
}

// Registry holds the single currently-serving Index and gates
// readers/writers through an RWMutex, per §4.F's building/current
// pointer split. The building index under construction is never
// exposed to readers until Commit succeeds.
type Registry struct {
	mu      sync.RWMutex
	current *Index
}

// NewRegistry constructs an empty Registry with no index installed.
func NewRegistry() *Registry {
	return &Registry{}
}

// Current returns the currently-serving Index, or nil if none has been
// committed yet.
func (r *Registry) Current() *Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Commit atomically installs next as the currently-serving index after
// running its health gate against wantVersions. Queries already in
// flight against the previous index are unaffected; new queries
// observe next.
func (r *Registry) Commit(next *Index, wantVersions []string) error {
	if err := next.Health(wantVersions); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = next
	return nil
}
