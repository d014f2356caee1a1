// Package query implements the Query Engine pipeline of spec §4.I:
// scope resolution, retrieval, rerank, dedup, pagination, and
// extractive answer composition, with SLO-driven backpressure.
package query

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kieranveyl/knowledgevault/internal/anchor"
	"github.com/kieranveyl/knowledgevault/internal/config"
	"github.com/kieranveyl/knowledgevault/internal/idgen"
	"github.com/kieranveyl/knowledgevault/internal/index"
	"github.com/kieranveyl/knowledgevault/internal/passage"
	"github.com/kieranveyl/knowledgevault/internal/store"
	"github.com/kieranveyl/knowledgevault/internal/tokenize"
	"github.com/kieranveyl/knowledgevault/internal/vault"
)

// Request is a Search input.
type Request struct {
	Text             string
	CollectionScope  []string // collection names; resolved to ids internally
	Page             int
	PageSize         int
}

// Item is one ranked, deduplicated result.
type Item struct {
	NoteID        string
	VersionID     string
	PassageID     string
	Score         float64
	Snippet       string
	StructurePath string
	CollectionIDs []string
}

// Response is Search's output.
type Response struct {
	Items          []Item
	Answer         *vault.Answer
	QueryID        string
	Page           int
	PageSize       int
	TotalCount     int
	HasMore        bool
	NoAnswerReason string
}

// Engine runs the query pipeline against a committed index.
type Engine struct {
	registry *index.Registry
	st       store.Store
	passages *passage.Store
	cfg      config.QueryConfig

	mu             sync.Mutex
	currentRerankK int
	p95            time.Duration
}

// New constructs an Engine reading from registry.
func New(registry *index.Registry, st store.Store, passages *passage.Store, cfg config.QueryConfig) *Engine {
	return &Engine{registry: registry, st: st, passages: passages, cfg: cfg, currentRerankK: cfg.TopKRerank}
}

// Search runs the full pipeline for req.
func (e *Engine) Search(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	queryID := idgen.New(idgen.Query)

	if l := len(strings.TrimSpace(req.Text)); l < 1 || l > 500 {
		return Response{}, &vault.ValidationError{Errors: []string{"query text must be between 1 and 500 characters"}}
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = e.cfg.MaxPageSize
	}
	if pageSize > e.cfg.MaxPageSize {
		pageSize = e.cfg.MaxPageSize
	}

	collectionIDs, allUnknown := e.resolveScope(ctx, req.CollectionScope)
	if allUnknown {
		return Response{QueryID: queryID, Page: req.Page, PageSize: pageSize, NoAnswerReason: "empty_scope"}, nil
	}

	idx := e.registry.Current()
	retrieved := idx.Retrieve(req.Text, collectionIDs, e.cfg.TopKRetrieve)

	rerankK := e.rerankTopK()
	if len(retrieved) > rerankK {
		retrieved = retrieved[:rerankK]
	}
	sortDeterministic(retrieved)

	deduped := dedupe(retrieved)
	sortDeterministic(deduped)

	e.recordLatency(time.Since(start))

	total := len(deduped)
	pageStart := req.Page * pageSize
	var pageItems []index.Result
	if pageStart < total {
		end := pageStart + pageSize
		if end > total {
			end = total
		}
		pageItems = deduped[pageStart:end]
	}

	items := make([]Item, 0, len(pageItems))
	for _, r := range pageItems {
		items = append(items, Item{
			VersionID:     r.VersionID,
			PassageID:     r.PassageID,
			Score:         r.Score,
			Snippet:       r.Snippet,
			StructurePath: r.StructurePath,
			CollectionIDs: r.CollectionIDs,
		})
	}
	e.attachNoteIDs(ctx, items)

	resp := Response{
		Items:      items,
		QueryID:    queryID,
		Page:       req.Page,
		PageSize:   pageSize,
		TotalCount: total,
		HasMore:    pageStart+len(pageItems) < total,
	}

	answer, reason := e.composeAnswer(ctx, queryID, deduped)
	resp.Answer = answer
	if answer == nil && reason != "" {
		resp.NoAnswerReason = reason
	}
	return resp, nil
}

// resolveScope maps collection names to ids, silently ignoring unknown
// ones; if every requested name is unknown, allUnknown is true.
func (e *Engine) resolveScope(ctx context.Context, names []string) (ids []string, allUnknown bool) {
	if len(names) == 0 {
		return nil, false
	}
	for _, name := range names {
		c, err := e.st.LookupCollectionByName(ctx, name)
		if err != nil {
			continue
		}
		ids = append(ids, c.ID)
	}
	return ids, len(ids) == 0
}

// rerankTopK returns the currently active rerank width, reduced under
// SLO backpressure.
func (e *Engine) rerankTopK() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentRerankK
}

// recordLatency adjusts the active rerank width based on configured
// SLO trigger/recover latency thresholds.
func (e *Engine) recordLatency(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.p95 = d
	switch {
	case d > e.cfg.SLOP95Trigger:
		e.currentRerankK = e.cfg.TopKRerankLow
	case d < e.cfg.SLOP95Recover:
		e.currentRerankK = e.cfg.TopKRerank
	}
}

// sortDeterministic applies the (-score, version_id, passage_id)
// ordering in place.
func sortDeterministic(results []index.Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].VersionID != results[j].VersionID {
			return results[i].VersionID < results[j].VersionID
		}
		return results[i].PassageID < results[j].PassageID
	})
}

// dedupe keeps the highest-scored passage per (note_id, version_id);
// note_id is not known to the index, so version_id stands in as the
// dedup key here and note_id is resolved afterward for display only
// (two versions never share a version_id across notes).
func dedupe(results []index.Result) []index.Result {
	best := make(map[string]index.Result)
	for _, r := range results {
		cur, ok := best[r.VersionID]
		if !ok || r.Score > cur.Score {
			best[r.VersionID] = r
		}
	}
	out := make([]index.Result, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	return out
}

// attachNoteIDs resolves each item's note_id from its version id via
// the Store, best-effort (a resolution failure leaves NoteID empty
// rather than failing the whole search).
func (e *Engine) attachNoteIDs(ctx context.Context, items []Item) {
	for i := range items {
		v, err := e.st.GetVersion(ctx, items[i].VersionID)
		if err == nil {
			items[i].NoteID = v.NoteID
		}
	}
}

// composeAnswer builds an extractive answer over the top ≤10
// deduplicated results, selecting up to 3 whose stored anchors resolve
// against the version's current content. Per spec §4.I.6, the no-answer
// reason distinguishes "insufficient_evidence" (no candidates reached
// this stage) from "unresolved_anchors" (candidates existed but none of
// their anchors resolved).
func (e *Engine) composeAnswer(ctx context.Context, queryID string, ranked []index.Result) (*vault.Answer, string) {
	if len(ranked) == 0 {
		return nil, "insufficient_evidence"
	}

	limit := ranked
	if len(limit) > 10 {
		limit = limit[:10]
	}

	var citations []vault.Citation
	var snippets []string
	considered := 0
	for _, r := range limit {
		if len(citations) >= 3 {
			break
		}
		considered++
		p, ok := e.passages.Get(r.PassageID)
		if !ok {
			continue
		}
		v, err := e.st.GetVersion(ctx, r.VersionID)
		if err != nil {
			continue
		}
		current := tokenize.Normalize(v.BodyMD)
		res, err := anchor.Resolve(p.Anchor, current, current, p.Anchor.TokenizationVersion, tokenize.Algo(p.Anchor.FingerprintAlgo))
		if err != nil || !res.Resolved {
			continue
		}
		citations = append(citations, vault.Citation{
			ID:         idgen.New(idgen.Citation),
			VersionID:  r.VersionID,
			Anchor:     p.Anchor,
			Snippet:    r.Snippet,
			Confidence: r.Score,
		})
		snippets = append(snippets, r.Snippet)
	}

	if len(citations) == 0 {
		return nil, "unresolved_anchors"
	}

	ans := &vault.Answer{
		ID:         idgen.New(idgen.Answer),
		QueryID:    queryID,
		Text:       strings.Join(snippets, " "),
		Citations:  citations,
		Coverage:   vault.Coverage{Claims: considered, Cited: len(citations)},
		ComposedAt: time.Now(),
	}
	for i := range ans.Citations {
		ans.Citations[i].AnswerID = ans.ID
	}
	return ans, ""
}
