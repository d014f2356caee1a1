package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieranveyl/knowledgevault/internal/anchor"
	"github.com/kieranveyl/knowledgevault/internal/chunk"
	"github.com/kieranveyl/knowledgevault/internal/config"
	"github.com/kieranveyl/knowledgevault/internal/idgen"
	"github.com/kieranveyl/knowledgevault/internal/index"
	"github.com/kieranveyl/knowledgevault/internal/passage"
	"github.com/kieranveyl/knowledgevault/internal/store/memory"
	"github.com/kieranveyl/knowledgevault/internal/tokenize"
	"github.com/kieranveyl/knowledgevault/internal/vault"
)

func setupEngine(t *testing.T, body string, versionID string, collectionIDs []string) (*Engine, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	normalized := tokenize.Normalize(body)
	results, err := chunk.Chunk(normalized, config.DefaultChunking())
	require.NoError(t, err)

	_, err = st.CreateNote(ctx, vault.Note{ID: "n1", Title: "Note"})
	require.NoError(t, err)
	_, err = st.CreateVersion(ctx, vault.Version{ID: versionID, NoteID: "n1", BodyMD: body})
	require.NoError(t, err)
	for _, c := range collectionIDs {
		_, err := st.CreateCollection(ctx, vault.Collection{ID: c, Name: c})
		require.NoError(t, err)
	}
	_, err = st.CreatePublication(ctx, vault.Publication{ID: "pub1", NoteID: "n1", VersionID: versionID, CollectionIDs: collectionIDs, PublishedAt: time.Now()})
	require.NoError(t, err)

	passages := passage.New()
	inputs := make([]index.PassageInput, 0, len(results))
	for _, r := range results {
		a, err := anchor.Create(normalized, r.StructurePath, r.TokenSpan.Offset, r.TokenSpan.Length, tokenize.AlgoSHA256, "uax29-v1")
		require.NoError(t, err)
		p := vault.Passage{
			ID:            idgen.New(idgen.Passage),
			VersionID:     versionID,
			StructurePath: r.StructurePath,
			TokenSpan:     r.TokenSpan,
			Content:       r.Content,
			ContentHash:   r.ContentHash,
			Snippet:       r.Snippet,
			Anchor:        a,
		}
		passages.Put(p)
		inputs = append(inputs, index.PassageInput{Passage: p, CollectionIDs: collectionIDs})
	}

	registry := index.NewRegistry()
	require.NoError(t, registry.Commit(index.Build("cor1", inputs), []string{versionID}))

	engine := New(registry, st, passages, config.DefaultQuery())
	return engine, st
}

func TestSearchReturnsMatchingItem(t *testing.T) {
	engine, _ := setupEngine(t, "the quick brown fox jumps over the lazy dog", "v1", []string{"colA"})
	resp, err := engine.Search(context.Background(), Request{Text: "fox", Page: 0, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "n1", resp.Items[0].NoteID)
}

func TestSearchComposesAnswerWithResolvableCitation(t *testing.T) {
	engine, _ := setupEngine(t, "the quick brown fox jumps over the lazy dog", "v1", []string{"colA"})
	resp, err := engine.Search(context.Background(), Request{Text: "fox", Page: 0, PageSize: 10})
	require.NoError(t, err)
	require.NotNilf(t, resp.Answer, "expected a composed answer, got nil (reason=%q)", resp.NoAnswerReason)
	assert.NotEmpty(t, resp.Answer.Citations)
}

func TestSearchEmptyScopeWhenCollectionUnknown(t *testing.T) {
	engine, _ := setupEngine(t, "alpha beta gamma", "v1", []string{"colA"})
	resp, err := engine.Search(context.Background(), Request{Text: "alpha", CollectionScope: []string{"does-not-exist"}})
	require.NoError(t, err)
	assert.Equal(t, "empty_scope", resp.NoAnswerReason)
}

func TestSearchRejectsEmptyQueryText(t *testing.T) {
	engine, _ := setupEngine(t, "alpha beta", "v1", []string{"colA"})
	_, err := engine.Search(context.Background(), Request{Text: ""})
	assert.Error(t, err)
}

func TestSearchClampsPageSizeToMax(t *testing.T) {
	engine, _ := setupEngine(t, "alpha beta gamma delta", "v1", []string{"colA"})
	cfg := config.DefaultQuery()
	resp, err := engine.Search(context.Background(), Request{Text: "alpha", PageSize: cfg.MaxPageSize + 1000})
	require.NoError(t, err)
	assert.Equal(t, cfg.MaxPageSize, resp.PageSize)
}

func TestSearchInsufficientEvidenceWhenNoCandidates(t *testing.T) {
	engine, _ := setupEngine(t, "alpha beta gamma", "v1", []string{"colA"})
	resp, err := engine.Search(context.Background(), Request{Text: "zzzznotfound", Page: 0, PageSize: 10})
	require.NoError(t, err)
	assert.Nil(t, resp.Answer)
	assert.Equal(t, "insufficient_evidence", resp.NoAnswerReason)
}

func TestSearchUnresolvedAnchorsWhenStoredAnchorStale(t *testing.T) {
	engine, _ := setupEngine(t, "the quick brown fox jumps over the lazy dog", "v1", []string{"colA"})

	// Corrupt every passage's stored anchor so neither the fast
	// fingerprint check nor the reanchor fallback can resolve it: an
	// out-of-bounds token span fails Resolve outright rather than
	// merely mismatching, so every candidate is skipped.
	for _, p := range engine.passages.All() {
		stale := p
		stale.Anchor.Fingerprint = "stale-fingerprint-does-not-match"
		stale.Anchor.TokenOffset = 1 << 20
		engine.passages.Put(stale)
	}

	resp, err := engine.Search(context.Background(), Request{Text: "fox", Page: 0, PageSize: 10})
	require.NoError(t, err)
	assert.Nil(t, resp.Answer)
	assert.Equal(t, "unresolved_anchors", resp.NoAnswerReason)
}

func TestDedupeKeepsHighestScorePerVersion(t *testing.T) {
	results := []index.Result{
		{VersionID: "v1", PassageID: "p1", Score: 1.0},
		{VersionID: "v1", PassageID: "p2", Score: 5.0},
		{VersionID: "v2", PassageID: "p3", Score: 2.0},
	}
	out := dedupe(results)
	require.Len(t, out, 2)
	for _, r := range out {
		if r.VersionID == "v1" {
			assert.Equal(t, "p2", r.PassageID)
		}
	}
}
