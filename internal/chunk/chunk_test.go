package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieranveyl/knowledgevault/internal/config"
	"github.com/kieranveyl/knowledgevault/internal/tokenize"
)

func smallCfg() config.ChunkingConfig {
	return config.ChunkingConfig{
		MaxTokensPerPassage:         10,
		OverlapTokens:               5,
		MaxNoteTokens:               1000,
		MinPassageTokens:            3,
		PreserveStructureBoundaries: true,
	}
}

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "word"
	}
	return strings.Join(w, " ")
}

func TestChunkSingleShortPassage(t *testing.T) {
	results, err := Chunk("one two three", smallCfg())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].TokenSpan.Offset)
	assert.Equal(t, 3, results[0].TokenSpan.Length)
}

func TestChunkProducesOverlappingPassages(t *testing.T) {
	normalized := words(25)
	results, err := Chunk(normalized, smallCfg())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(results), 2)
	for i := 1; i < len(results); i++ {
		prevEnd := results[i-1].TokenSpan.Offset + results[i-1].TokenSpan.Length
		cur := results[i].TokenSpan.Offset
		assert.Lessf(t, cur, prevEnd, "passage %d does not overlap with previous", i)
	}
}

func TestChunkOverlapIsExactlyConfiguredTokens(t *testing.T) {
	// max=12, overlap=4 so stride(8) != overlap(4), catching the case
	// where max == 2*overlap coincidentally masks a stride bug.
	cfg := config.ChunkingConfig{
		MaxTokensPerPassage:         12,
		OverlapTokens:               4,
		MaxNoteTokens:               1000,
		MinPassageTokens:            3,
		PreserveStructureBoundaries: true,
	}
	results, err := Chunk(words(30), cfg)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(results), 2)
	for i := 1; i < len(results); i++ {
		prevEnd := results[i-1].TokenSpan.Offset + results[i-1].TokenSpan.Length
		cur := results[i].TokenSpan.Offset
		assert.Equal(t, cfg.OverlapTokens, prevEnd-cur, "passage %d overlap must equal OverlapTokens exactly", i)
	}
}

func TestChunkAbsorbsUndersizedTail(t *testing.T) {
	normalized := words(16)
	results, err := Chunk(normalized, smallCfg())
	require.NoError(t, err)
	last := results[len(results)-1]
	assert.GreaterOrEqual(t, last.TokenSpan.Length, smallCfg().MinPassageTokens)
	assert.Equal(t, 16, last.TokenSpan.Offset+last.TokenSpan.Length)
}

func TestChunkContentTooLarge(t *testing.T) {
	cfg := smallCfg()
	cfg.MaxNoteTokens = 5
	_, err := Chunk(words(10), cfg)
	require.Error(t, err)
	var tooLarge *ContentTooLarge
	require.ErrorAs(t, err, &tooLarge)
	assert.True(t, tooLarge.Permanent(), "ContentTooLarge must be non-retryable")
}

func TestChunkEmptyContentReturnsNil(t *testing.T) {
	results, err := Chunk("", smallCfg())
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestChunkContentMatchesTokenSpan(t *testing.T) {
	normalized := "# Title\nalpha beta gamma delta epsilon"
	results, err := Chunk(normalized, smallCfg())
	require.NoError(t, err)
	toks := tokenize.Tokenize(normalized)
	for _, r := range results {
		want := toks.Tokens[r.TokenSpan.Offset : r.TokenSpan.Offset+r.TokenSpan.Length]
		got := tokenize.Tokenize(r.Content).Tokens
		assert.Equal(t, strings.Join(want, " "), strings.Join(got, " "))
	}
}

func TestSnippetTruncatesAtWordBoundary(t *testing.T) {
	long := words(100)
	snippet := Snippet(long)
	assert.True(t, strings.HasSuffix(snippet, "…"))
	assert.LessOrEqual(t, len([]rune(snippet)), 201)
}

func TestSnippetShortContentUnchanged(t *testing.T) {
	in := "short content"
	assert.Equal(t, in, Snippet(in))
}
