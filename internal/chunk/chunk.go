// Package chunk implements the token-bounded overlapping passage
// chunker of spec §4.C.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/kieranveyl/knowledgevault/internal/config"
	"github.com/kieranveyl/knowledgevault/internal/structure"
	"github.com/kieranveyl/knowledgevault/internal/tokenize"
	"github.com/kieranveyl/knowledgevault/internal/vault"
)

// ContentTooLarge reports that a note's normalized body exceeds
// config.ChunkingConfig.MaxNoteTokens.
type ContentTooLarge struct {
	TotalTokens int
	Max         int
}

func (e *ContentTooLarge) Error() string {
	return "chunk: content too large"
}

// Permanent reports that retrying cannot fix this error: a note over
// MaxNoteTokens will not shrink on its own, so the visibility
// scheduler must fail it immediately rather than retry with backoff.
func (e *ContentTooLarge) Permanent() bool { return true }

// Result is one chunker output, shaped for internal/passage and
// internal/anchor to turn into vault.Passage + vault.Anchor pairs.
type Result struct {
	StructurePath string
	TokenSpan     vault.TokenSpan
	Content       string
	ContentHash   string
	Snippet       string
}

// Chunk splits normalized into a deterministic sequence of overlapping
// passages per cfg. normalized must already have passed
// tokenize.Normalize.
func Chunk(normalized string, cfg config.ChunkingConfig) ([]Result, error) {
	toks := tokenize.Tokenize(normalized)
	total := len(toks.Tokens)
	if total > cfg.MaxNoteTokens {
		return nil, &ContentTooLarge{TotalTokens: total, Max: cfg.MaxNoteTokens}
	}
	if total == 0 {
		return nil, nil
	}

	runes := []rune(normalized)
	var structIdx *structure.Index
	if cfg.PreserveStructureBoundaries {
		structIdx = structure.Build(normalized)
	}

	stride := cfg.MaxTokensPerPassage - cfg.OverlapTokens
	if stride <= 0 {
		stride = cfg.MaxTokensPerPassage
	}

	type span struct{ start, length int }
	var spans []span
	start := 0
	for start < total {
		length := cfg.MaxTokensPerPassage
		if start+length > total {
			length = total - start
		}
		spans = append(spans, span{start, length})
		if start+cfg.MaxTokensPerPassage >= total {
			break
		}
		start += stride
	}

	// Absorb an undersized tail into the previous passage rather than
	// silently dropping it.
	if len(spans) > 1 {
		last := spans[len(spans)-1]
		if last.length < cfg.MinPassageTokens {
			prev := spans[len(spans)-2]
			spans = spans[:len(spans)-1]
			spans[len(spans)-1] = span{prev.start, total - prev.start}
		}
	}

	out := make([]Result, 0, len(spans))
	for _, sp := range spans {
		endTokenIdx := sp.start + sp.length - 1
		runeStart := toks.TokenOffsets[sp.start]
		runeEnd := toks.TokenEnds[endTokenIdx]
		content := string(runes[runeStart:runeEnd])

		structPath := "/"
		if structIdx != nil {
			// structure.Index is keyed by byte offset, not rune offset.
			byteStart := len(string(runes[:runeStart]))
			structPath = structIdx.PathAt(byteStart)
		}

		sum := sha256.Sum256([]byte(content))
		out = append(out, Result{
			StructurePath: structPath,
			TokenSpan:     vault.TokenSpan{Offset: sp.start, Length: sp.length},
			Content:       content,
			ContentHash:   hex.EncodeToString(sum[:]),
			Snippet:       Snippet(content),
		})
	}
	return out, nil
}

// Snippet truncates content at a word boundary to at most 200
// characters, appending an ellipsis if truncation occurred.
func Snippet(content string) string {
	const maxLen = 200
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	truncated := string(runes[:maxLen])
	if idx := strings.LastIndexAny(truncated, " \t\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + "…"
}
