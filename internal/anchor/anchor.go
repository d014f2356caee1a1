// Package anchor implements anchor creation, resolution, and drift
// detection of spec §4.D: binding a citation to a token span of a
// Version in a way that survives later edits.
package anchor

import (
	"fmt"
	"strings"

	"github.com/kieranveyl/knowledgevault/internal/structure"
	"github.com/kieranveyl/knowledgevault/internal/tokenize"
	"github.com/kieranveyl/knowledgevault/internal/vault"
)

// InvalidTokenSpan reports a token_offset/token_length pair that does
// not fit within the content it was computed against.
type InvalidTokenSpan struct {
	Offset, Length, Total int
}

func (e *InvalidTokenSpan) Error() string {
	return fmt.Sprintf("anchor: invalid token span [%d,%d) over %d tokens", e.Offset, e.Offset+e.Length, e.Total)
}

// AnchorResolutionFailed reports that resolution could not even be
// attempted (as opposed to an ordinary unresolved outcome).
type AnchorResolutionFailed struct {
	Reason string
}

func (e *AnchorResolutionFailed) Error() string {
	return "anchor: resolution failed: " + e.Reason
}

// Create computes the fingerprint of the token span
// [tokenOffset, tokenOffset+tokenLength) within normalized and returns
// the resulting Anchor.
func Create(normalized, structurePath string, tokenOffset, tokenLength int, algo tokenize.Algo, tokenizationVersion string) (vault.Anchor, error) {
	toks := tokenize.Tokenize(normalized)
	if tokenOffset < 0 || tokenLength < 1 || tokenOffset+tokenLength > len(toks.Tokens) {
		return vault.Anchor{}, &InvalidTokenSpan{Offset: tokenOffset, Length: tokenLength, Total: len(toks.Tokens)}
	}
	span := toks.Tokens[tokenOffset : tokenOffset+tokenLength]
	fp, err := tokenize.Fingerprint(span, algo)
	if err != nil {
		return vault.Anchor{}, err
	}
	return vault.Anchor{
		StructurePath:       structurePath,
		TokenOffset:         tokenOffset,
		TokenLength:         tokenLength,
		Fingerprint:         fp,
		TokenizationVersion: tokenizationVersion,
		FingerprintAlgo:     string(algo),
	}, nil
}

// Result is the outcome of Resolve.
type Result struct {
	Resolved      bool
	Reanchored    bool
	TokenSpan     vault.TokenSpan
	StructurePath string
	NearestOffset int // diagnostic, set only when unresolved
}

// Resolve re-resolves anchor against candidate content. original must
// be the normalized content the anchor was created against (used to
// recover the original span's token text when a direct offset lookup
// fails); candidate is the normalized content to resolve against now.
// currentTokenizationVersion is the tokenizer version presently in use.
func Resolve(a vault.Anchor, original, candidate string, currentTokenizationVersion string, algo tokenize.Algo) (Result, error) {
	candToks := tokenize.Tokenize(candidate)

	if a.TokenizationVersion == currentTokenizationVersion {
		if a.TokenOffset >= 0 && a.TokenOffset+a.TokenLength <= len(candToks.Tokens) {
			span := candToks.Tokens[a.TokenOffset : a.TokenOffset+a.TokenLength]
			fp, err := tokenize.Fingerprint(span, algo)
			if err != nil {
				return Result{}, err
			}
			if fp == a.Fingerprint {
				return Result{
					Resolved:      true,
					TokenSpan:     vault.TokenSpan{Offset: a.TokenOffset, Length: a.TokenLength},
					StructurePath: a.StructurePath,
				}, nil
			}
		}
	}

	origToks := tokenize.Tokenize(original)
	if a.TokenOffset < 0 || a.TokenOffset+a.TokenLength > len(origToks.Tokens) {
		return Result{}, &AnchorResolutionFailed{Reason: "stored token span out of bounds against original content"}
	}
	originalSpan := origToks.Tokens[a.TokenOffset : a.TokenOffset+a.TokenLength]
	originalCanon := tokenize.Join(originalSpan)

	structIdx := structure.Build(candidate)
	var matches []int
	n := len(candToks.Tokens)
	length := a.TokenLength
	for start := 0; start+length <= n; start++ {
		byteOff := byteOffsetOf(candidate, candToks.TokenOffsets[start])
		path := structIdx.PathAt(byteOff)
		if !strings.HasPrefix(path, a.StructurePath) {
			continue
		}
		window := candToks.Tokens[start : start+length]
		if tokenize.Join(window) == originalCanon {
			matches = append(matches, start)
		}
	}

	if len(matches) == 1 {
		start := matches[0]
		byteOff := byteOffsetOf(candidate, candToks.TokenOffsets[start])
		return Result{
			Resolved:      true,
			Reanchored:    true,
			TokenSpan:     vault.TokenSpan{Offset: start, Length: length},
			StructurePath: structIdx.PathAt(byteOff),
		}, nil
	}

	return Result{
		Resolved:      false,
		NearestOffset: nearestOffset(originalSpan, candToks.Tokens),
	}, nil
}

// byteOffsetOf converts a rune offset into s to a byte offset.
func byteOffsetOf(s string, runeOffset int) int {
	count := 0
	for i := range s {
		if count == runeOffset {
			return i
		}
		count++
	}
	return len(s)
}

// nearestOffset finds the token offset in candidate whose window
// (of len(target) tokens) has the smallest Levenshtein distance to
// target, as a diagnostic when resolution fails.
func nearestOffset(target, candidate []string) int {
	if len(candidate) == 0 {
		return 0
	}
	length := len(target)
	if length == 0 {
		return 0
	}
	best := 0
	bestDist := -1
	for start := 0; start <= len(candidate)-length || start == 0; start++ {
		end := start + length
		if end > len(candidate) {
			end = len(candidate)
		}
		d := levenshtein(target, candidate[start:end])
		if bestDist == -1 || d < bestDist {
			bestDist = d
			best = start
		}
		if end == len(candidate) {
			break
		}
	}
	return best
}

// levenshtein computes the edit distance between two token sequences.
func levenshtein(a, b []string) int {
	la, lb := len(a), len(b)
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev, cur = cur, prev
	}
	return prev[lb]
}

// Drift reports what changed about an anchor's footing without fully
// resolving it: content, structure, and fingerprint deltas.
type Drift struct {
	ContentChanged      bool
	StructureChanged    bool
	FingerprintMismatch bool
	SuggestedReanchor   *vault.TokenSpan
}

// DetectDrift compares anchor a against candidate content and reports
// a Drift summary, reusing Resolve's search to populate
// SuggestedReanchor when a unique re-anchor candidate exists.
func DetectDrift(a vault.Anchor, original, candidate string, currentTokenizationVersion string, algo tokenize.Algo) (Drift, error) {
	res, err := Resolve(a, original, candidate, currentTokenizationVersion, algo)
	if err != nil {
		return Drift{}, err
	}
	d := Drift{
		ContentChanged:      original != candidate,
		FingerprintMismatch: !res.Resolved || res.Reanchored,
	}
	if res.Reanchored {
		d.StructureChanged = res.StructurePath != a.StructurePath
		span := res.TokenSpan
		d.SuggestedReanchor = &span
	}
	return d, nil
}
