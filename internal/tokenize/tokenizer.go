package tokenize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// Tokens is the output of Tokenize: the token text and, for each token,
// the character offset into the normalized text it starts at.
type Tokens struct {
	Tokens       []string
	TokenOffsets []int // rune offsets of each token's start, parallel to Tokens
	TokenEnds    []int // rune offsets of each token's end (exclusive), parallel to Tokens
}

// Tokenize segments already-normalized text into tokens using UAX-29
// word boundaries, with these overrides: '_' and '/' are treated as
// separators (never merged into a word), internal ' and - stay inside
// a word, and numbers with decimals/commas form a single token.
//
// Code spans are tokenized the same way as prose; only whitespace
// collapsing exempts them, not tokenization.
func Tokenize(normalized string) Tokens {
	var out Tokens
	state := -1
	remaining := normalized
	runeOffset := 0
	hyphenAt := -1 // offset of a '-' directly after the last token

	for len(remaining) > 0 {
		word, rest, newState := uniseg.FirstWordInString(remaining, state)
		state = newState
		wordRuneLen := utf8.RuneCountInString(word)

		if word == "-" && len(out.Tokens) > 0 && out.TokenEnds[len(out.Tokens)-1] == runeOffset {
			hyphenAt = runeOffset
			runeOffset += wordRuneLen
			remaining = rest
			continue
		}

		pieces := splitOverrides(word)
		localOffset := runeOffset
		for _, p := range pieces {
			pieceLen := utf8.RuneCountInString(p.text)
			if p.text != "" && isWordish(p.text) {
				if hyphenAt >= 0 && localOffset == hyphenAt+1 {
					last := len(out.Tokens) - 1
					out.Tokens[last] += "-" + p.text
					out.TokenEnds[last] = localOffset + pieceLen
				} else {
					out.Tokens = append(out.Tokens, p.text)
					out.TokenOffsets = append(out.TokenOffsets, localOffset)
					out.TokenEnds = append(out.TokenEnds, localOffset+pieceLen)
				}
			}
			hyphenAt = -1
			localOffset += pieceLen
		}
		runeOffset += wordRuneLen
		remaining = rest
	}
	return out
}

type piece struct{ text string }

// splitOverrides further splits a UAX-29 word segment on '_' and '/'
// (which uniseg keeps attached to adjacent letters/digits in some
// cases) while keeping internal ' and - attached, per spec §4.A.
func splitOverrides(word string) []piece {
	if !strings.ContainsAny(word, "_/") {
		return []piece{{word}}
	}
	var out []piece
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out = append(out, piece{b.String()})
			b.Reset()
		}
	}
	for _, r := range word {
		if r == '_' || r == '/' {
			flush()
			out = append(out, piece{string(r)})
			continue
		}
		b.WriteRune(r)
	}
	flush()
	return out
}

// isWordish reports whether a segment counts as a token: it must
// contain at least one letter, digit, or apostrophe/hyphen-joined
// alnum run. Pure whitespace or punctuation-only segments, including
// the lone '_' and '/' separator pieces produced above, are excluded.
func isWordish(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// Join canonicalizes a token span by joining the tokens with the
// Unicode unit separator (U+001F), per spec §4.A's fingerprint
// canonical form.
func Join(tokens []string) string {
	return strings.Join(tokens, "\x1f")
}
