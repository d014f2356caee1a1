// Package tokenize implements the deterministic normalizer, UAX-29
// tokenizer, and fingerprint hashing of spec §4.A.
package tokenize

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// codeSpan marks a byte range of normalized text that must be preserved
// byte-for-byte (fenced or inline code).
type codeSpan struct {
	start, end int // half-open, over the post-NFC/LF string
}

// Normalize applies Unicode NFC, converts all line endings to LF, and
// collapses runs of spaces and tabs to a single space (line breaks are
// kept, so heading structure survives) everywhere except
// inside fenced (``` ... ```) or inline (`...`) code spans, whose
// content is preserved byte-for-byte.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	spans := findCodeSpans(s)
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	spanIdx := 0
	lastWasSpace := false
	for i < len(s) {
		if spanIdx < len(spans) && i == spans[spanIdx].start {
			b.WriteString(s[spans[spanIdx].start:spans[spanIdx].end])
			i = spans[spanIdx].end
			spanIdx++
			lastWasSpace = false
			continue
		}
		// advance to the next span boundary (or end of string) collapsing
		// whitespace as we go, one rune at a time.
		end := len(s)
		if spanIdx < len(spans) {
			end = spans[spanIdx].start
		}
		for i < end {
			r, width := utf8.DecodeRuneInString(s[i:end])
			if r == ' ' || r == '\t' {
				if !lastWasSpace {
					b.WriteByte(' ')
					lastWasSpace = true
				}
			} else if r == '\n' {
				b.WriteByte('\n')
				lastWasSpace = false
			} else {
				b.WriteString(s[i : i+width])
				lastWasSpace = false
			}
			i += width
		}
	}
	return b.String()
}

// findCodeSpans locates fenced (```) and inline (`) code spans in s and
// returns their byte ranges, outermost-first, non-overlapping, in
// ascending order.
func findCodeSpans(s string) []codeSpan {
	var spans []codeSpan
	n := len(s)
	i := 0
	for i < n {
		if strings.HasPrefix(s[i:], "```") {
			end := strings.Index(s[i+3:], "```")
			if end == -1 {
				spans = append(spans, codeSpan{i, n})
				break
			}
			closeAt := i + 3 + end + 3
			spans = append(spans, codeSpan{i, closeAt})
			i = closeAt
			continue
		}
		if s[i] == '`' {
			j := strings.IndexByte(s[i+1:], '`')
			if j == -1 {
				i++
				continue
			}
			closeAt := i + 1 + j + 1
			spans = append(spans, codeSpan{i, closeAt})
			i = closeAt
			continue
		}
		i++
	}
	return spans
}
