// Package structure derives heading-trail structure paths from
// Markdown documents, per spec §4.B.
package structure

import (
	"regexp"
	"strings"
)

var atxHeading = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// heading is one ATX heading occurrence: its nesting level, the byte
// offset into the document its line starts at, and its slug.
type heading struct {
	level  int
	offset int
	slug   string
}

// Index precomputes the heading stack at every heading boundary in a
// document so PathAt can answer in O(log n) per offset.
type Index struct {
	headings []heading // ascending by offset
	stacks   [][]string // stacks[i] is the path stack in effect at and after headings[i].offset
}

// Build walks doc's Markdown headings, maintaining a stack indexed by
// heading level, and returns an Index usable for repeated offset
// lookups.
func Build(doc string) *Index {
	idx := &Index{}
	stack := make([]string, 0, 6)

	offset := 0
	for _, line := range strings.SplitAfter(doc, "\n") {
		trimmed := strings.TrimRight(line, "\n")
		if m := atxHeading.FindStringSubmatch(trimmed); m != nil {
			level := len(m[1])
			slug := Slugify(m[2])

			if level > len(stack) {
				for len(stack) < level-1 {
					stack = append(stack, "")
				}
				stack = append(stack, slug)
			} else {
				stack = stack[:level-1]
				stack = append(stack, slug)
			}

			idx.headings = append(idx.headings, heading{level: level, offset: offset, slug: slug})
			idx.stacks = append(idx.stacks, append([]string(nil), stack...))
		}
		offset += len(line)
	}
	return idx
}

// Slugify lower-cases s, strips non-alphanumerics, collapses
// whitespace to '-', and truncates to 50 characters, per spec §4.B.
func Slugify(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	lastWasDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastWasDash = false
		case r == ' ', r == '\t', r == '\n':
			if !lastWasDash && b.Len() > 0 {
				b.WriteByte('-')
				lastWasDash = true
			}
		default:
			// non-alphanumeric, non-whitespace: stripped entirely.
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > 50 {
		out = out[:50]
	}
	return out
}

// PathAt returns the structure path in effect at byte offset off: the
// last heading stack snapshot whose heading begins at or before off.
// An empty document, or an offset before the first heading, yields "/".
func (idx *Index) PathAt(off int) string {
	if len(idx.headings) == 0 {
		return "/"
	}
	// binary search for the last heading with offset <= off.
	lo, hi := 0, len(idx.headings)-1
	chosen := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if idx.headings[mid].offset <= off {
			chosen = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if chosen == -1 {
		return "/"
	}
	return "/" + strings.Join(idx.stacks[chosen], "/")
}
