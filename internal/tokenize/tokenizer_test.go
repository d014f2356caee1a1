package tokenize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeSplitsOnUnderscoreAndSlash(t *testing.T) {
	toks := Tokenize("foo_bar baz/qux")
	assert.Equal(t, []string{"foo", "bar", "baz", "qux"}, toks.Tokens)
}

func TestTokenizeKeepsApostropheAndHyphenInWord(t *testing.T) {
	toks := Tokenize("don't state-of-the-art")
	assert.Equal(t, []string{"don't", "state-of-the-art"}, toks.Tokens)
}

func TestTokenizeDropsPunctuationOnlySegments(t *testing.T) {
	toks := Tokenize("hello, world!")
	assert.Equal(t, []string{"hello", "world"}, toks.Tokens)
}

func TestTokenizeOffsetsAreRuneOffsets(t *testing.T) {
	toks := Tokenize("ab cd")
	assert.Equal(t, []int{0, 3}, toks.TokenOffsets)
	assert.Equal(t, []int{2, 5}, toks.TokenEnds)
}

func TestJoinUsesUnitSeparator(t *testing.T) {
	assert.Equal(t, "a\x1fb\x1fc", Join([]string{"a", "b", "c"}))
}
