package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPrefixesKind(t *testing.T) {
	id := New(Note)
	assert.True(t, HasKind(id, Note))
}

func TestNewIsUnique(t *testing.T) {
	a := New(Version)
	b := New(Version)
	assert.NotEqual(t, a, b)
}

func TestNewIsMonotonicallySortable(t *testing.T) {
	a := New(Version)
	b := New(Version)
	assert.Less(t, a, b)
}

func TestHasKindRejectsOtherKinds(t *testing.T) {
	id := New(Note)
	assert.False(t, HasKind(id, Version))
}
