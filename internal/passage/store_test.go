package passage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieranveyl/knowledgevault/internal/vault"
)

func TestPutAndGet(t *testing.T) {
	s := New()
	s.Put(vault.Passage{ID: "p1", VersionID: "v1"})
	p, ok := s.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "p1", p.ID)
}

func TestByVersionPreservesInsertionOrder(t *testing.T) {
	s := New()
	s.PutAll([]vault.Passage{
		{ID: "p1", VersionID: "v1"},
		{ID: "p2", VersionID: "v1"},
		{ID: "p3", VersionID: "v2"},
	})
	got := s.ByVersion("v1")
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, "p2", got[1].ID)
}

func TestDeleteByVersionRemovesAllItsPassages(t *testing.T) {
	s := New()
	s.PutAll([]vault.Passage{
		{ID: "p1", VersionID: "v1"},
		{ID: "p2", VersionID: "v2"},
	})
	s.DeleteByVersion("v1")
	_, ok := s.Get("p1")
	assert.False(t, ok)
	_, ok = s.Get("p2")
	assert.True(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestPutReplacesExistingWithoutDuplicatingVersionIndex(t *testing.T) {
	s := New()
	s.Put(vault.Passage{ID: "p1", VersionID: "v1", Content: "old"})
	s.Put(vault.Passage{ID: "p1", VersionID: "v1", Content: "new"})
	got := s.ByVersion("v1")
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Content)
}

func TestAllReturnsEveryPassage(t *testing.T) {
	s := New()
	s.PutAll([]vault.Passage{
		{ID: "p1", VersionID: "v1"},
		{ID: "p2", VersionID: "v2"},
	})
	assert.Len(t, s.All(), 2)
}
