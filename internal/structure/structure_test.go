package structure

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugifyLowersAndStripsPunctuation(t *testing.T) {
	assert.Equal(t, "hello-world", Slugify("Hello, World!"))
}

func TestSlugifyTruncatesAt50(t *testing.T) {
	long := strings.Repeat("a", 60)
	assert.Len(t, Slugify(long), 50)
}

func TestPathAtDocumentWithoutHeadingsReturnsRoot(t *testing.T) {
	idx := Build("just some text with no headings")
	assert.Equal(t, "/", idx.PathAt(5))
}

func TestPathAtNestsUnderParentHeadings(t *testing.T) {
	doc := "# Top\nintro\n## Child\nbody text here\n"
	idx := Build(doc)
	childOffset := len("# Top\nintro\n")
	assert.Equal(t, "/top/child", idx.PathAt(childOffset+5))
}

func TestPathAtPopsStackOnSameLevelSibling(t *testing.T) {
	doc := "# A\n## B\ntext\n# C\nmore\n"
	idx := Build(doc)
	cOffset := len("# A\n## B\ntext\n")
	assert.Equal(t, "/c", idx.PathAt(cOffset+2))
}

func TestPathAtBeforeFirstHeadingReturnsRoot(t *testing.T) {
	doc := "preamble\n# First\nbody\n"
	idx := Build(doc)
	assert.Equal(t, "/", idx.PathAt(3))
}
