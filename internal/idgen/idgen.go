// Package idgen produces opaque, lexicographically-sortable ids for
// workspace entities, e.g. "note_01HZY3K2FQXJ9P8M7N6R5T4V3W", "ver_...".
package idgen

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind identifies the entity family an id belongs to.
type Kind string

const (
	Note        Kind = "note"
	Draft       Kind = "draft"
	Version     Kind = "ver"
	Collection  Kind = "col"
	Publication Kind = "pub"
	Passage     Kind = "pas"
	Corpus      Kind = "cor"
	Index       Kind = "idx"
	Citation    Kind = "cit"
	Answer      Kind = "ans"
	Query       Kind = "qry"
	Event       Kind = "evt"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new id of the given kind, formatted "<kind>_<ulid>".
func New(kind Kind) string {
	mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	mu.Unlock()
	return fmt.Sprintf("%s_%s", kind, id.String())
}

// HasKind reports whether id carries the given kind prefix.
func HasKind(id string, kind Kind) bool {
	return strings.HasPrefix(id, string(kind)+"_")
}
