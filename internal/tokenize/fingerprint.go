package tokenize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// Algo selects the digest function used for anchor fingerprints (§4.A).
type Algo string

const (
	AlgoSHA256 Algo = "sha256"
	AlgoBLAKE3 Algo = "blake3"
)

// Fingerprint computes the hex-encoded digest of a token span's
// canonical form (tokens joined by U+001F), per the chosen algorithm.
// It is the value anchors compare to detect drift after re-tokenizing
// a later version of a note.
func Fingerprint(tokens []string, algo Algo) (string, error) {
	canon := Join(tokens)
	switch algo {
	case AlgoSHA256, "":
		sum := sha256.Sum256([]byte(canon))
		return hex.EncodeToString(sum[:]), nil
	case AlgoBLAKE3:
		sum := blake3.Sum256([]byte(canon))
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("tokenize: unknown fingerprint algorithm %q", algo)
	}
}
