package httpapi

import (
	"strings"

	"github.com/kieranveyl/knowledgevault/internal/anchor"
	"github.com/kieranveyl/knowledgevault/internal/tokenize"
	"github.com/kieranveyl/knowledgevault/internal/vault"
)

// resolveAnchorCore resolves a of against the current version body,
// returning the extracted token span's text when resolution succeeds.
func resolveAnchorCore(a vault.Anchor, versionBody string) (resolved bool, content string, err error) {
	normalized := tokenize.Normalize(versionBody)
	res, err := anchor.Resolve(a, normalized, normalized, a.TokenizationVersion, tokenize.Algo(a.FingerprintAlgo))
	if err != nil {
		return false, "", err
	}
	if !res.Resolved {
		return false, "", nil
	}
	toks := tokenize.Tokenize(normalized)
	span := toks.Tokens[res.TokenSpan.Offset : res.TokenSpan.Offset+res.TokenSpan.Length]
	return true, strings.Join(span, " "), nil
}
