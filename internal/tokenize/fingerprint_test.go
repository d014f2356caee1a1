package tokenize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	tokens := []string{"the", "quick", "fox"}
	a, err := Fingerprint(tokens, AlgoSHA256)
	require.NoError(t, err)
	b, err := Fingerprint(tokens, AlgoSHA256)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFingerprintDiffersByAlgo(t *testing.T) {
	tokens := []string{"a", "b"}
	sha, err := Fingerprint(tokens, AlgoSHA256)
	require.NoError(t, err)
	blake, err := Fingerprint(tokens, AlgoBLAKE3)
	require.NoError(t, err)
	assert.NotEqual(t, sha, blake)
}

func TestFingerprintSensitiveToTokenOrder(t *testing.T) {
	a, err := Fingerprint([]string{"a", "b"}, AlgoSHA256)
	require.NoError(t, err)
	b, err := Fingerprint([]string{"b", "a"}, AlgoSHA256)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestFingerprintUnknownAlgoErrors(t *testing.T) {
	_, err := Fingerprint([]string{"a"}, Algo("nonsense"))
	assert.Error(t, err)
}
