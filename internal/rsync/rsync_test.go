package rsync

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureDeltaPatch_RoundTrip(t *testing.T) {
	original := strings.Repeat("the quick brown fox jumps over the lazy dog\n", 200)

	sig, err := Signature(strings.NewReader(original))
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	modified := original + "one more line at the end\n"

	delta, err := Delta(sig, strings.NewReader(modified))
	require.NoError(t, err)
	require.NotEmpty(t, delta)
	assert.Less(t, len(delta), len(modified), "delta should be smaller than the full modified content")

	patched, err := Patch(bytes.NewReader([]byte(original)), delta)
	require.NoError(t, err)
	assert.Equal(t, modified, string(patched))
}

func TestSignatureDeltaPatch_SingleByteFlipInLargeFile(t *testing.T) {
	base := bytes.Repeat([]byte("A"), 10*1024*1024)
	sig, err := Signature(bytes.NewReader(base))
	require.NoError(t, err)

	modified := append([]byte(nil), base...)
	modified[5*1024*1024] = 'B'

	delta, err := Delta(sig, bytes.NewReader(modified))
	require.NoError(t, err)
	assert.Less(t, len(delta), 1024*1024, "single-byte change should produce a small delta")

	patched, err := Patch(bytes.NewReader(base), delta)
	require.NoError(t, err)
	assert.Equal(t, modified, patched)
}
