package dirstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanner_EmptyDir(t *testing.T) {
	root := t.TempDir()
	scanner := NewScanner(root, nil)

	state, err := scanner.Scan()
	require.NoError(t, err)
	assert.Empty(t, state)
}

func TestScanner_FindsFilesAndRecordsMetadata(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("world!"), 0o644))

	scanner := NewScanner(root, nil)
	state, err := scanner.Scan()
	require.NoError(t, err)
	require.Len(t, state, 2)

	a, ok := state[RelPath("a.txt")]
	require.True(t, ok)
	assert.True(t, a.Exists)
	assert.EqualValues(t, 5, a.Size)

	b, ok := state[RelPath("sub/b.txt")]
	require.True(t, ok)
	assert.EqualValues(t, 6, b.Size)
}

func TestScanner_HonorsExcludeSet(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".lanhive-tmp-skip"), []byte("x"), 0o644))

	exclude := NewExcludeSet(root)
	exclude.Load()

	scanner := NewScanner(root, exclude)
	state, err := scanner.Scan()
	require.NoError(t, err)

	_, keptFound := state[RelPath("keep.txt")]
	_, skippedFound := state[RelPath(".lanhive-tmp-skip")]
	assert.True(t, keptFound)
	assert.False(t, skippedFound)
}

func TestScanner_ScanError_MissingRoot(t *testing.T) {
	scanner := NewScanner(filepath.Join(t.TempDir(), "does-not-exist"), nil)
	state, err := scanner.Scan()
	assert.Error(t, err)
	assert.Nil(t, state)
}

