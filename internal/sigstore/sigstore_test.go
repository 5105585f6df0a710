package sigstore

import (
	"path/filepath"
	"testing"

	"github.com/lanhive/lanhive/internal/dirstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveLoadDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "sigs"))
	require.NoError(t, err)

	path := dirstate.RelPath("a/b/c.txt")
	assert.False(t, store.Has(path))

	loaded, err := store.Load(path)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	require.NoError(t, store.Save(path, []byte("sig-bytes")))
	assert.True(t, store.Has(path))

	loaded, err = store.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("sig-bytes"), loaded)

	require.NoError(t, store.Delete(path))
	assert.False(t, store.Has(path))
}

func TestStore_Move(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	src := dirstate.RelPath("foo")
	dst := dirstate.RelPath("nested/bar")
	require.NoError(t, store.Save(src, []byte("sig")))

	require.NoError(t, store.Move(src, dst))
	assert.False(t, store.Has(src))
	assert.True(t, store.Has(dst))

	loaded, err := store.Load(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("sig"), loaded)
}

func TestStore_MoveMissingSource_NoOp(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	err = store.Move("missing", "also-missing")
	assert.NoError(t, err)
}

func TestStore_DeleteMissing_NoOp(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	assert.NoError(t, store.Delete("nope"))
}
