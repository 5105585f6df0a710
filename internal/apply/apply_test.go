package apply

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lanhive/lanhive/internal/dirstate"
	"github.com/lanhive/lanhive/internal/ignoreset"
	"github.com/lanhive/lanhive/internal/rsync"
	"github.com/lanhive/lanhive/internal/sigstore"
	"github.com/lanhive/lanhive/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApplier(t *testing.T) (*Applier, string) {
	root := t.TempDir()
	sigs, err := sigstore.Open(t.TempDir())
	require.NoError(t, err)
	ignore := ignoreset.New(2 * time.Second)
	scanner := dirstate.NewScanner(root, nil)
	return New(root, sigs, ignore, scanner), root
}

func TestApply_Create_WritesFileAndMarksIgnore(t *testing.T) {
	a, root := newApplier(t)

	msg := wire.NewCreate("new.txt", 100, []byte("hello"))
	require.NoError(t, a.Apply(msg))

	data, err := os.ReadFile(filepath.Join(root, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.True(t, a.ignore.Consume("new.txt", 100))
	assert.True(t, a.sigs.Has("new.txt"))
}

func TestApply_Create_DropsWhenLocalNewer(t *testing.T) {
	a, root := newApplier(t)
	path := filepath.Join(root, "existing.txt")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))
	require.NoError(t, os.Chtimes(path, fileTime(500), fileTime(500)))

	require.NoError(t, a.Apply(wire.NewCreate("existing.txt", 100, []byte("stale"))))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data), "stale CREATE must not overwrite newer local file")
}

func TestApply_Modify_PatchesExistingFile(t *testing.T) {
	a, root := newApplier(t)
	path := filepath.Join(root, "f.txt")
	original := []byte("the quick brown fox jumps over the lazy dog, padded for a real delta computation")
	require.NoError(t, os.WriteFile(path, original, 0o644))
	require.NoError(t, os.Chtimes(path, fileTime(10), fileTime(10)))

	f, err := os.Open(path)
	require.NoError(t, err)
	sig, err := rsync.Signature(f)
	require.NoError(t, err)
	f.Close()

	modified := append(append([]byte{}, original...), []byte(" and one more clause")...)
	delta, err := rsync.Delta(sig, bytes.NewReader(modified))
	require.NoError(t, err)

	require.NoError(t, a.Apply(wire.NewModify("f.txt", 20, delta)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, modified, data)
}

func TestApply_Modify_MissingBase_ReturnsErrMissingBase(t *testing.T) {
	a, _ := newApplier(t)
	err := a.Apply(wire.NewModify("nope.txt", 1, []byte("delta")))
	assert.ErrorIs(t, err, ErrMissingBase)
}

func TestApply_Delete_RemovesFileAndSignature(t *testing.T) {
	a, root := newApplier(t)
	path := filepath.Join(root, "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, fileTime(10), fileTime(10)))
	require.NoError(t, a.sigs.Save("gone.txt", []byte("sig")))

	require.NoError(t, a.Apply(wire.NewDelete("gone.txt", 20)))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, a.sigs.Has("gone.txt"))
}

func TestApply_Delete_DropsWhenLocalNewer(t *testing.T) {
	a, root := newApplier(t)
	path := filepath.Join(root, "keep.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, fileTime(500), fileTime(500)))

	require.NoError(t, a.Apply(wire.NewDelete("keep.txt", 100)))

	_, err := os.Stat(path)
	assert.NoError(t, err, "newer local file must survive a stale delete")
}

func TestApply_Rename_MovesFileAndSignature(t *testing.T) {
	a, root := newApplier(t)
	path := filepath.Join(root, "old.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, a.sigs.Save("old.txt", []byte("sig")))

	require.NoError(t, a.Apply(wire.NewRename("old.txt", "new.txt", 400)))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "new.txt"))
	assert.NoError(t, err)
	assert.False(t, a.sigs.Has("old.txt"))
	assert.True(t, a.sigs.Has("new.txt"))
}

func TestApply_Rename_MissingSource_IsNoOp(t *testing.T) {
	a, _ := newApplier(t)
	assert.NoError(t, a.Apply(wire.NewRename("missing.txt", "dst.txt", 1)))
}

func TestApply_RejectsPathEscapingRoot(t *testing.T) {
	a, _ := newApplier(t)
	err := a.Apply(wire.NewCreate("../escape.txt", 1, []byte("x")))
	assert.ErrorIs(t, err, ErrInvalidPath)
}
