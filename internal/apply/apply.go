// Package apply implements the receiving side of the wire protocol: given
// a decoded Message, mutate the monitored directory and the signature
// store to match, observing the drop rules that keep mtime monotone.
package apply

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lanhive/lanhive/internal/dirstate"
	"github.com/lanhive/lanhive/internal/ignoreset"
	"github.com/lanhive/lanhive/internal/rsync"
	"github.com/lanhive/lanhive/internal/sigstore"
	"github.com/lanhive/lanhive/internal/wire"
)

// ErrMissingBase reports a MODIFY whose delta has no local base file to
// patch against. The caller drops the message and relies on the next
// reconciliation to recover.
var ErrMissingBase = fmt.Errorf("apply: missing base file for delta")

// ErrInvalidPath reports a path that is absolute or escapes the monitored
// root; the message is dropped without touching the filesystem.
var ErrInvalidPath = fmt.Errorf("apply: invalid path")

// Applier mutates root's filesystem tree and sigs to reflect messages
// received from peers, marking every write in ignore before it happens so
// the watcher's own report of it is suppressed.
type Applier struct {
	root    string
	sigs    *sigstore.Store
	ignore  *ignoreset.Set
	scanner *dirstate.Scanner
}

// New creates an Applier rooted at dir. scanner is held under its own lock
// for the duration of every Apply call, so a concurrent directory walk
// (run by a session building its DIR_STATE) never observes a half-written
// file (spec §3's snapshot invariant).
func New(dir string, sigs *sigstore.Store, ignore *ignoreset.Set, scanner *dirstate.Scanner) *Applier {
	return &Applier{root: dir, sigs: sigs, ignore: ignore, scanner: scanner}
}

// Apply dispatches msg to the matching handler. A message dropped as stale
// returns nil. A returned error such as ErrMissingBase is not necessarily
// fatal to the session; callers should log and continue.
func (a *Applier) Apply(msg *wire.Message) error {
	a.scanner.Lock()
	defer a.scanner.Unlock()

	switch msg.Type {
	case wire.TypeCreate:
		data := msg.Data.(wire.Create)
		return a.applyCreate(data)
	case wire.TypeModify:
		data := msg.Data.(wire.Modify)
		return a.applyModify(data)
	case wire.TypeDelete:
		data := msg.Data.(wire.Delete)
		return a.applyDelete(data)
	case wire.TypeRename:
		data := msg.Data.(wire.Rename)
		return a.applyRename(data)
	default:
		return fmt.Errorf("apply: unexpected message type %s", msg.Type)
	}
}

func (a *Applier) resolve(raw string) (dirstate.RelPath, string, error) {
	rel, ok := dirstate.ParseRelPath(raw)
	if !ok {
		return "", "", ErrInvalidPath
	}
	return rel, filepath.Join(a.root, string(rel)), nil
}

func (a *Applier) applyCreate(msg wire.Create) error {
	rel, abs, err := a.resolve(msg.Path)
	if err != nil {
		return err
	}

	if info, err := os.Stat(abs); err == nil {
		if localMtime(info) >= msg.Mtime {
			return nil // remote is stale
		}
	}

	a.ignore.Mark(rel, msg.Mtime)
	if err := writeAtomic(abs, msg.Bytes, msg.Mtime); err != nil {
		return err
	}
	return a.resign(rel, abs)
}

func (a *Applier) applyModify(msg wire.Modify) error {
	rel, abs, err := a.resolve(msg.Path)
	if err != nil {
		return err
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return ErrMissingBase
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", msg.Path, err)
	}
	if localMtime(info) >= msg.Mtime {
		return nil
	}

	base, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("open base %s: %w", msg.Path, err)
	}
	defer base.Close()

	patched, err := rsync.Patch(base, msg.Delta)
	if err != nil {
		return fmt.Errorf("patch %s: %w", msg.Path, err)
	}

	a.ignore.Mark(rel, msg.Mtime)
	if err := writeAtomic(abs, patched, msg.Mtime); err != nil {
		return err
	}
	return a.resign(rel, abs)
}

func (a *Applier) applyDelete(msg wire.Delete) error {
	rel, abs, err := a.resolve(msg.Path)
	if err != nil {
		return err
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", msg.Path, err)
	}
	if localMtime(info) > msg.Mtime {
		return nil
	}

	a.ignore.Mark(rel, msg.Mtime)
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", msg.Path, err)
	}
	return a.sigs.Delete(rel)
}

func (a *Applier) applyRename(msg wire.Rename) error {
	srcRel, srcAbs, err := a.resolve(msg.Src)
	if err != nil {
		return err
	}
	dstRel, dstAbs, err := a.resolve(msg.Dst)
	if err != nil {
		return err
	}

	if _, err := os.Stat(srcAbs); os.IsNotExist(err) {
		return nil
	}

	if info, err := os.Stat(dstAbs); err == nil {
		if localMtime(info) >= msg.Mtime {
			return nil
		}
	}

	a.ignore.Mark(dstRel, msg.Mtime)
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return fmt.Errorf("make dest dir for rename %s: %w", msg.Dst, err)
	}
	if err := os.Rename(srcAbs, dstAbs); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", msg.Src, msg.Dst, err)
	}
	if err := os.Chtimes(dstAbs, fileTime(msg.Mtime), fileTime(msg.Mtime)); err != nil {
		return fmt.Errorf("set mtime on %s: %w", msg.Dst, err)
	}
	return a.sigs.Move(srcRel, dstRel)
}

func (a *Applier) resign(rel dirstate.RelPath, abs string) error {
	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("reopen %s to sign: %w", abs, err)
	}
	defer f.Close()

	sig, err := rsync.Signature(f)
	if err != nil {
		return fmt.Errorf("sign %s: %w", abs, err)
	}
	return a.sigs.Save(rel, sig)
}

func writeAtomic(abs string, content []byte, mtime float64) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("make parent dir for %s: %w", abs, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".lanhive-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", abs, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file for %s: %w", abs, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file for %s: %w", abs, err)
	}

	if err := os.Rename(tmpPath, abs); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file into place for %s: %w", abs, err)
	}

	t := fileTime(mtime)
	if err := os.Chtimes(abs, t, t); err != nil {
		return fmt.Errorf("set mtime on %s: %w", abs, err)
	}
	return nil
}
