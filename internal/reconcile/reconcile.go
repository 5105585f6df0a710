// Package reconcile implements the one-shot comparison a session runs once
// per connection: given its own DirState and the peer's, decide what this
// node must push so the two directories converge.
package reconcile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/lanhive/lanhive/internal/dirstate"
	"github.com/lanhive/lanhive/internal/rsync"
	"github.com/lanhive/lanhive/internal/sigstore"
	"github.com/lanhive/lanhive/internal/wire"
)

// RemoteFile is one entry of a peer's DIR_STATE: a FileStat plus the
// signature the peer has stored for it, used to compute a delta.
type RemoteFile struct {
	Stat dirstate.FileStat
	Sig  []byte
}

// Plan pushes a Reconciler decided this node must send, already ordered per
// the reconciliation send order: missing-on-peer first, then newer-locally,
// then deletions. Reconciliation itself never produces deletions (§4.5) —
// the field exists so callers can extend Plan with deletions carried over
// from elsewhere without changing the type.
type Plan struct {
	Messages []*wire.Message
}

// Run compares local against remote and returns the messages this node
// must send for the two sides to converge, per the reconciler decision
// table: missing-on-peer files are pushed in full, and files whose local
// mtime is strictly greater than the peer's are pushed as a delta. Every
// other case — missing locally, remote newer, or equal mtime — takes no
// action; the peer is symmetrically responsible for those.
func Run(root string, local dirstate.DirState, remote map[dirstate.RelPath]RemoteFile, sigs *sigstore.Store) (*Plan, error) {
	type pending struct {
		path dirstate.RelPath
		msg  *wire.Message
	}

	var creates, modifies []pending

	for path, localStat := range local {
		remoteFile, known := remote[path]
		switch {
		case !known:
			msg, err := buildCreate(root, path, localStat)
			if err != nil {
				return nil, err
			}
			creates = append(creates, pending{path: path, msg: msg})

		case localStat.Mtime > remoteFile.Stat.Mtime:
			msg, err := buildModify(root, path, localStat, remoteFile.Sig)
			if err != nil {
				return nil, err
			}
			modifies = append(modifies, pending{path: path, msg: msg})
		}
	}

	sort.Slice(creates, func(i, j int) bool { return creates[i].path < creates[j].path })
	sort.Slice(modifies, func(i, j int) bool { return modifies[i].path < modifies[j].path })

	plan := &Plan{}
	for _, p := range creates {
		plan.Messages = append(plan.Messages, p.msg)
	}
	for _, p := range modifies {
		plan.Messages = append(plan.Messages, p.msg)
	}
	return plan, nil
}

func buildCreate(root string, path dirstate.RelPath, stat dirstate.FileStat) (*wire.Message, error) {
	data, err := os.ReadFile(filepath.Join(root, string(path)))
	if err != nil {
		return nil, fmt.Errorf("read %s for CREATE: %w", path, err)
	}
	return wire.NewCreate(string(path), stat.Mtime, data), nil
}

func buildModify(root string, path dirstate.RelPath, stat dirstate.FileStat, remoteSig []byte) (*wire.Message, error) {
	f, err := os.Open(filepath.Join(root, string(path)))
	if err != nil {
		return nil, fmt.Errorf("open %s for MODIFY: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	delta, err := rsync.Delta(remoteSig, r)
	if err != nil {
		return nil, fmt.Errorf("compute delta for %s: %w", path, err)
	}
	return wire.NewModify(string(path), stat.Mtime, delta), nil
}

// LocalDirState converts a DirState into the DIR_STATE payload this node
// sends at the start of every session, reading each file's stored
// signature (computing and persisting one on the spot if missing).
func LocalDirState(root string, state dirstate.DirState, sigs *sigstore.Store) (*wire.Message, error) {
	files := make([]wire.FileStat, 0, len(state))
	for path, stat := range state {
		sig, err := sigs.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load signature for %s: %w", path, err)
		}
		if sig == nil {
			sig, err = computeAndStoreSignature(root, path, sigs)
			if err != nil {
				return nil, err
			}
		}
		files = append(files, wire.FileStat{
			Path:  string(path),
			Mtime: stat.Mtime,
			Size:  stat.Size,
			Sig:   sig,
		})
	}
	return wire.NewDirState(files), nil
}

func computeAndStoreSignature(root string, path dirstate.RelPath, sigs *sigstore.Store) ([]byte, error) {
	f, err := os.Open(filepath.Join(root, string(path)))
	if err != nil {
		return nil, fmt.Errorf("open %s to sign: %w", path, err)
	}
	defer f.Close()

	sig, err := rsync.Signature(f)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", path, err)
	}
	if err := sigs.Save(path, sig); err != nil {
		return nil, err
	}
	return sig, nil
}
