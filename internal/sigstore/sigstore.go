// Package sigstore persists per-file rsync signatures on disk, keyed by the
// relative path they were computed from, so a restarting node can serve
// deltas without re-signing every file it already knows about.
package sigstore

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/lanhive/lanhive/internal/dirstate"
)

// Store is a directory of opaque signature blobs, one file per synced path,
// guarded by a single mutex that covers the whole store rather than one
// lock per path.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open ensures dir exists and returns a Store rooted there.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create signature dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// pathFor returns the on-disk signature file for a relative path, using
// percent-encoding so any path separator or reserved character in path
// survives as a flat filename.
func (s *Store) pathFor(path dirstate.RelPath) string {
	return filepath.Join(s.dir, url.QueryEscape(string(path)))
}

// Save persists sig for path, overwriting any prior signature.
func (s *Store) Save(path dirstate.RelPath, sig []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.pathFor(path), sig, 0o644); err != nil {
		return fmt.Errorf("save signature for %s: %w", path, err)
	}
	return nil
}

// Load returns the persisted signature for path, or (nil, nil) if none has
// been stored yet.
func (s *Store) Load(path dirstate.RelPath) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.pathFor(path))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load signature for %s: %w", path, err)
	}
	return data, nil
}

// Delete removes the persisted signature for path, if any.
func (s *Store) Delete(path dirstate.RelPath) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.pathFor(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete signature for %s: %w", path, err)
	}
	return nil
}

// Move relocates the signature for src to dst, used when a file is renamed.
func (s *Store) Move(src, dst dirstate.RelPath) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srcPath, dstPath := s.pathFor(src), s.pathFor(dst)
	if _, err := os.Stat(srcPath); os.IsNotExist(err) {
		return nil
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		return fmt.Errorf("move signature %s -> %s: %w", src, dst, err)
	}
	return nil
}

// Has reports whether a signature is currently stored for path.
func (s *Store) Has(path dirstate.RelPath) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := os.Stat(s.pathFor(path))
	return err == nil
}
