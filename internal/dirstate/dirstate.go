package dirstate

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
)

// Scanner produces DirState snapshots of a monitored root. A snapshot is a
// single synchronous walk taken under Scanner's lock so that no filesystem
// event can be interleaved with it (spec §3, DirState invariant).
type Scanner struct {
	root    string
	exclude *ExcludeSet

	mu sync.Mutex
}

// NewScanner creates a Scanner rooted at dir. exclude may be nil, in which
// case no paths are filtered out of the snapshot.
func NewScanner(dir string, exclude *ExcludeSet) *Scanner {
	return &Scanner{root: dir, exclude: exclude}
}

// Root returns the monitored directory this scanner walks.
func (s *Scanner) Root() string {
	return s.root
}

// Scan walks the monitored root and returns the DirState for every regular
// file found. It holds Scanner's lock for the duration of the walk so that
// Lock/Unlock (used by callers who need to serialize a walk against an
// apply) observe a consistent view.
func (s *Scanner) Scan() (DirState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanLocked()
}

// Lock and Unlock expose the scan lock to callers (the apply path) that must
// ensure their filesystem mutation is not interleaved with a concurrent walk.
func (s *Scanner) Lock()   { s.mu.Lock() }
func (s *Scanner) Unlock() { s.mu.Unlock() }

func (s *Scanner) scanLocked() (DirState, error) {
	state := make(DirState)

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk error: %w", walkErr)
		}
		if d.IsDir() {
			return nil
		}

		relPath, ok := NewRelPath(s.root, path)
		if !ok {
			slog.Warn("skipping unrepresentable path", "path", path)
			return nil
		}

		if s.exclude != nil && s.exclude.ShouldIgnore(string(relPath)) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("failed to stat file during scan", "path", path, "error", err)
			return nil
		}

		state[relPath] = FileStat{
			Path:   relPath,
			Mtime:  float64(info.ModTime().UnixNano()) / 1e9,
			Exists: true,
			Size:   uint64(info.Size()),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dirstate scan: %w", err)
	}

	return state, nil
}
