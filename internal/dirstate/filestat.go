// Package dirstate implements the data model of spec §3: RelPath, FileStat,
// and DirState, plus the synchronous walk that produces a DirState snapshot.
package dirstate

import (
	"path/filepath"
	"strings"
)

// RelPath is a filesystem path relative to the monitored root, always
// normalized with forward-slash separators and never containing "..".
// It is the canonical identifier for a file across peers.
type RelPath string

// NewRelPath normalizes an OS path relative to root into a RelPath.
// Returns false if the resulting path escapes the root (contains "..").
func NewRelPath(root, absPath string) (RelPath, bool) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", false
	}
	return normalize(rel)
}

// ParseRelPath validates and normalizes a path received on the wire.
// It rejects absolute paths and paths that escape the root.
func ParseRelPath(raw string) (RelPath, bool) {
	if raw == "" || filepath.IsAbs(raw) || strings.HasPrefix(raw, "/") {
		return "", false
	}
	return normalize(raw)
}

func normalize(p string) (RelPath, bool) {
	p = filepath.ToSlash(filepath.Clean(p))
	if p == "." || p == "" {
		return "", false
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", false
		}
	}
	return RelPath(strings.TrimPrefix(p, "/")), true
}

// String implements fmt.Stringer.
func (p RelPath) String() string {
	return string(p)
}

// FileStat is the per-file record spec §3 defines: path, mtime, existence,
// and size. mtime is the sole ordering key the Reconciler acts on; an exact
// tie takes no action on either side (§4.5), so no content hash is carried
// here.
type FileStat struct {
	Path   RelPath
	Mtime  float64 // seconds, wall clock
	Exists bool
	Size   uint64
}

// DirState is an unordered mapping from RelPath to FileStat for every
// regular file currently under the monitored root.
type DirState map[RelPath]FileStat
