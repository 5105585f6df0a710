// Package ignoreset implements the echo-suppression discipline: before a
// remote update is applied to disk, the path is marked with the mtime the
// write is about to produce, so the filesystem event it triggers is
// recognized as our own echo instead of a new local change.
package ignoreset

import (
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lanhive/lanhive/internal/dirstate"
)

// DefaultGracePeriod bounds how long an entry survives if the expected
// filesystem event never arrives (a coalesced or dropped watcher event).
const DefaultGracePeriod = 2 * time.Second

// mtimeToleranceSeconds is the slop allowed when matching an observed event
// mtime against the expected one, absorbing filesystem timestamp truncation.
const mtimeToleranceSeconds = 0.001

// Set is a short-lived suppression table from RelPath to the mtime a remote
// apply is about to set on disk. 0 disables LRU eviction by count; entries
// are reclaimed purely by the grace period.
type Set struct {
	entries *expirable.LRU[dirstate.RelPath, float64]
}

// New creates a Set whose entries expire after grace if never consumed.
func New(grace time.Duration) *Set {
	return &Set{entries: expirable.NewLRU[dirstate.RelPath, float64](0, nil, grace)}
}

// Mark records that path is about to be written with expectedMtime, so the
// resulting filesystem event should be suppressed rather than re-broadcast.
func (s *Set) Mark(path dirstate.RelPath, expectedMtime float64) {
	s.entries.Add(path, expectedMtime)
}

// Consume reports whether an observed event for (path, mtime) matches a
// pending suppression entry; if so it removes the entry and returns true.
// A mismatched mtime leaves the entry in place — it might still match a
// later, more precise event for the same write.
func (s *Set) Consume(path dirstate.RelPath, mtime float64) bool {
	expected, ok := s.entries.Peek(path)
	if !ok {
		return false
	}
	if math.Abs(expected-mtime) > mtimeToleranceSeconds {
		return false
	}
	s.entries.Remove(path)
	return true
}

// Len reports the number of live suppression entries, for diagnostics.
func (s *Set) Len() int {
	return s.entries.Len()
}
