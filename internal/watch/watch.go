// Package watch defines the DirEvents contract the synchronization core
// consumes and a default implementation backed by fsnotify.
//
// fsnotify's Go API does not expose the inotify rename cookie that would let
// an implementation pair an old name with its new one, so the default
// Watcher never synthesizes a Rename event from raw OS notifications: an OS
// rename surfaces as a Remove of the old name followed by a Create of the
// new one, and it is up to the event router to treat that pair as two
// ordinary events. Rename remains a first-class Kind so other DirEvents
// implementations — a watcher backed by a platform API that does expose
// rename pairing, or a test fake — can still report one atomically.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/lanhive/lanhive/internal/dirstate"
)

var (
	ErrWatcherClosed = errors.New("watcher closed")
	ErrDirNotExist   = errors.New("directory to watch does not exist")
)

// Kind classifies a filesystem change relative to the monitored root.
type Kind int

const (
	Create Kind = iota
	Modify
	Remove
	Rename
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "CREATE"
	case Modify:
		return "MODIFY"
	case Remove:
		return "REMOVE"
	case Rename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// Event is one filesystem change reported relative to the monitored root.
// NewPath is only populated for Rename.
type Event struct {
	Kind    Kind
	Path    dirstate.RelPath
	NewPath dirstate.RelPath
}

// DirEvents is the contract the synchronization core depends on: a source
// of filesystem events for the monitored directory. Implementations decide
// whether renames are reported atomically or decomposed into Remove+Create.
type DirEvents interface {
	Start(ctx context.Context) error
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// Watcher is the default DirEvents implementation, backed by fsnotify with
// a recursively maintained watch list.
type Watcher struct {
	root string

	events chan Event
	errors chan error

	fs       *fsnotify.Watcher
	isClosed bool
	mu       sync.Mutex
}

// New creates a Watcher rooted at dir and adds recursive watches for every
// directory currently under it.
func New(dir string) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, ErrDirNotExist
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:   dir,
		fs:     fw,
		events: make(chan Event, 64),
		errors: make(chan error, 16),
	}

	if err := w.recursivelyAddWatch(dir); err != nil {
		fw.Close()
		return nil, err
	}

	return w, nil
}

func (w *Watcher) Events() <-chan Event { return w.events }
func (w *Watcher) Errors() <-chan error { return w.errors }

// Start pumps raw fsnotify events into typed Events until ctx is canceled or
// the underlying watcher is closed.
func (w *Watcher) Start(ctx context.Context) error {
	for {
		select {
		case raw, ok := <-w.fs.Events:
			if !ok {
				return ErrWatcherClosed
			}
			w.handleRaw(raw)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return ErrWatcherClosed
			}
			w.emitError(err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the watcher and releases its channels. Idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isClosed {
		return nil
	}
	w.isClosed = true
	close(w.events)
	close(w.errors)
	return w.fs.Close()
}

func (w *Watcher) handleRaw(raw fsnotify.Event) {
	if raw.Has(fsnotify.Chmod) {
		return
	}

	rel, ok := dirstate.NewRelPath(w.root, raw.Name)
	if !ok {
		return
	}

	switch {
	case raw.Has(fsnotify.Create):
		info, err := os.Stat(raw.Name)
		if err != nil {
			w.emitError(fmt.Errorf("stat created path: %w", err))
			return
		}
		if info.IsDir() {
			if err := w.recursivelyAddWatch(raw.Name); err != nil {
				w.emitError(fmt.Errorf("watch new directory: %w", err))
			}
			return
		}
		w.emit(Event{Kind: Create, Path: rel})

	case raw.Has(fsnotify.Write):
		info, err := os.Stat(raw.Name)
		if err != nil || info.IsDir() {
			return
		}
		w.emit(Event{Kind: Modify, Path: rel})

	case raw.Has(fsnotify.Remove), raw.Has(fsnotify.Rename):
		if err := w.fs.Remove(raw.Name); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			slog.Debug("watch removal for vanished path failed", "path", raw.Name, "error", err)
		}
		w.emit(Event{Kind: Remove, Path: rel})
	}
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		slog.Warn("dropped filesystem event: events channel full", "path", ev.Path, "kind", ev.Kind)
	}
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
		slog.Warn("dropped watcher error: errors channel full", "error", err)
	}
}

func (w *Watcher) recursivelyAddWatch(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk dir: %w", err)
		}
		if d.IsDir() {
			if err := w.fs.Add(path); err != nil {
				return fmt.Errorf("fsnotify add watch: %w", err)
			}
		}
		return nil
	})
}
