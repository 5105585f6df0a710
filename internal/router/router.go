// Package router turns local filesystem events into wire messages and hands
// them to the registry for broadcast, suppressing events the apply path
// itself produced.
package router

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lanhive/lanhive/internal/config"
	"github.com/lanhive/lanhive/internal/dirstate"
	"github.com/lanhive/lanhive/internal/ignoreset"
	"github.com/lanhive/lanhive/internal/rsync"
	"github.com/lanhive/lanhive/internal/sigstore"
	"github.com/lanhive/lanhive/internal/watch"
	"github.com/lanhive/lanhive/internal/wire"
)

// Broadcaster is the narrow capability the router needs from the registry,
// so router never depends on registry's dial/accept/tie-break concerns.
type Broadcaster interface {
	Broadcast(msg *wire.Message)
}

// Router owns no socket of its own; it only converts watcher events into
// wire messages and hands them to out for delivery.
type Router struct {
	root    string
	sigs    *sigstore.Store
	ignore  *ignoreset.Set
	exclude *dirstate.ExcludeSet
	out     Broadcaster
	clock   config.Clock
}

// New creates a Router rooted at dir, broadcasting converted events to out.
// Paths exclude marks (VCS noise, the .lanhiveignore rules, lanhive's own
// atomic-write temp files) never reach the wire, the same rule the scanner
// applies to DIR_STATE so a live edit and a reconciled one are treated alike.
func New(dir string, sigs *sigstore.Store, ignore *ignoreset.Set, exclude *dirstate.ExcludeSet, out Broadcaster) *Router {
	return &Router{root: dir, sigs: sigs, ignore: ignore, exclude: exclude, out: out, clock: config.SystemClock{}}
}

// WithClock overrides the clock used to stamp DELETE messages, letting
// tests make a deletion's mtime deterministic.
func (r *Router) WithClock(c config.Clock) *Router {
	r.clock = c
	return r
}

// Run consumes events until the channel closes, converting each to a wire
// message and broadcasting it. Errors are logged and do not stop the loop;
// a single bad event should never take down the whole router.
func (r *Router) Run(events <-chan watch.Event) {
	for ev := range events {
		if err := r.handle(ev); err != nil {
			slog.Warn("router dropped event", "kind", ev.Kind, "path", ev.Path, "error", err)
		}
	}
}

func (r *Router) handle(ev watch.Event) error {
	if r.exclude != nil && r.exclude.ShouldIgnore(string(ev.Path)) {
		return nil
	}

	switch ev.Kind {
	case watch.Create, watch.Modify:
		return r.handleCreateOrModify(ev.Path)
	case watch.Remove:
		return r.handleRemove(ev.Path)
	case watch.Rename:
		if r.exclude != nil && r.exclude.ShouldIgnore(string(ev.NewPath)) {
			return nil
		}
		return r.handleRename(ev.Path, ev.NewPath)
	default:
		return fmt.Errorf("unknown event kind %v", ev.Kind)
	}
}

func (r *Router) shouldSuppress(path dirstate.RelPath, mtime float64) bool {
	return r.ignore.Consume(path, mtime)
}

func (r *Router) handleCreateOrModify(path dirstate.RelPath) error {
	abs := filepath.Join(r.root, string(path))
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	mtime := localMtime(info)

	if r.shouldSuppress(path, mtime) {
		return nil
	}

	oldSig, err := r.sigs.Load(path)
	if err != nil {
		return fmt.Errorf("load old signature for %s: %w", path, err)
	}

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	newSig, err := rsync.Signature(f)
	if err != nil {
		return fmt.Errorf("sign %s: %w", path, err)
	}
	if err := r.sigs.Save(path, newSig); err != nil {
		return err
	}

	var msg *wire.Message
	if oldSig == nil {
		data, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		msg = wire.NewCreate(string(path), mtime, data)
	} else {
		if _, err := f.Seek(0, 0); err != nil {
			return fmt.Errorf("rewind %s: %w", path, err)
		}
		delta, err := rsync.Delta(oldSig, f)
		if err != nil {
			return fmt.Errorf("compute delta for %s: %w", path, err)
		}
		msg = wire.NewModify(string(path), mtime, delta)
	}

	r.out.Broadcast(msg)
	slog.Info("broadcast local change", "path", path, "type", msg.Type)
	return nil
}

func (r *Router) handleRemove(path dirstate.RelPath) error {
	mtime := r.clock.Now()
	if r.shouldSuppress(path, mtime) {
		return nil
	}

	if err := r.sigs.Delete(path); err != nil {
		return err
	}

	msg := wire.NewDelete(string(path), mtime)
	r.out.Broadcast(msg)
	slog.Info("broadcast local delete", "path", path)
	return nil
}

func (r *Router) handleRename(src, dst dirstate.RelPath) error {
	abs := filepath.Join(r.root, string(dst))
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat rename destination %s: %w", dst, err)
	}
	mtime := localMtime(info)

	if r.shouldSuppress(dst, mtime) {
		return nil
	}

	if err := r.sigs.Move(src, dst); err != nil {
		return err
	}

	msg := wire.NewRename(string(src), string(dst), mtime)
	r.out.Broadcast(msg)
	slog.Info("broadcast local rename", "src", src, "dst", dst)
	return nil
}
