package watch

import "context"

// Fake is an in-memory DirEvents implementation for tests. Unlike Watcher
// it can emit Rename directly, since it isn't limited by what fsnotify's
// API can pair.
type Fake struct {
	events chan Event
	errors chan error
	done   chan struct{}
}

// NewFake creates a Fake with a buffered event channel of the given size.
func NewFake(buffer int) *Fake {
	return &Fake{
		events: make(chan Event, buffer),
		errors: make(chan error, buffer),
		done:   make(chan struct{}),
	}
}

func (f *Fake) Events() <-chan Event { return f.events }
func (f *Fake) Errors() <-chan error { return f.errors }

func (f *Fake) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return ErrWatcherClosed
	}
}

func (f *Fake) Close() error {
	select {
	case <-f.done:
		return nil
	default:
		close(f.done)
		close(f.events)
		close(f.errors)
		return nil
	}
}

// Emit pushes ev onto the event channel, for use by test setup code.
func (f *Fake) Emit(ev Event) {
	f.events <- ev
}
