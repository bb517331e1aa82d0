package watcher

import (
	"context"
	"sync"

	"github.com/ManouchehrRasoulli/fswatchd/pkg/model"
)

// Fake is an in-memory Source for tests. Events are injected, never read
// from the filesystem, and are not filtered by interest.
type Fake struct {
	mu      sync.Mutex
	watched map[string]map[model.EventKind]int
	fail    map[string]error

	events    chan model.Event
	closed    chan struct{}
	closeOnce sync.Once
}

func NewFake() *Fake {
	return &Fake{
		watched: make(map[string]map[model.EventKind]int),
		fail:    make(map[string]error),
		events:  make(chan model.Event, 128),
		closed:  make(chan struct{}),
	}
}

// FailWatch makes every following Watch on path return err.
func (w *Fake) FailWatch(path string, err error) {
	w.mu.Lock()
	w.fail[path] = err
	w.mu.Unlock()
}

func (w *Fake) Watch(path string, kind model.EventKind) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err, ok := w.fail[path]; ok {
		return err
	}
	if _, ok := w.watched[path]; !ok {
		w.watched[path] = make(map[model.EventKind]int)
	}
	w.watched[path][kind]++
	return nil
}

func (w *Fake) Unwatch(path string) error {
	w.mu.Lock()
	delete(w.watched, path)
	w.mu.Unlock()
	return nil
}

// Watching reports whether Watch was called for path and kind.
func (w *Fake) Watching(path string, kind model.EventKind) bool {
	return w.WatchCount(path, kind) > 0
}

func (w *Fake) WatchCount(path string, kind model.EventKind) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watched[path][kind]
}

// Inject lets a test push an event as if the OS reported it.
func (w *Fake) Inject(path string, kind model.EventKind) {
	select {
	case w.events <- model.Event{Path: path, Kind: kind}:
	case <-w.closed:
	}
}

func (w *Fake) Next(ctx context.Context) (model.Event, error) {
	return next(ctx, w.events, nil, w.closed)
}

func (w *Fake) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	return nil
}
