// Package watcher provides the watch sources that turn OS file notifications
// into model.Events.
package watcher

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/ManouchehrRasoulli/fswatchd/pkg/model"
)

// ErrClosed is returned by a Source after Close.
var ErrClosed = errors.New("watch source closed")

// Source is the OS file watch primitive.
type Source interface {
	// Watch registers interest in kind events at path. Calling it again for
	// the same path and kind is a no-op.
	Watch(path string, kind model.EventKind) error
	// Unwatch drops every interest in path. The OS watch may outlive it.
	Unwatch(path string) error
	// Next blocks until an event, a source error, ctx cancellation or Close.
	Next(ctx context.Context) (model.Event, error)
	Close() error
}

// interest records which kinds were requested per path. Events are delivered
// for a path when the kind was requested on the path or on its directory.
type interest struct {
	mu    sync.RWMutex
	kinds map[string]map[model.EventKind]struct{}
}

func newInterest() *interest {
	return &interest{kinds: make(map[string]map[model.EventKind]struct{})}
}

func (i *interest) add(path string, kind model.EventKind) {
	i.mu.Lock()
	defer i.mu.Unlock()

	ks, ok := i.kinds[path]
	if !ok {
		ks = make(map[model.EventKind]struct{})
		i.kinds[path] = ks
	}
	ks[kind] = struct{}{}
}

func (i *interest) remove(path string) {
	i.mu.Lock()
	delete(i.kinds, path)
	i.mu.Unlock()
}

func (i *interest) wants(path string, kind model.EventKind) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if _, ok := i.kinds[path][kind]; ok {
		return true
	}
	_, ok := i.kinds[filepath.Dir(path)][kind]
	return ok
}

// next is the shared body of Source.Next for channel backed sources.
func next(ctx context.Context, events <-chan model.Event, errs <-chan error, closed <-chan struct{}) (model.Event, error) {
	select {
	case e := <-events:
		return e, nil
	case err := <-errs:
		return model.Event{}, err
	case <-ctx.Done():
		return model.Event{}, ctx.Err()
	case <-closed:
		return model.Event{}, ErrClosed
	}
}
