package watcher

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rjeczalik/notify"

	"github.com/ManouchehrRasoulli/fswatchd/pkg/model"
)

// Notify is a Source backed by rjeczalik/notify. Every watched path owns a
// notify channel which is forwarded into the shared event stream.
type Notify struct {
	interest   *interest
	bufferSize int

	chansMu sync.Mutex
	chans   map[string]chan notify.EventInfo

	events    chan model.Event
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewNotify(opts ...Option) *Notify {
	o := buildOptions(opts)
	return &Notify{
		interest:   newInterest(),
		bufferSize: o.bufferSize,
		chans:      make(map[string]chan notify.EventInfo),
		events:     make(chan model.Event, o.bufferSize),
		closed:     make(chan struct{}),
	}
}

func notifyEvents(kind model.EventKind) []notify.Event {
	switch kind {
	case model.Created:
		return []notify.Event{notify.Create}
	case model.Modified:
		return []notify.Event{notify.Write}
	case model.Deleted:
		return []notify.Event{notify.Remove, notify.Rename}
	}
	return nil
}

func (w *Notify) Watch(path string, kind model.EventKind) error {
	select {
	case <-w.closed:
		return ErrClosed
	default:
	}

	w.interest.add(path, kind)

	w.chansMu.Lock()
	defer w.chansMu.Unlock()

	ch, ok := w.chans[path]
	if !ok {
		ch = make(chan notify.EventInfo, w.bufferSize)
	}
	// notify merges the event set when a channel watches the same path again
	if err := notify.Watch(path, ch, notifyEvents(kind)...); err != nil {
		return errors.Wrapf(err, "watch %q", path)
	}
	if !ok {
		w.chans[path] = ch
		w.wg.Add(1)
		go w.forward(ch)
	}
	return nil
}

func (w *Notify) Unwatch(path string) error {
	w.interest.remove(path)

	w.chansMu.Lock()
	defer w.chansMu.Unlock()
	ch, ok := w.chans[path]
	if !ok {
		return nil
	}
	notify.Stop(ch)
	close(ch)
	delete(w.chans, path)
	return nil
}

func (w *Notify) Next(ctx context.Context) (model.Event, error) {
	return next(ctx, w.events, nil, w.closed)
}

func (w *Notify) Close() error {
	w.closeOnce.Do(func() {
		close(w.closed)
		w.chansMu.Lock()
		for path, ch := range w.chans {
			notify.Stop(ch)
			close(ch)
			delete(w.chans, path)
		}
		w.chansMu.Unlock()
		w.wg.Wait()
	})
	return nil
}

func (w *Notify) forward(ch chan notify.EventInfo) {
	defer w.wg.Done()
	for ei := range ch {
		path := ei.Path()
		for _, kind := range translate(ei.Event()).Kinds() {
			if !w.interest.wants(path, kind) {
				continue
			}
			select {
			case w.events <- model.Event{Path: path, Kind: kind}:
			case <-w.closed:
				// drain until Close closes ch
			}
		}
	}
}

func translate(e notify.Event) model.Op {
	var op model.Op
	if e&notify.Create != 0 {
		op |= model.Create
	}
	if e&notify.Write != 0 {
		op |= model.Write
	}
	if e&notify.Remove != 0 {
		op |= model.Remove
	}
	if e&notify.Rename != 0 {
		op |= model.Rename
	}
	return op
}
