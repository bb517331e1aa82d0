package watcher

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/ManouchehrRasoulli/fswatchd/pkg/model"
)

type Option func(o *options)

type options struct {
	bufferSize int
}

// WithBufferSize sets how many translated events are buffered before the
// backend blocks on the consumer.
func WithBufferSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.bufferSize = size
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{bufferSize: 128}
	for _, op := range opts {
		op(&o)
	}
	return o
}

// FSNotify is a Source backed by fsnotify, one OS watch per path.
type FSNotify struct {
	fw       *fsnotify.Watcher
	interest *interest

	attachedMu sync.Mutex
	attached   map[string]struct{} // paths with a live fsnotify watch

	events    chan model.Event
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewFSNotify(opts ...Option) (*FSNotify, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}

	o := buildOptions(opts)
	w := FSNotify{
		fw:       fw,
		interest: newInterest(),
		attached: make(map[string]struct{}),
		events:   make(chan model.Event, o.bufferSize),
		errs:     make(chan error, 1),
		closed:   make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()

	return &w, nil
}

func (w *FSNotify) Watch(path string, kind model.EventKind) error {
	select {
	case <-w.closed:
		return ErrClosed
	default:
	}

	w.interest.add(path, kind)

	w.attachedMu.Lock()
	defer w.attachedMu.Unlock()
	if _, ok := w.attached[path]; ok {
		return nil
	}
	if err := w.fw.Add(path); err != nil {
		return errors.Wrapf(err, "watch %q", path)
	}
	w.attached[path] = struct{}{}
	return nil
}

func (w *FSNotify) Unwatch(path string) error {
	w.interest.remove(path)

	w.attachedMu.Lock()
	defer w.attachedMu.Unlock()
	if _, ok := w.attached[path]; !ok {
		return nil
	}
	delete(w.attached, path)
	if err := w.fw.Remove(path); err != nil {
		return errors.Wrapf(err, "unwatch %q", path)
	}
	return nil
}

func (w *FSNotify) Next(ctx context.Context) (model.Event, error) {
	return next(ctx, w.events, w.errs, w.closed)
}

func (w *FSNotify) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed) // stop local goroutine
		err = w.fw.Close()
		w.wg.Wait()
	})
	return err
}

func (w *FSNotify) run() {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.fanOut(e)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- errors.Wrap(err, "fsnotify"):
			case <-w.closed:
				return
			}
		case <-w.closed:
			return
		}
	}
}

func (w *FSNotify) fanOut(e fsnotify.Event) {
	if len(e.Name) == 0 { // no event !
		return
	}

	op := model.Op(e.Op)
	if op.Has(model.Remove) || op.Has(model.Rename) {
		// the kernel drops the watch together with the path
		w.attachedMu.Lock()
		delete(w.attached, e.Name)
		w.attachedMu.Unlock()
	}

	for _, kind := range op.Kinds() {
		if !w.interest.wants(e.Name, kind) {
			continue
		}
		select {
		case w.events <- model.Event{Path: e.Name, Kind: kind}:
		case <-w.closed:
			return
		}
	}
}
