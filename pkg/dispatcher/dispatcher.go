// Package dispatcher connects a watch source to registered callbacks.
//
// A Dispatcher runs two goroutines. The watch loop blocks on the source and
// forwards every event into the mailbox. The orchestrator is the only reader
// of the mailbox and the only owner of the callback registries; it applies
// registrations, resolves events to callbacks and hands them to the worker
// pool, so the registries need no locking.
package dispatcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/ManouchehrRasoulli/fswatchd/pkg/metrics"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/model"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/pool"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/registry"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/walker"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/watcher"
)

var (
	// ErrConfiguration is returned by New for invalid options.
	ErrConfiguration = pool.ErrConfiguration
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("dispatcher closed")
)

type Option func(d *Dispatcher)

// WithWorkers sets the worker pool size, at least 2.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		d.workers = n
	}
}

func WithQueueSize(size int) Option {
	return func(d *Dispatcher) {
		d.queueSize = size
	}
}

// WithMailboxSize sets how many messages may wait for the orchestrator.
func WithMailboxSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.mailboxSize = size
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithWalker(walk walker.Func) Option {
	return func(d *Dispatcher) {
		d.walk = walk
	}
}

// WithWalkLimit bounds how many directories one recursive registration or
// one created directory subscribes. Zero means no bound.
func WithWalkLimit(n int) Option {
	return func(d *Dispatcher) {
		d.walkLimit = n
	}
}

type Dispatcher struct {
	source watcher.Source
	pool   *pool.Pool
	walk   walker.Func
	logger *log.Logger

	workers     int
	queueSize   int
	mailboxSize int
	walkLimit   int

	// owned by the orchestrator goroutine
	registries map[model.EventKind]*registry.Registry
	dirs       map[string]struct{} // directories subscribed directly

	mailbox   chan any
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{} // orchestrator stopped
	loopDone  chan struct{} // watch loop stopped
	closeOnce sync.Once
}

type registerRequest struct {
	kind      model.EventKind
	recursive bool
	path      string
	callback  registry.Callback
	done      chan struct{}
}

type unregisterRequest struct {
	kind      model.EventKind
	recursive bool
	path      string
	done      chan struct{}
}

type eventMessage struct {
	event model.Event
}

// New starts a dispatcher reading from source. The dispatcher owns source
// and closes it on Close.
func New(source watcher.Source, options ...Option) (*Dispatcher, error) {
	d := Dispatcher{
		source:      source,
		walk:        walker.Walk,
		logger:      log.Default(),
		workers:     4,
		queueSize:   64,
		mailboxSize: 256,
		registries:  make(map[model.EventKind]*registry.Registry, len(model.Kinds)),
		dirs:        make(map[string]struct{}),
		done:        make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	for _, op := range options {
		op(&d)
	}

	p, err := pool.New(d.workers, d.logger, pool.WithQueueSize(d.queueSize))
	if err != nil {
		return nil, err
	}
	d.pool = p

	for _, k := range model.Kinds {
		d.registries[k] = registry.New(k)
	}
	d.mailbox = make(chan any, d.mailboxSize)
	d.ctx, d.cancel = context.WithCancel(context.Background())

	go d.run()
	go d.watchLoop()

	return &d, nil
}

// RegisterCallback registers cb for kind events at path, or under path when
// recursive is set, and returns the absolute path used. Registering a path
// that does not exist succeeds; the registration stays inert until a
// matching event arrives.
//
// Callbacks run on the worker pool while the orchestrator may be waiting
// for a free worker queue. A callback must not call RegisterCallback or
// UnregisterCallback synchronously; start a goroutine for it instead.
func (d *Dispatcher) RegisterCallback(kind model.EventKind, recursive bool, path string, cb registry.Callback) (string, error) {
	if !kind.Valid() {
		return "", errors.Errorf("register %q: invalid event kind %d", path, kind)
	}
	if cb == nil {
		return "", errors.Errorf("register %q: nil callback", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %q", path)
	}

	req := registerRequest{kind: kind, recursive: recursive, path: abs, callback: cb, done: make(chan struct{})}
	return abs, d.call(req, req.done)
}

// UnregisterCallback removes every callback registered for exactly this
// kind, recursive flag and path. The underlying watch stays subscribed.
func (d *Dispatcher) UnregisterCallback(kind model.EventKind, recursive bool, path string) (string, error) {
	if !kind.Valid() {
		return "", errors.Errorf("unregister %q: invalid event kind %d", path, kind)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %q", path)
	}

	req := unregisterRequest{kind: kind, recursive: recursive, path: abs, done: make(chan struct{})}
	return abs, d.call(req, req.done)
}

// call sends msg to the orchestrator and waits until it was applied.
func (d *Dispatcher) call(msg any, applied <-chan struct{}) error {
	select {
	case d.mailbox <- msg:
	case <-d.done:
		return ErrClosed
	}
	select {
	case <-applied:
		return nil
	case <-d.done:
		select {
		case <-applied:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Close stops the watch loop and the orchestrator, closes the source and
// waits for queued callbacks to finish.
func (d *Dispatcher) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.cancel()
		err = d.source.Close()
		<-d.loopDone
		<-d.done
		d.pool.Close()
		d.logger.Printf("dispatcher :: closed\n")
	})
	return err
}

func (d *Dispatcher) watchLoop() {
	defer close(d.loopDone)
	for {
		e, err := d.source.Next(d.ctx)
		if err != nil {
			if errors.Is(err, watcher.ErrClosed) || d.ctx.Err() != nil {
				d.logger.Printf("dispatcher :: watch loop stopped\n")
				return
			}
			metrics.WatchErrors.Inc()
			d.logger.Printf("ERROR dispatcher :: watch source: %v\n", err)
			continue
		}

		select {
		case d.mailbox <- eventMessage{event: e}:
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case msg := <-d.mailbox:
			d.handle(msg)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) handle(msg any) {
	defer func() {
		if v := recover(); v != nil {
			d.logger.Printf("ERROR dispatcher :: message %T failed: %v\n", msg, v)
		}
	}()

	switch m := msg.(type) {
	case registerRequest:
		defer close(m.done)
		d.register(m)
	case unregisterRequest:
		defer close(m.done)
		d.unregister(m)
	case eventMessage:
		d.onEvent(m.event)
	default:
		metrics.Unroutable.Inc()
		d.logger.Printf("ERROR dispatcher :: unroutable message %T dropped\n", msg)
	}
}

func (d *Dispatcher) register(m registerRequest) {
	reg := d.registries[m.kind]
	if !m.recursive {
		reg.AddExact(m.path, m.callback)
		if d.watch(m.path, m.kind) && isDir(m.path) {
			d.dirs[m.path] = struct{}{}
		}
		d.logger.Printf("dispatcher :: registered %s on %s (%d callbacks)\n", reg.Kind(), m.path, reg.Len())
		return
	}

	reg.AddRecursive(m.path, m.callback)
	if d.watchTree(m.path, treeKinds(m.kind)...) == 0 {
		// not a directory, the subtree is the path itself
		d.watch(m.path, m.kind)
	}
	d.logger.Printf("dispatcher :: registered recursive %s on %s (%d callbacks)\n", reg.Kind(), m.path, reg.Len())
}

func (d *Dispatcher) unregister(m unregisterRequest) {
	reg := d.registries[m.kind]
	if m.recursive {
		reg.RemoveRecursive(m.path)
	} else {
		reg.RemoveExact(m.path)
	}
	d.logger.Printf("dispatcher :: unregistered %s on %s (recursive: %v)\n", m.kind, m.path, m.recursive)
}

// watch subscribes the source and reports whether it succeeded. Failures
// are logged only; the registration stays in place.
func (d *Dispatcher) watch(path string, kind model.EventKind) bool {
	err := d.source.Watch(path, kind)
	if err == nil {
		return true
	}
	metrics.WatchErrors.Inc()
	if errors.Is(err, os.ErrNotExist) {
		d.logger.Printf("dispatcher :: %s does not exist, %s registration inert until it appears\n", path, kind)
	} else {
		d.logger.Printf("ERROR dispatcher :: %v\n", err)
	}
	return false
}

// treeKinds returns the kinds a recursively registered tree is subscribed
// for. Created is always included, the orchestrator extends the tree from
// the Created events of new directories.
func treeKinds(kinds ...model.EventKind) []model.EventKind {
	for _, k := range kinds {
		if k == model.Created {
			return kinds
		}
	}
	return append(kinds, model.Created)
}

// watchTree subscribes every directory under root for the given kinds and
// returns how many directories were visited.
func (d *Dispatcher) watchTree(root string, kinds ...model.EventKind) int {
	n := 0
	for dir := range d.walk(root) {
		if d.walkLimit > 0 && n >= d.walkLimit {
			d.logger.Printf("dispatcher :: walk of %s stopped after %d directories\n", root, n)
			break
		}
		n++
		d.dirs[dir] = struct{}{}
		for _, k := range kinds {
			d.watch(dir, k)
		}
	}
	return n
}

func (d *Dispatcher) onEvent(e model.Event) {
	reg, ok := d.registries[e.Kind]
	if !ok {
		d.logger.Printf("ERROR dispatcher :: event %s with unknown kind dropped\n", e)
		return
	}
	path, err := filepath.Abs(e.Path)
	if err != nil {
		d.logger.Printf("ERROR dispatcher :: resolve event path %q: %v\n", e.Path, err)
		return
	}
	metrics.Events.WithLabelValues(e.Kind.String()).Inc()

	fi, statErr := os.Stat(path)
	exists := statErr == nil
	if exists && !fi.IsDir() {
		delete(d.dirs, path)
	}
	if e.Kind == model.Created && exists && fi.IsDir() {
		d.extend(path)
	}

	d.dispatch(e.Kind, path, reg.Lookup(path))

	// Entries inside a watched directory are reported against the entry, so
	// the directory's own exact callbacks are consulted too. Recursive
	// callbacks of its ancestors already matched path above.
	_, watchedDir := d.dirs[path]
	if (e.Kind == model.Deleted && !watchedDir) || (exists && fi.Mode().IsRegular()) {
		if parent := filepath.Dir(path); parent != path {
			d.dispatch(e.Kind, path, reg.LookupExact(parent))
		}
	}
}

// extend subscribes a newly created directory, and anything created inside
// it before the subscription, for every kind with a recursive registration
// covering it and for Created.
func (d *Dispatcher) extend(dir string) {
	var kinds []model.EventKind
	for _, k := range model.Kinds {
		if d.registries[k].Covers(dir) {
			kinds = append(kinds, k)
		}
	}
	if len(kinds) == 0 {
		return
	}
	n := d.watchTree(dir, treeKinds(kinds...)...)
	d.logger.Printf("dispatcher :: extended watches to %d new directories under %s\n", n, dir)
}

func (d *Dispatcher) dispatch(kind model.EventKind, path string, cbs []registry.Callback) {
	for _, cb := range cbs {
		metrics.Dispatched.WithLabelValues(kind.String()).Inc()
		d.pool.Submit(pool.Request{Kind: kind, Path: path, Callback: cb})
	}
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
