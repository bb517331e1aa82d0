// Package pool runs callbacks on a fixed set of workers. Each request goes
// to the worker with the fewest queued and running callbacks.
package pool

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/ManouchehrRasoulli/fswatchd/pkg/metrics"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/model"
	"github.com/ManouchehrRasoulli/fswatchd/pkg/registry"
)

// ErrConfiguration is returned for an invalid pool size.
var ErrConfiguration = errors.New("invalid configuration")

// MinWorkers is the smallest accepted pool size.
const MinWorkers = 2

// Request is one callback invocation.
type Request struct {
	Kind     model.EventKind
	Path     string
	Callback registry.Callback
}

func (r Request) String() string {
	return fmt.Sprintf("%s %q", r.Kind, r.Path)
}

type Option func(p *Pool)

// WithQueueSize bounds each worker queue. Submit blocks once the least
// loaded worker queue is full.
func WithQueueSize(size int) Option {
	return func(p *Pool) {
		if size > 0 {
			p.queueSize = size
		}
	}
}

type worker struct {
	id      int
	label   string
	queue   chan Request
	pending atomic.Int64
}

type Pool struct {
	workers   []*worker
	queueSize int
	logger    *log.Logger

	mu      sync.Mutex   // serializes routing
	closeMu sync.RWMutex // read held while sending, write held by Close
	closed  bool
	wg      sync.WaitGroup
}

func New(n int, logger *log.Logger, options ...Option) (*Pool, error) {
	if n < MinWorkers {
		return nil, errors.Wrapf(ErrConfiguration, "pool needs at least %d workers, got %d", MinWorkers, n)
	}

	p := Pool{
		workers:   make([]*worker, n),
		queueSize: 64,
		logger:    logger,
	}
	for _, op := range options {
		op(&p)
	}

	for i := range p.workers {
		w := &worker{
			id:    i,
			label: strconv.Itoa(i),
			queue: make(chan Request, p.queueSize),
		}
		p.workers[i] = w
		metrics.WorkerPending.WithLabelValues(w.label).Set(0)

		p.wg.Add(1)
		go p.run(w)
	}

	logger.Printf("pool :: started %d workers, queue size %d\n", n, p.queueSize)
	return &p, nil
}

// Submit routes r to the least loaded worker. It blocks while that worker
// queue is full; other Submit calls keep routing meanwhile.
func (p *Pool) Submit(r Request) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed {
		p.logger.Printf("ERROR pool :: dropped request %s, pool closed\n", r)
		return
	}

	p.mu.Lock()
	w := p.workers[0]
	for _, c := range p.workers[1:] {
		if c.pending.Load() < w.pending.Load() {
			w = c
		}
	}
	metrics.WorkerPending.WithLabelValues(w.label).Set(float64(w.pending.Add(1)))
	p.mu.Unlock()

	w.queue <- r
}

// Pending returns the queued and running callbacks of every worker.
func (p *Pool) Pending() []int64 {
	out := make([]int64, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.pending.Load()
	}
	return out
}

func (p *Pool) Size() int { return len(p.workers) }

// Close stops accepting requests and waits until every queued callback ran.
func (p *Pool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	for _, w := range p.workers {
		close(w.queue)
	}
	p.closeMu.Unlock()

	p.wg.Wait()
	p.logger.Printf("pool :: all workers stopped\n")
}

func (p *Pool) run(w *worker) {
	defer p.wg.Done()
	for r := range w.queue {
		p.execute(w, r)
		metrics.WorkerPending.WithLabelValues(w.label).Set(float64(w.pending.Add(-1)))
	}
}

// execute runs one callback, containing errors and panics.
func (p *Pool) execute(w *worker, r Request) {
	defer func() {
		if v := recover(); v != nil {
			metrics.CallbackFailures.WithLabelValues(r.Kind.String(), "panic").Inc()
			p.logger.Printf("ERROR pool :: worker %d callback panic on %s: %v\n", w.id, r, v)
		}
	}()

	if err := r.Callback(r.Path); err != nil {
		metrics.CallbackFailures.WithLabelValues(r.Kind.String(), "error").Inc()
		p.logger.Printf("ERROR pool :: worker %d callback failed on %s: %v\n", w.id, r, err)
	}
}
