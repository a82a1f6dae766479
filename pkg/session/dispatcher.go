package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/porthorian/sessionauth/pkg/identity"
	"github.com/porthorian/sessionauth/pkg/listener"
)

type notification struct {
	event     listener.Event
	principal identity.Principal
	props     identity.Properties
}

// dispatcher fans notifications out to a fixed set of workers. A principal
// always maps to the same worker, and each worker delivers FIFO.
type dispatcher struct {
	workers   []*worker
	registry  *listener.Registry
	logger    logr.Logger
	pending   atomic.Int64
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// worker queues are unbounded so enqueue never blocks the mutating caller,
// even when a listener calls back into the cache.
type worker struct {
	mu      sync.Mutex
	queue   []notification
	stopped bool
	signal  chan struct{}
	done    chan struct{}
}

func newDispatcher(workers int, registry *listener.Registry, logger logr.Logger) *dispatcher {
	d := &dispatcher{
		workers:  make([]*worker, workers),
		registry: registry,
		logger:   logger,
	}

	for i := range d.workers {
		w := &worker{
			signal: make(chan struct{}, 1),
			done:   make(chan struct{}),
		}
		d.workers[i] = w

		d.wg.Add(1)
		go d.run(w)
	}

	return d
}

func (d *dispatcher) enqueue(h uint64, n notification) {
	if d.registry == nil {
		return
	}

	w := d.workers[h%uint64(len(d.workers))]
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		d.logger.V(1).Info("notification dropped after close", "event", n.event, "principalID", n.principal.ID)
		return
	}
	w.queue = append(w.queue, n)
	d.pending.Add(1)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run(w *worker) {
	defer d.wg.Done()

	for {
		select {
		case <-w.signal:
			d.drain(w)
		case <-w.done:
			d.drain(w)
			return
		}
	}
}

func (d *dispatcher) drain(w *worker) {
	for {
		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		w.mu.Unlock()

		if len(batch) == 0 {
			return
		}

		for _, n := range batch {
			d.deliver(n)
			d.pending.Add(-1)
		}
	}
}

func (d *dispatcher) deliver(n notification) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error(fmt.Errorf("panic: %v", recovered), "notification delivery failed",
				"event", n.event, "principalID", n.principal.ID)
		}
	}()

	d.registry.Notify(context.Background(), n.event, n.principal, n.props)
}

func (d *dispatcher) close() {
	d.closeOnce.Do(func() {
		for _, w := range d.workers {
			w.mu.Lock()
			w.stopped = true
			w.mu.Unlock()
			close(w.done)
		}
		d.wg.Wait()
	})
}
