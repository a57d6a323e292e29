package acp

import (
	"log/slog"
	"sync"
)

// dispatcher hands events to a handler on a single goroutine, preserving
// the order in which they were received.
type dispatcher struct {
	handler EventHandler
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan func()
	done   chan struct{}
}

func newDispatcher(handler EventHandler, log *slog.Logger) *dispatcher {
	d := &dispatcher{
		handler: handler,
		log:     log,
		queue:   make(chan func(), 256),
		done:    make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for fn := range d.queue {
		d.run(fn)
	}
}

func (d *dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event handler panicked", "panic", r)
		}
	}()
	fn()
}

// deliver queues ev. Events arriving after close are dropped.
func (d *dispatcher) deliver(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	d.queue <- func() { d.handler(ev) }
}

// drain blocks until every event queued before the call has been handled.
func (d *dispatcher) drain() {
	barrier := make(chan struct{})
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return
	}
	d.queue <- func() { close(barrier) }
	d.mu.RUnlock()
	<-barrier
}

// close handles the remaining events and stops the goroutine.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}
