package haikuplus

import "sync"

// Dispatcher runs functions on the caller-facing execution context. A
// Communicator delivers every completion and listener notification through
// it.
type Dispatcher interface {
	// Dispatch schedules fn. It must not block.
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to Dispatcher, e.g. a UI toolkit's
// "run on main thread" hook.
type DispatcherFunc func(fn func())

func (f DispatcherFunc) Dispatch(fn func()) { f(fn) }

// SerialQueue is a Dispatcher that runs functions one at a time, in
// dispatch order, on its own goroutine. The queue is unbounded so dispatched
// functions may dispatch more work without deadlocking.
type SerialQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}
}

// NewSerialQueue starts a queue.
func NewSerialQueue() *SerialQueue {
	q := &SerialQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *SerialQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}

// Dispatch implements Dispatcher. Functions dispatched after Close are
// dropped.
func (q *SerialQueue) Dispatch(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, fn)
	q.cond.Signal()
}

// Close stops accepting work and waits until what was already dispatched
// has run. Calling Close from a dispatched function would deadlock, so it
// must come from elsewhere.
func (q *SerialQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
}
