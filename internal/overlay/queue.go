package overlay

import "sync"

// opQueue is an unbounded FIFO of closures. Pushing never blocks, so feed
// callbacks and timers can post from any goroutine, including the loop itself.
type opQueue struct {
	mu      sync.Mutex
	backlog []func()
	notify  chan struct{}
	closed  bool
}

func newOpQueue() *opQueue {
	return &opQueue{notify: make(chan struct{}, 1)}
}

// push enqueues op. It reports false once the queue is closed.
func (q *opQueue) push(op func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.backlog = append(q.backlog, op)
	q.mu.Unlock()
	q.wake()
	return true
}

// pop blocks until an op is available. After close it drains the backlog and
// then reports false.
func (q *opQueue) pop() (func(), bool) {
	for {
		q.mu.Lock()
		if len(q.backlog) > 0 {
			op := q.backlog[0]
			q.backlog[0] = nil
			q.backlog = q.backlog[1:]
			q.mu.Unlock()
			return op, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.notify
	}
}

func (q *opQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *opQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
