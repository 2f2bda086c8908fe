package memstore

import "sync"

// notifier delivers subscription callbacks in FIFO order on a
// dedicated goroutine. Each subscription owns one notifier, which
// gives it the per-subscription serialization the store contract
// promises: callbacks never run concurrently, never out of order, and
// a slow consumer only stalls its own subscription.
//
// Unlike a bounded ring buffer, the queue grows as needed. Dropping a
// diff batch would leave the subscriber's container permanently out
// of sync with the store, so every enqueued item is either delivered
// or discarded wholesale by close.
type notifier struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
}

func newNotifier() *notifier {
	n := &notifier{}
	n.cond = sync.NewCond(&n.mu)
	go n.run()
	return n
}

// enqueue schedules fn for delivery. No-op after close.
func (n *notifier) enqueue(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.queue = append(n.queue, fn)
	n.cond.Signal()
}

// close stops delivery and discards anything still queued. Safe to
// call more than once. A callback already executing runs to
// completion.
func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.closed = true
	n.queue = nil
	n.cond.Broadcast()
}

func (n *notifier) run() {
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.cond.Wait()
		}
		if n.closed {
			n.mu.Unlock()
			return
		}
		fn := n.queue[0]
		n.queue = n.queue[1:]
		n.mu.Unlock()

		fn()
	}
}
