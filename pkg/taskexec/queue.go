package taskexec

import (
	"container/list"
	"sync"
)

// Unbounded FIFO of thread-shared task trackers.
// Workers re-queue trackers themselves, so the queue must never block a put.
type trackerQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *list.List
	closed bool
}

func newTrackerQueue() *trackerQueue {
	q := &trackerQueue{items: list.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Returns false if the queue is closed.
func (q *trackerQueue) put(t *taskTracker) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items.PushBack(t)
	q.cond.Signal()
	return true
}

// Blocks until a tracker is available. Returns false once the queue is closed.
func (q *trackerQueue) take() (*taskTracker, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	return q.items.Remove(q.items.Front()).(*taskTracker), true
}

func (q *trackerQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Closes the queue and returns the trackers that were still queued.
func (q *trackerQueue) close() []*taskTracker {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := make([]*taskTracker, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		drained = append(drained, e.Value.(*taskTracker))
	}

	q.closed = true
	q.items.Init()
	q.cond.Broadcast()
	return drained
}
