package queue

import (
	"sync"

	"github.com/sirupsen/logrus"

	"sitemirror/pkg/models"
)

// ResourceQueue is a thread-safe FIFO queue of resource tasks. Resources
// have no depth ordering; discovery order is good enough.
type ResourceQueue struct {
	items  []*models.ResourceTask
	mu     sync.Mutex
	cond   *sync.Cond
	closed bool
	log    *logrus.Logger
}

// NewResourceQueue creates a new thread-safe resource queue
func NewResourceQueue(logger *logrus.Logger) *ResourceQueue {
	q := &ResourceQueue{log: logger}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add appends a resource task to the queue
func (q *ResourceQueue) Add(task *models.ResourceTask) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.Warnf("Attempted to add resource to closed queue: %s", task.URL)
		return
	}

	q.items = append(q.items, task)
	q.cond.Signal()
}

// Pop retrieves and removes the oldest resource task, blocking while the
// queue is empty. Returns nil and false once the queue is closed and drained.
func (q *ResourceQueue) Pop() (*models.ResourceTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}

	if len(q.items) == 0 && q.closed {
		return nil, false
	}

	task := q.items[0]
	q.items[0] = nil // avoid memory leak
	q.items = q.items[1:]
	return task, true
}

// Close signals that no more items will be added to the queue
func (q *ResourceQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
}

// Len returns the current number of items in the queue (thread-safe)
func (q *ResourceQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
