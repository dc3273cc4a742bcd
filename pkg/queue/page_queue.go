package queue

import (
	"container/heap"
	"sync"

	"github.com/sirupsen/logrus"

	"sitemirror/pkg/models"
)

// --- Priority Queue Implementation ---

// pqItem represents an item in the priority queue
type pqItem struct {
	task     *models.PageTask
	priority int // Lower value means higher priority (e.g., Depth)
	index    int // The index of the item in the heap (required by heap interface)
}

// pageHeap implements heap.Interface
type pageHeap []*pqItem

func (pq pageHeap) Len() int { return len(pq) }

func (pq pageHeap) Less(i, j int) bool {
	// Pop should return the item with the smallest priority value (lowest depth)
	return pq[i].priority < pq[j].priority
}

func (pq pageHeap) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

// Push adds an element to the heap
func (pq *pageHeap) Push(x any) {
	n := len(*pq)
	item := x.(*pqItem)
	item.index = n
	*pq = append(*pq, item)
}

// Pop removes and returns the highest priority element (minimum value) from the heap
func (pq *pageHeap) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}

// PageQueue is a thread-safe priority queue of page tasks ordered by
// depth, so shallower pages are fetched first.
type PageQueue struct {
	pq     pageHeap
	mu     sync.Mutex
	cond   *sync.Cond // Condition variable to wait for items
	closed bool
	log    *logrus.Logger
}

// NewPageQueue creates a new thread-safe page queue
func NewPageQueue(logger *logrus.Logger) *PageQueue {
	q := &PageQueue{log: logger}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.pq)
	return q
}

// Add pushes a page task onto the queue with priority based on depth
func (q *PageQueue) Add(task *models.PageTask) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.Warnf("Attempted to add page to closed queue: %s", task.URL)
		return
	}

	item := &pqItem{
		task:     task,
		priority: task.Depth, // Lower depth = higher priority
	}
	heap.Push(&q.pq, item)
	q.cond.Signal() // Signal one waiting worker that an item is available
}

// Pop retrieves and removes the shallowest page task
// It blocks if the queue is empty until an item is added or the queue is closed
// Returns the task and true, or nil and false if the queue is closed and empty
func (q *PageQueue) Pop() (*models.PageTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Wait while the queue is empty AND not closed
	for len(q.pq) == 0 {
		if q.closed {
			return nil, false // Queue closed and empty, signal worker to exit
		}
		q.cond.Wait()
	}

	// Re-check after waking up, in case Close() was called concurrently
	if len(q.pq) == 0 && q.closed {
		return nil, false
	}

	item := heap.Pop(&q.pq).(*pqItem)
	return item.task, true
}

// Close signals that no more items will be added to the queue
func (q *PageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast() // Wake up ALL waiting workers so they can check the closed status
	}
}

// Len returns the current number of items in the queue (thread-safe)
func (q *PageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pq)
}
