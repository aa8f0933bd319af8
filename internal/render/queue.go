package render

import "sync"

// UserQueue serializes tasks per user. Each incoming trace's render work is
// queued behind the completion of the previous one, preserving emission order
// without a lock around the whole pipeline. Different users drain
// independently.
type UserQueue struct {
	mu      sync.Mutex
	queues  map[int64][]func()
	running map[int64]bool
}

func NewUserQueue() *UserQueue {
	return &UserQueue{
		queues:  make(map[int64][]func()),
		running: make(map[int64]bool),
	}
}

// Do enqueues task for the user and starts a drain goroutine if none is
// active. Tasks for one user run strictly FIFO.
func (q *UserQueue) Do(userID int64, task func()) {
	q.mu.Lock()
	q.queues[userID] = append(q.queues[userID], task)
	if q.running[userID] {
		q.mu.Unlock()
		return
	}
	q.running[userID] = true
	q.mu.Unlock()
	go q.drain(userID)
}

func (q *UserQueue) drain(userID int64) {
	for {
		q.mu.Lock()
		pending := q.queues[userID]
		if len(pending) == 0 {
			q.running[userID] = false
			delete(q.queues, userID)
			q.mu.Unlock()
			return
		}
		task := pending[0]
		q.queues[userID] = pending[1:]
		q.mu.Unlock()
		task()
	}
}
