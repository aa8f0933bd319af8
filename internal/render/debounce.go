package render

import (
	"sync"
	"time"
)

// Scheduler defers at most one task per key. Scheduling while a task is
// pending replaces it and restarts the delay, so only the latest task runs
// (trailing-edge debounce). Keys are user IDs in this pipeline.
type Scheduler struct {
	mu      sync.Mutex
	pending map[int64]*time.Timer
}

func NewScheduler() *Scheduler {
	return &Scheduler{pending: make(map[int64]*time.Timer)}
}

// Schedule replaces any pending task for key with task, to run after delay.
func (s *Scheduler) Schedule(key int64, delay time.Duration, task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.pending[key]; ok {
		timer.Stop()
	}
	s.pending[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		task()
	})
}

// Cancel drops the pending task for key, if any.
func (s *Scheduler) Cancel(key int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.pending[key]; ok {
		timer.Stop()
		delete(s.pending, key)
	}
}

// Pending reports whether a task is scheduled for key.
func (s *Scheduler) Pending(key int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}
