package runtime

import (
	"sync"
	"time"
)

// Scheduler runs delayed tasks keyed by an id (a connection or an identity).
// Scheduling a key that already has a pending task replaces it.
// A cancelled or replaced task never runs, even if its timer already fired.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*scheduledTask
}

type scheduledTask struct {
	timer *time.Timer
}

func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[string]*scheduledTask)}
}

// Schedule arms fn to run once after delay under key.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) {
	task := &scheduledTask{}

	s.mu.Lock()
	defer s.mu.Unlock()

	if previous, ok := s.tasks[key]; ok {
		previous.timer.Stop()
	}
	s.tasks[key] = task
	task.timer = time.AfterFunc(delay, func() {
		// The timer may have fired while Cancel or a newer Schedule held the lock.
		// Only the task still registered under key is allowed to run.
		s.mu.Lock()
		if s.tasks[key] != task {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending task for key. It reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[key]
	if !ok {
		return false
	}
	task.timer.Stop()
	delete(s.tasks, key)
	return true
}

func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Stop cancels every pending task.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, task := range s.tasks {
		task.timer.Stop()
		delete(s.tasks, key)
	}
}
