// Package scheduler runs keyed, cancellable one-shot tasks. The onboarding
// core uses it for the delayed role removal and the onboarding timeout, both
// of which must be cancelled when the member confirms first.
package scheduler

import (
	"sync"
	"time"

	"github.com/tbourn/rolegate/internal/clock"
)

type task struct {
	id    uint64
	timer *clock.Timer
}

// Scheduler holds at most one pending task per key.
//
// Scheduler is safe for concurrent use.
type Scheduler struct {
	clk     clock.Clock
	mu      sync.Mutex
	tasks   map[string]*task
	seq     uint64
	stopped bool
}

// New returns a Scheduler driven by clk.
func New(clk clock.Clock) *Scheduler {
	return &Scheduler{clk: clk, tasks: make(map[string]*task)}
}

// Schedule arranges for fn to run after d under key, replacing any task
// already pending under that key. With d <= 0 fn runs on the calling
// goroutine before Schedule returns. After Stop, Schedule is a no-op.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if prev, ok := s.tasks[key]; ok {
		prev.timer.Stop()
		delete(s.tasks, key)
	}
	if d <= 0 {
		s.mu.Unlock()
		fn()
		return
	}
	s.seq++
	t := &task{id: s.seq}
	id := t.id
	t.timer = s.clk.AfterFunc(d, func() {
		s.mu.Lock()
		cur, ok := s.tasks[key]
		if !ok || cur.id != id {
			// Replaced or cancelled after the timer was already due.
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.mu.Unlock()
		fn()
	})
	s.tasks[key] = t
	s.mu.Unlock()
}

// Cancel drops the task pending under key and reports whether there was one.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	return true
}

// Pending reports whether a task is waiting under key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every pending task and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for k, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, k)
	}
}
