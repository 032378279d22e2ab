package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock. Time stands still until Advance
// is called; AfterFunc callbacks then run synchronously on the advancing
// goroutine in deadline order, and After channels receive without
// blocking.
//
// Callbacks must not call Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	waiters []*waiter
	changed *sync.Cond
}

type waiter struct {
	id       uint64
	deadline time.Time
	ch       chan time.Time
	fn       func()
	done     bool
}

// Fake returns a FakeClock set to start.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a one-shot waiter.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.addLocked(&waiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

// AfterFunc registers f. With d <= 0, f runs before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}
	c.mu.Lock()
	w := &waiter{deadline: c.now.Add(d), fn: f}
	c.addLocked(w)
	c.mu.Unlock()
	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.done {
			return false
		}
		w.done = true
		c.changed.Broadcast()
		return true
	}}
}

// Sleep blocks until the clock has been advanced past d.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

func (c *FakeClock) addLocked(w *waiter) {
	c.seq++
	w.id = c.seq
	c.waiters = append(c.waiters, w)
	c.changed.Broadcast()
}

// Advance moves time forward by d and fires every waiter whose deadline
// has been reached. Waiters registered by callbacks are honoured when
// their deadline also falls inside the advanced window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.collect(target)
		if len(due) == 0 {
			return
		}
		for _, w := range due {
			if w.fn != nil {
				w.fn()
				continue
			}
			select {
			case w.ch <- target:
			default:
			}
		}
	}
}

func (c *FakeClock) collect(target time.Time) []*waiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	var due, keep []*waiter
	for _, w := range c.waiters {
		switch {
		case w.done:
		case !w.deadline.After(target):
			w.done = true
			due = append(due, w)
		default:
			keep = append(keep, w)
		}
	}
	c.waiters = keep
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	if len(due) > 0 {
		c.changed.Broadcast()
	}
	return due
}

// Pending returns the number of registered waiters that have not fired or
// been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, w := range c.waiters {
		if !w.done {
			n++
		}
	}
	return n
}

// WaitForTimers blocks until at least n waiters are pending. It closes the
// race between a goroutine registering a timer and a test advancing past
// it.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}
