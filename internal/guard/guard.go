// Package guard implements the time-bounded suppression markers used by the
// onboarding core: a cooldown after a successful confirmation and a dedup
// window while a prompt is outstanding.
//
// Markers are process-local. A restart clears them; persistent onboarding
// state lives in the store instead.
package guard

import (
	"strings"
	"sync"
	"time"

	"github.com/tbourn/rolegate/internal/clock"
)

// sweepEvery is how many mutating calls pass between opportunistic sweeps
// of expired markers.
const sweepEvery = 1024

// Key joins parts with a separator that cannot appear in platform ids, so
// ("a", "bc") and ("ab", "c") never collide.
func Key(parts ...string) string { return strings.Join(parts, "\x1f") }

// Guard is a set of keys with per-key expiry. The zero value is not usable;
// construct with New.
//
// Guard is safe for concurrent use.
type Guard struct {
	clk   clock.Clock
	mu    sync.Mutex
	marks map[string]time.Time
	ops   uint64
}

// New returns an empty Guard reading time from clk.
func New(clk clock.Clock) *Guard {
	return &Guard{clk: clk, marks: make(map[string]time.Time)}
}

// Guard marks key for ttl, replacing any earlier expiry. A non-positive ttl
// clears the key.
func (g *Guard) Guard(key string, ttl time.Duration) {
	now := g.clk.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked(now)
	if ttl <= 0 {
		delete(g.marks, key)
		return
	}
	g.marks[key] = now.Add(ttl)
}

// IsGuarded reports whether key is marked and not yet expired. Expired
// marks are evicted on read.
func (g *Guard) IsGuarded(key string) bool {
	now := g.clk.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeLocked(key, now)
}

// TryGuard marks key for ttl only if it is not already guarded, and reports
// whether it did. Check and set happen under one lock, so of two concurrent
// callers exactly one wins.
func (g *Guard) TryGuard(key string, ttl time.Duration) bool {
	now := g.clk.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked(now)
	if g.activeLocked(key, now) {
		return false
	}
	if ttl > 0 {
		g.marks[key] = now.Add(ttl)
	}
	return true
}

// Release clears key.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	delete(g.marks, key)
	g.mu.Unlock()
}

// Len returns the number of stored marks, including expired ones that have
// not been swept yet.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.marks)
}

func (g *Guard) activeLocked(key string, now time.Time) bool {
	exp, ok := g.marks[key]
	if !ok {
		return false
	}
	if !now.Before(exp) {
		delete(g.marks, key)
		return false
	}
	return true
}

func (g *Guard) sweepLocked(now time.Time) {
	g.ops++
	if g.ops < sweepEvery {
		return
	}
	g.ops = 0
	for k, exp := range g.marks {
		if !now.Before(exp) {
			delete(g.marks, k)
		}
	}
}
