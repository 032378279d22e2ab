package services

import (
	"sort"
	"strings"
	"sync"

	"github.com/tbourn/rolegate/internal/guard"
)

// ledger records, per (community, member), which flows have a withheld role
// and an outstanding confirmation in this process. OnboardingState is the
// persisted projection: a member stays in it while their ledger entry is
// non-empty.
type ledger struct {
	mu      sync.Mutex
	pending map[string]map[string]struct{}
}

func newLedger() *ledger {
	return &ledger{pending: make(map[string]map[string]struct{})}
}

// add records flow and reports whether it was new.
func (l *ledger) add(community, member, flow string) bool {
	k := guard.Key(community, member)
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.pending[k]
	if !ok {
		set = make(map[string]struct{})
		l.pending[k] = set
	}
	if _, dup := set[flow]; dup {
		return false
	}
	set[flow] = struct{}{}
	return true
}

// remove drops flow and returns how many flows remain pending for the
// member.
func (l *ledger) remove(community, member, flow string) int {
	k := guard.Key(community, member)
	l.mu.Lock()
	defer l.mu.Unlock()
	set := l.pending[k]
	delete(set, flow)
	if len(set) == 0 {
		delete(l.pending, k)
		return 0
	}
	return len(set)
}

func (l *ledger) has(community, member, flow string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[guard.Key(community, member)][flow]
	return ok
}

func (l *ledger) count(community, member string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending[guard.Key(community, member)])
}

// flows returns the pending flow names in sorted order.
func (l *ledger) flows(community, member string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := l.pending[guard.Key(community, member)]
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// clear drops every pending flow of the member and returns them.
func (l *ledger) clear(community, member string) []string {
	out := l.flows(community, member)
	l.mu.Lock()
	delete(l.pending, guard.Key(community, member))
	l.mu.Unlock()
	return out
}

// members returns the members of community with at least one pending
// flow, sorted.
func (l *ledger) members(community string) []string {
	prefix := guard.Key(community, "")
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for k := range l.pending {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k[len(prefix):])
		}
	}
	sort.Strings(out)
	return out
}
