package domain

import (
	"sort"

	"github.com/bwmarrin/snowflake"
)

// MemberSet is the OnboardingState of one community: members whose gated
// role is withheld while a confirmation is outstanding.
type MemberSet map[string]struct{}

// NewMemberSet builds a set from ids.
func NewMemberSet(ids ...string) MemberSet {
	s := make(MemberSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership. A nil set is empty.
func (s MemberSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id and reports whether the set changed.
func (s MemberSet) Add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Remove deletes id and reports whether the set changed.
func (s MemberSet) Remove(id string) bool {
	if _, ok := s[id]; !ok {
		return false
	}
	delete(s, id)
	return true
}

// Sorted returns the ids in ascending order.
func (s MemberSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ValidID reports whether id is a platform snowflake: a positive 64-bit
// integer in decimal form.
func ValidID(id string) bool {
	n, err := snowflake.ParseString(id)
	return err == nil && n.Int64() > 0
}
