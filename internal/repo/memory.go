package repo

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tbourn/rolegate/internal/domain"
)

// MemoryStore keeps configurations as encoded JSON so callers never share
// mutable state with the store, matching what a remote backend returns.
//
// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	configs    map[string][]byte
	onboarding map[string]domain.MemberSet
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:    make(map[string][]byte),
		onboarding: make(map[string]domain.MemberSet),
	}
}

func (s *MemoryStore) GetConfig(_ context.Context, communityID string) (*domain.CommunityConfig, error) {
	s.mu.RLock()
	raw, ok := s.configs[communityID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var cfg domain.CommunityConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *MemoryStore) SetConfig(_ context.Context, communityID string, cfg *domain.CommunityConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.configs[communityID] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteConfig(_ context.Context, communityID string) error {
	s.mu.Lock()
	delete(s.configs, communityID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetOnboarding(_ context.Context, communityID string) (domain.MemberSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.onboarding[communityID]
	out := make(domain.MemberSet, len(src))
	for id := range src {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *MemoryStore) SetOnboarding(_ context.Context, communityID string, members domain.MemberSet) error {
	cp := make(domain.MemberSet, len(members))
	for id := range members {
		cp[id] = struct{}{}
	}
	s.mu.Lock()
	if len(cp) == 0 {
		delete(s.onboarding, communityID)
	} else {
		s.onboarding[communityID] = cp
	}
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

var _ Store = (*MemoryStore)(nil)
