// Package repo implements the persistence collaborators of the onboarding
// core: the FlowStore (one CommunityConfig document per community) and the
// OnboardingSetStore (one member-id set per community).
//
// Three backends satisfy the same Store contract:
//
//   - MemoryStore: process-local maps, the default for single-instance runs.
//   - SQLiteStore: GORM over the pure-Go glebarez driver.
//   - RedisStore: go-redis, keyed as config:<community> (JSON string) and
//     onboarding:<community> (SET), compatible with records written by the
//     earlier single-flow bot.
//
// Error semantics:
//   - GetConfig returns ErrNotFound when no record exists.
//   - GetOnboarding returns an empty set when no record exists.
//   - Backend failures are returned wrapped; callers decide how to degrade.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/rolegate/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound so every backend reports absence the
// same way the SQLite backend does natively.
var ErrNotFound = gorm.ErrRecordNotFound

// FlowStore persists one CommunityConfig per community.
type FlowStore interface {
	GetConfig(ctx context.Context, communityID string) (*domain.CommunityConfig, error)
	SetConfig(ctx context.Context, communityID string, cfg *domain.CommunityConfig) error
	DeleteConfig(ctx context.Context, communityID string) error
}

// OnboardingStore persists the OnboardingState set of each community.
type OnboardingStore interface {
	GetOnboarding(ctx context.Context, communityID string) (domain.MemberSet, error)
	SetOnboarding(ctx context.Context, communityID string, members domain.MemberSet) error
}

// Store is the full persistence contract handed to the services.
type Store interface {
	FlowStore
	OnboardingStore
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend        string
	DBPath         string
	RedisURL       string
	RedisNamespace string
}

// Open builds the backend named by opts.Backend. An empty name selects the
// memory backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		db, err := OpenSQLite(opts.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", opts.DBPath, err)
		}
		if err := AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return NewSQLiteStore(db), nil
	case BackendRedis:
		return OpenRedis(ctx, opts.RedisURL, WithNamespace(opts.RedisNamespace))
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

// IsNotFound reports whether err means "no record".
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
