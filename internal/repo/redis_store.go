package repo

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/rolegate/internal/domain"
)

const (
	defaultConnectRetries = 10
	retryStep             = 500 * time.Millisecond
	retryCap              = 5 * time.Second
)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithNamespace prefixes every key with ns + ":". An empty ns keeps the bare
// config:<id> / onboarding:<id> layout.
func WithNamespace(ns string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = ""
		if ns = strings.TrimSpace(ns); ns != "" {
			s.prefix = ns + ":"
		}
	}
}

// WithConnectRetries bounds the connection attempts made by OpenRedis.
func WithConnectRetries(n uint64) RedisOption {
	return func(s *RedisStore) { s.retries = n }
}

// RedisStore keeps each configuration as a JSON string and each onboarding
// set as a Redis SET.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	retries uint64
	closed  atomic.Bool
}

// linearBackOff waits n*step before the n-th retry, capped at max.
type linearBackOff struct {
	step, max time.Duration
	n         int64
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	d := time.Duration(b.n) * b.step
	if d > b.max {
		d = b.max
	}
	return d
}

func (b *linearBackOff) Reset() { b.n = 0 }

// UseTLS reports whether a Redis URL needs TLS: either the rediss scheme or
// a Railway public proxy host.
func UseTLS(redisURL string) bool {
	return strings.HasPrefix(redisURL, "rediss://") || strings.Contains(redisURL, ".proxy.rlwy.net")
}

// OpenRedis parses redisURL, connects, and verifies the connection with
// PING, retrying with a linear backoff until ctx ends or the retry budget
// runs out.
func OpenRedis(ctx context.Context, redisURL string, opts ...RedisOption) (*RedisStore, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if UseTLS(redisURL) && ropts.TLSConfig == nil {
		host := ropts.Addr
		if i := strings.LastIndex(host, ":"); i > 0 {
			host = host[:i]
		}
		ropts.TLSConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}
	ropts.MinRetryBackoff = retryStep
	ropts.MaxRetryBackoff = retryCap

	s := &RedisStore{client: redis.NewClient(ropts), retries: defaultConnectRetries}
	for _, o := range opts {
		o(s)
	}

	logger := log.With().Str("component", "redis").Str("addr", ropts.Addr).Bool("tls", ropts.TLSConfig != nil).Logger()
	logger.Info().Msg("connecting to redis")

	attempt := 0
	ping := func() error {
		attempt++
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := s.client.Ping(pctx).Err()
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("redis ping failed, reconnecting")
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{step: retryStep, max: retryCap}, s.retries), ctx)
	if err := backoff.Retry(ping, bo); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	logger.Info().Msg("redis client connected")
	return s, nil
}

// NewRedisStore wraps an existing client without probing it.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, retries: defaultConnectRetries}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RedisStore) configKey(id string) string     { return s.prefix + "config:" + id }
func (s *RedisStore) onboardingKey(id string) string { return s.prefix + "onboarding:" + id }

var errStoreClosed = errors.New("redis store is closed")

// GetConfig reads config:<community>, or ErrNotFound.
func (s *RedisStore) GetConfig(ctx context.Context, communityID string) (*domain.CommunityConfig, error) {
	if s.closed.Load() {
		return nil, errStoreClosed
	}
	raw, err := s.client.Get(ctx, s.configKey(communityID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	var cfg domain.CommunityConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// SetConfig writes config:<community>.
func (s *RedisStore) SetConfig(ctx context.Context, communityID string, cfg *domain.CommunityConfig) error {
	if s.closed.Load() {
		return errStoreClosed
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := s.client.Set(ctx, s.configKey(communityID), raw, 0).Err(); err != nil {
		return fmt.Errorf("set config: %w", err)
	}
	return nil
}

// DeleteConfig removes config:<community>.
func (s *RedisStore) DeleteConfig(ctx context.Context, communityID string) error {
	if s.closed.Load() {
		return errStoreClosed
	}
	if err := s.client.Del(ctx, s.configKey(communityID)).Err(); err != nil {
		return fmt.Errorf("delete config: %w", err)
	}
	return nil
}

// GetOnboarding returns SMEMBERS onboarding:<community>.
func (s *RedisStore) GetOnboarding(ctx context.Context, communityID string) (domain.MemberSet, error) {
	if s.closed.Load() {
		return nil, errStoreClosed
	}
	ids, err := s.client.SMembers(ctx, s.onboardingKey(communityID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get onboarding: %w", err)
	}
	return domain.NewMemberSet(ids...), nil
}

// SetOnboarding replaces onboarding:<community> atomically (MULTI/EXEC).
func (s *RedisStore) SetOnboarding(ctx context.Context, communityID string, members domain.MemberSet) error {
	if s.closed.Load() {
		return errStoreClosed
	}
	key := s.onboardingKey(communityID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			ids := members.Sorted()
			args := make([]interface{}, len(ids))
			for i, id := range ids {
				args[i] = id
			}
			pipe.SAdd(ctx, key, args...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set onboarding: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client. Further calls fail.
func (s *RedisStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
