package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/rolegate/internal/domain"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := fmt.Sprintf("file:store_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	s := NewSQLiteStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestRedisStore(t *testing.T, ns string) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := OpenRedis(context.Background(), "redis://"+mr.Addr(), WithNamespace(ns))
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func sampleConfig() *domain.CommunityConfig {
	cfg := &domain.CommunityConfig{}
	cfg.Flows.Put(domain.Flow{Name: "welcome", RoleID: "11", ChannelID: "21", Message: "Hi {user}"})
	cfg.Flows.Put(domain.Flow{Name: "rules", RoleID: "12", ChannelID: "22", Message: "Read {role}"})
	return cfg
}

// Every backend must satisfy the same collaborator contract.
func TestStoreContract(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return newTestSQLiteStore(t) },
		"redis": func(t *testing.T) Store {
			s, _ := newTestRedisStore(t, "")
			return s
		},
	}

	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := mk(t)

			if _, err := s.GetConfig(ctx, "g1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetConfig missing: err=%v; want ErrNotFound", err)
			}
			if set, err := s.GetOnboarding(ctx, "g1"); err != nil || len(set) != 0 {
				t.Fatalf("GetOnboarding missing: set=%v err=%v", set, err)
			}

			if err := s.SetConfig(ctx, "g1", sampleConfig()); err != nil {
				t.Fatalf("SetConfig: %v", err)
			}
			got, err := s.GetConfig(ctx, "g1")
			if err != nil {
				t.Fatalf("GetConfig: %v", err)
			}
			if names := got.Flows.Names(); !reflect.DeepEqual(names, []string{"welcome", "rules"}) {
				t.Fatalf("flow order = %v", names)
			}

			// Overwrite keeps a single record.
			upd := sampleConfig()
			upd.Flows.Remove("rules")
			if err := s.SetConfig(ctx, "g1", upd); err != nil {
				t.Fatalf("SetConfig overwrite: %v", err)
			}
			if got, _ := s.GetConfig(ctx, "g1"); got.Flows.Len() != 1 {
				t.Fatalf("overwrite not applied: %v", got.Flows.Names())
			}

			if err := s.SetOnboarding(ctx, "g1", domain.NewMemberSet("m1", "m2")); err != nil {
				t.Fatalf("SetOnboarding: %v", err)
			}
			if err := s.SetOnboarding(ctx, "g1", domain.NewMemberSet("m2", "m3")); err != nil {
				t.Fatalf("SetOnboarding replace: %v", err)
			}
			set, err := s.GetOnboarding(ctx, "g1")
			if err != nil {
				t.Fatalf("GetOnboarding: %v", err)
			}
			if !reflect.DeepEqual(set.Sorted(), []string{"m2", "m3"}) {
				t.Fatalf("onboarding = %v; want [m2 m3]", set.Sorted())
			}
			// Other communities are isolated.
			if other, _ := s.GetOnboarding(ctx, "g2"); len(other) != 0 {
				t.Fatalf("g2 leaked members: %v", other.Sorted())
			}

			if err := s.SetOnboarding(ctx, "g1", domain.MemberSet{}); err != nil {
				t.Fatalf("SetOnboarding empty: %v", err)
			}
			if set, _ := s.GetOnboarding(ctx, "g1"); len(set) != 0 {
				t.Fatalf("expected empty set, got %v", set.Sorted())
			}

			if err := s.DeleteConfig(ctx, "g1"); err != nil {
				t.Fatalf("DeleteConfig: %v", err)
			}
			if _, err := s.GetConfig(ctx, "g1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("after delete: err=%v", err)
			}
			if err := s.DeleteConfig(ctx, "g1"); err != nil {
				t.Fatalf("deleting a missing record should succeed: %v", err)
			}
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	members := domain.NewMemberSet("m1")
	_ = s.SetOnboarding(ctx, "g", members)
	members.Add("m2")
	got, _ := s.GetOnboarding(ctx, "g")
	got.Add("m3")
	again, _ := s.GetOnboarding(ctx, "g")
	if !reflect.DeepEqual(again.Sorted(), []string{"m1"}) {
		t.Fatalf("store shares set with callers: %v", again.Sorted())
	}
}

func TestRedisStore_KeyLayoutAndLegacyRecord(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t, "")

	// A record written by the single-flow bot.
	mr.Set("config:g9", `{"name":"welcome","roleId":"1","channelId":"2","message":"Hi {user}","lastMessageId":null}`)
	cfg, err := s.GetConfig(ctx, "g9")
	if err != nil {
		t.Fatalf("GetConfig legacy: %v", err)
	}
	if eff := cfg.Effective(); len(eff) != 1 || eff[0].Name != "welcome" {
		t.Fatalf("legacy effective = %+v", eff)
	}

	if err := s.SetOnboarding(ctx, "g9", domain.NewMemberSet("m1")); err != nil {
		t.Fatalf("SetOnboarding: %v", err)
	}
	if ok, _ := mr.SIsMember("onboarding:g9", "m1"); !ok {
		t.Fatalf("expected onboarding:g9 SET to contain m1; keys=%v", mr.Keys())
	}

	mr.Set("config:bad", "not json")
	if _, err := s.GetConfig(ctx, "bad"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("corrupt record should surface a decode error, got %v", err)
	}
}

func TestRedisStore_Namespace(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t, "rg")
	if err := s.SetConfig(ctx, "g1", sampleConfig()); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if !mr.Exists("rg:config:g1") {
		t.Fatalf("expected namespaced key; keys=%v", mr.Keys())
	}
}

func TestRedisStore_ClosedRejectsCalls(t *testing.T) {
	s, _ := newTestRedisStore(t, "")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.GetConfig(context.Background(), "g"); err == nil {
		t.Fatalf("expected error after close")
	}
}

func TestOpenRedis_Failures(t *testing.T) {
	if _, err := OpenRedis(context.Background(), "://nope"); err == nil {
		t.Fatalf("expected invalid URL error")
	}

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := OpenRedis(ctx, "redis://"+addr, WithConnectRetries(1)); err == nil {
		t.Fatalf("expected connect failure against a closed server")
	}
}

func TestUseTLS(t *testing.T) {
	cases := map[string]bool{
		"redis://localhost:6379":                      false,
		"rediss://cache.example.com:6380":             true,
		"redis://default:pw@roundhouse.proxy.rlwy.net": true,
	}
	for url, want := range cases {
		if got := UseTLS(url); got != want {
			t.Fatalf("UseTLS(%q) = %v; want %v", url, got, want)
		}
	}
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{step: retryStep, max: retryCap}
	want := []time.Duration{500 * time.Millisecond, time.Second, 1500 * time.Millisecond}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Fatalf("step %d = %v; want %v", i, got, w)
		}
	}
	for i := 0; i < 20; i++ {
		b.NextBackOff()
	}
	if got := b.NextBackOff(); got != retryCap {
		t.Fatalf("cap = %v; want %v", got, retryCap)
	}
	b.Reset()
	if got := b.NextBackOff(); got != retryStep {
		t.Fatalf("after reset = %v", got)
	}
}

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{})
	if err != nil {
		t.Fatalf("Open default: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("default backend = %T; want *MemoryStore", s)
	}

	path := filepath.Join(t.TempDir(), "rolegate.db")
	s, err = Open(ctx, Options{Backend: "SQLite", DBPath: path})
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if _, ok := s.(*SQLiteStore); !ok {
		t.Fatalf("backend = %T; want *SQLiteStore", s)
	}

	mr := miniredis.RunT(t)
	s, err = Open(ctx, Options{Backend: "redis", RedisURL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("Open redis: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if _, err := Open(ctx, Options{Backend: "etcd"}); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}
