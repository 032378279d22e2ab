package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/rolegate/internal/clock"
	"github.com/tbourn/rolegate/internal/domain"
	"github.com/tbourn/rolegate/internal/repo"
)

// ----- Fake platform -----

type sentPrompt struct {
	Channel string
	Prompt  Prompt
}

type roleCall struct {
	Community, Member, Role string
}

type permErr struct{ msg string }

func (e permErr) Error() string   { return e.msg }
func (e permErr) Permanent() bool { return true }

type fakePlatform struct {
	mu sync.Mutex

	prompts  []sentPrompt
	added    []roleCall
	removed  []roleCall
	hidden   []string // channel|member
	directs  []string
	posts    []string
	sendErr  func(channel string) error
	addErr   error
	addFails int // transient AddRole failures before success
}

func (p *fakePlatform) SendPrompt(_ context.Context, channelID string, pr Prompt) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		if err := p.sendErr(channelID); err != nil {
			return "", err
		}
	}
	p.prompts = append(p.prompts, sentPrompt{Channel: channelID, Prompt: pr})
	return "msg-" + channelID, nil
}

func (p *fakePlatform) AddRole(_ context.Context, c, m, r string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, roleCall{c, m, r})
	if p.addFails > 0 {
		p.addFails--
		return errors.New("gateway hiccup")
	}
	return p.addErr
}

func (p *fakePlatform) RemoveRole(_ context.Context, c, m, r string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, roleCall{c, m, r})
	return nil
}

func (p *fakePlatform) SetChannelVisibility(_ context.Context, channelID, memberID string, visible bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !visible {
		p.hidden = append(p.hidden, channelID+"|"+memberID)
	}
	return nil
}

func (p *fakePlatform) SendDirect(_ context.Context, memberID, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.directs = append(p.directs, memberID+"|"+content)
	return nil
}

func (p *fakePlatform) PostMessage(_ context.Context, channelID, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, channelID+"|"+content)
	return nil
}

func (p *fakePlatform) promptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

func (p *fakePlatform) prompt(i int) sentPrompt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prompts[i]
}

func (p *fakePlatform) addedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.added)
}

func (p *fakePlatform) removedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.removed)
}

// ----- Failing store -----

type brokenStateStore struct {
	*repo.MemoryStore
	sets int
}

func (s *brokenStateStore) GetOnboarding(context.Context, string) (domain.MemberSet, error) {
	return nil, errors.New("redis down")
}

func (s *brokenStateStore) SetOnboarding(ctx context.Context, c string, m domain.MemberSet) error {
	s.sets++
	return s.MemoryStore.SetOnboarding(ctx, c, m)
}

// ----- Fixtures -----

const (
	gid   = "100"
	mid   = "200"
	roleA = "300"
	roleB = "301"
	chanA = "400"
	chanB = "401"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	ob    *Onboarding
	store *repo.MemoryStore
	plat  *fakePlatform
	clk   *clock.FakeClock
}

func newHarness(t *testing.T, opts Options, flows ...domain.Flow) *harness {
	t.Helper()
	st := repo.NewMemoryStore()
	if len(flows) > 0 {
		cfg := &domain.CommunityConfig{Flows: domain.NewFlowSet(flows...)}
		if err := st.SetConfig(context.Background(), gid, cfg); err != nil {
			t.Fatalf("seed config: %v", err)
		}
	}
	h := &harness{store: st, plat: &fakePlatform{}, clk: clock.Fake(epoch)}
	h.ob = NewOnboarding(st, h.plat, h.clk, opts)
	t.Cleanup(h.ob.Close)
	return h
}

func welcomeFlow() domain.Flow {
	return domain.Flow{Name: "welcome", RoleID: roleA, ChannelID: chanA, Message: "Hi {user}, welcome!"}
}

func rulesFlow() domain.Flow {
	return domain.Flow{Name: "rules", RoleID: roleB, ChannelID: chanB, Message: "Read the rules, {user}."}
}

func grant(roles ...string) domain.RoleChangeEvent {
	return domain.RoleChangeEvent{Community: gid, Member: mid, Current: roles}
}

func (h *harness) onboarding(t *testing.T) domain.MemberSet {
	t.Helper()
	set, err := h.store.GetOnboarding(context.Background(), gid)
	if err != nil {
		t.Fatalf("GetOnboarding: %v", err)
	}
	return set
}

func (h *harness) confirm(t *testing.T, actor string, i int) (Reply, error) {
	t.Helper()
	return h.ob.HandleConfirmation(context.Background(), domain.ConfirmationEvent{
		Community: gid, Actor: actor, Token: h.plat.prompt(i).Prompt.Token,
	})
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
