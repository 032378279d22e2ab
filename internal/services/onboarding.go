// Package services – Onboarding
//
// This file implements the trigger side of the onboarding state machine.
// A role grant that matches a configured flow is intercepted: the member is
// prompted in the flow's channel, the gated role is withheld, and the member
// is recorded in OnboardingState until they confirm (see confirm.go).
//
// Re-delivery of the same event, and the event produced by the bot's own
// re-grant after a confirmation, are absorbed by the dedup and cooldown
// guards rather than treated as errors.
//
// Observability: public methods open OpenTelemetry spans carrying the
// community and member ids; outcomes are counted in observability metrics.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/rolegate/internal/clock"
	"github.com/tbourn/rolegate/internal/domain"
	"github.com/tbourn/rolegate/internal/guard"
	"github.com/tbourn/rolegate/internal/observability"
	"github.com/tbourn/rolegate/internal/repo"
	"github.com/tbourn/rolegate/internal/scheduler"
)

const tracerName = "services/Onboarding"

// Options tunes the onboarding state machine. Zero durations disable the
// corresponding timer; CooldownTTL and DedupTTL fall back to defaults.
type Options struct {
	CooldownTTL    time.Duration
	DedupTTL       time.Duration
	RemovalDelay   time.Duration
	Timeout        time.Duration
	ActionTimeout  time.Duration
	RestoreRetries int

	Reflow       bool
	ConfirmLabel string

	DMCopy        bool
	RevokeChannel bool
	AuditLog      bool

	Sequence         bool
	SequenceDebounce time.Duration
	SequenceSpacing  time.Duration
	SequenceWait     time.Duration
}

func (o Options) withDefaults() Options {
	if o.CooldownTTL <= 0 {
		o.CooldownTTL = 10 * time.Second
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = 30 * time.Second
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = 30 * time.Second
	}
	if o.ConfirmLabel == "" {
		o.ConfirmLabel = "I have read this"
	}
	return o
}

// Onboarding drives flows through prompt → withheld → confirmed.
//
// Onboarding is safe for concurrent use. Events for one community may be
// handled on any goroutine; shared state is either guarded here or
// tolerated as last-write-wins in the store.
type Onboarding struct {
	store    Store
	platform Platform
	clk      clock.Clock
	opts     Options

	guard  *guard.Guard
	tasks  *scheduler.Scheduler
	ledger *ledger
	seq    *Sequencer

	// stateMu serializes the read-modify-write of OnboardingState done by
	// this process. Other processes are not coordinated.
	stateMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

// NewOnboarding wires the core. When opts.Sequence is set, multi-flow
// grants go through a Sequencer owned by the returned value.
func NewOnboarding(store Store, platform Platform, clk clock.Clock, opts Options) *Onboarding {
	if clk == nil {
		clk = clock.Real()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Onboarding{
		store:    store,
		platform: platform,
		clk:      clk,
		opts:     opts.withDefaults(),
		guard:    guard.New(clk),
		tasks:    scheduler.New(clk),
		ledger:   newLedger(),
		ctx:      ctx,
		cancel:   cancel,
		log:      log.With().Str("component", "onboarding").Logger(),
	}
	if o.opts.Sequence {
		o.seq = NewSequencer(clk, SequencerOptions{
			Debounce: o.opts.SequenceDebounce,
			Spacing:  o.opts.SequenceSpacing,
			Wait:     o.opts.SequenceWait,
		}, SequencerHooks{
			Queued:  o.withhold,
			Send:    o.sendQueued,
			Dropped: o.dropQueued,
		})
	}
	return o
}

// Sequencer returns the sequencer, or nil when sequencing is disabled.
func (o *Onboarding) Sequencer() *Sequencer { return o.seq }

// Close stops the sequencer and every scheduled task.
func (o *Onboarding) Close() {
	o.cancel()
	if o.seq != nil {
		o.seq.Close()
	}
	o.tasks.Stop()
}

// Dispatch routes a platform event to its handler.
func (o *Onboarding) Dispatch(ctx context.Context, ev domain.Event) (Reply, error) {
	switch e := ev.(type) {
	case domain.RoleChangeEvent:
		return Reply{}, o.HandleRoleChange(ctx, e)
	case domain.ConfirmationEvent:
		return o.HandleConfirmation(ctx, e)
	default:
		return Reply{}, fmt.Errorf("unsupported event %T", ev)
	}
}

// HandleRoleChange evaluates every configured flow whose gated role was
// added by ev. Admitted flows are prompted directly, or handed to the
// sequencer when sequencing is enabled. A failure in one flow never stops
// the others; the returned error joins the per-flow failures, all of which
// are already logged.
func (o *Onboarding) HandleRoleChange(ctx context.Context, ev domain.RoleChangeEvent) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "HandleRoleChange",
		trace.WithAttributes(
			attribute.String("community.id", ev.Community),
			attribute.String("member.id", ev.Member),
		),
	)
	defer span.End()

	added := ev.Added()
	if len(added) == 0 {
		return nil
	}
	cfg := o.loadConfig(ctx, ev.Community)
	if cfg == nil {
		return nil
	}

	addedSet := make(map[string]struct{}, len(added))
	for _, r := range added {
		addedSet[r] = struct{}{}
	}

	var admitted []domain.Flow
	for _, f := range cfg.Effective() {
		if _, ok := addedSet[f.RoleID]; !ok {
			continue
		}
		if o.admit(ctx, ev, f) {
			admitted = append(admitted, f)
		}
	}
	span.SetAttributes(attribute.Int("flows.admitted", len(admitted)))
	if len(admitted) == 0 {
		return nil
	}

	if o.seq != nil {
		accepted := o.seq.Enqueue(ctx, ev.Community, ev.Member, admitted...)
		span.SetAttributes(attribute.Int("flows.queued", len(accepted)))
		return nil
	}

	var errs []error
	for _, f := range admitted {
		if err := o.prompt(ctx, ev.Community, ev.Member, f); err != nil {
			errs = append(errs, fmt.Errorf("flow %q: %w", f.Name, err))
			continue
		}
		o.withhold(ctx, ev.Community, ev.Member, f)
		o.scheduleExpiry(ev.Community, ev.Member, f)
	}
	return errors.Join(errs...)
}

// admit applies the guards in order: cooldown, in-progress, dedup. A flow
// already in progress gets its role withheld again whenever the event shows
// the member holding it. The dedup mark only keeps concurrent copies of one
// event from prompting twice; admit claims it when it returns true.
func (o *Onboarding) admit(ctx context.Context, ev domain.RoleChangeEvent, f domain.Flow) bool {
	lg := o.log.With().Str("community", ev.Community).Str("member", ev.Member).Str("flow", f.Name).Logger()

	if o.guard.IsGuarded(cooldownKey(ev.Community, ev.Member, f.RoleID)) {
		lg.Debug().Msg("trigger suppressed: cooldown after confirmation")
		observability.Suppressed.WithLabelValues(observability.SuppressedCooldown).Inc()
		return false
	}

	if o.inProgress(ctx, ev.Community, ev.Member, f.Name) {
		lg.Debug().Msg("trigger suppressed: flow already in progress")
		observability.Suppressed.WithLabelValues(observability.SuppressedInProgress).Inc()
		// A pending delayed removal takes the role away on its own.
		if ev.Holds(f.RoleID) && !o.tasks.Pending(removalKey(ev.Community, ev.Member, f.Name)) {
			if err := o.removeRole(ctx, ev.Community, ev.Member, f.RoleID); err != nil {
				lg.Error().Err(err).Msg("re-removing gated role failed")
			} else {
				lg.Info().Msg("gated role re-removed from member already onboarding")
			}
		}
		return false
	}

	if !o.guard.TryGuard(dedupKey(ev.Community, ev.Member, f.Name), o.opts.DedupTTL) {
		lg.Debug().Msg("trigger suppressed: duplicate event")
		observability.Suppressed.WithLabelValues(observability.SuppressedDuplicate).Inc()
		return false
	}
	return true
}

// inProgress reports whether the member already awaits confirmation of
// flow. The ledger is authoritative while it knows the member; after a
// restart only OnboardingState is left, and membership there counts as in
// progress for every flow.
func (o *Onboarding) inProgress(ctx context.Context, community, member, flow string) bool {
	if o.ledger.has(community, member, flow) {
		return true
	}
	if o.ledger.count(community, member) > 0 {
		return false
	}
	if o.seq != nil && o.seq.Has(community, member, flow) {
		return true
	}
	set, err := o.store.GetOnboarding(ctx, community)
	if err != nil {
		o.log.Error().Err(err).Str("community", community).Msg("reading onboarding state failed; treating as empty")
		return false
	}
	return set.Has(member)
}

// prompt renders and posts the onboarding message for f. On failure the
// dedup mark is released so the next event can retry, and nothing else
// changes.
func (o *Onboarding) prompt(ctx context.Context, community, member string, f domain.Flow) error {
	lg := o.log.With().Str("community", community).Str("member", member).Str("flow", f.Name).Logger()

	token, err := domain.EncodeConfirmToken(f.Name, member)
	if err != nil {
		o.guard.Release(dedupKey(community, member, f.Name))
		observability.Prompts.WithLabelValues(observability.PromptFailed).Inc()
		lg.Error().Err(err).Msg("encoding confirmation token failed")
		return err
	}
	msg := Prompt{
		Content: Render(f.Message, member, f.RoleID, o.opts.Reflow),
		Token:   token,
		Label:   o.opts.ConfirmLabel,
	}

	actx, cancel := context.WithTimeout(ctx, o.opts.ActionTimeout)
	defer cancel()
	msgID, err := o.platform.SendPrompt(actx, f.ChannelID, msg)
	if err != nil {
		o.guard.Release(dedupKey(community, member, f.Name))
		observability.Prompts.WithLabelValues(observability.PromptFailed).Inc()
		lg.Error().Err(err).Str("channel", f.ChannelID).Msg("posting onboarding message failed")
		return err
	}
	observability.Prompts.WithLabelValues(observability.PromptSent).Inc()
	lg.Info().Str("channel", f.ChannelID).Str("message_id", msgID).Msg("onboarding message posted")
	return nil
}

// withhold records the flow as pending, adds the member to
// OnboardingState, and removes the gated role now or after RemovalDelay.
// Sequenced flows are withheld when queued, before their message is posted.
func (o *Onboarding) withhold(ctx context.Context, community, member string, f domain.Flow) {
	o.ledger.add(community, member, f.Name)
	o.markOnboarding(ctx, community, member)

	if o.opts.RemovalDelay <= 0 {
		o.withholdRole(ctx, community, member, f)
	} else {
		o.tasks.Schedule(removalKey(community, member, f.Name), o.opts.RemovalDelay, func() {
			o.withholdRole(o.ctx, community, member, f)
		})
	}
}

// scheduleExpiry starts the Timeout clock for f once its message is posted.
func (o *Onboarding) scheduleExpiry(community, member string, f domain.Flow) {
	if o.opts.Timeout <= 0 {
		return
	}
	o.tasks.Schedule(expiryKey(community, member, f.Name), o.opts.Timeout, func() {
		o.expire(community, member, f)
	})
}

func (o *Onboarding) withholdRole(ctx context.Context, community, member string, f domain.Flow) {
	lg := o.log.With().Str("community", community).Str("member", member).Str("flow", f.Name).Logger()
	if err := o.removeRole(ctx, community, member, f.RoleID); err != nil {
		lg.Error().Err(err).Str("role", f.RoleID).Msg("withholding gated role failed")
		return
	}
	lg.Info().Str("role", f.RoleID).Msg("gated role withheld until confirmation")
}

// expire force-ends an unconfirmed flow. The role stays withheld; a later
// confirmation still restores it. A sequenced member moves on to the next
// queued flow.
func (o *Onboarding) expire(community, member string, f domain.Flow) {
	if !o.ledger.has(community, member, f.Name) {
		return
	}
	if o.seq != nil {
		o.seq.Resolve(community, member, f.Name)
	}
	if o.ledger.remove(community, member, f.Name) == 0 {
		o.unmarkOnboarding(o.ctx, community, member)
	}
	o.guard.Release(dedupKey(community, member, f.Name))
	observability.Expired.Inc()
	o.log.Warn().Str("community", community).Str("member", member).Str("flow", f.Name).
		Msg("onboarding expired without confirmation")
}

// sendQueued is the sequencer's send step for one entry. The entry was
// withheld when it was queued, so a failed post undoes that: the member is
// released from the flow and the role handed back behind a cooldown.
func (o *Onboarding) sendQueued(ctx context.Context, community, member string, f domain.Flow) error {
	err := o.prompt(ctx, community, member, f)
	if err == nil {
		o.scheduleExpiry(community, member, f)
		return nil
	}
	o.tasks.Cancel(removalKey(community, member, f.Name))
	if o.ledger.remove(community, member, f.Name) == 0 {
		o.unmarkOnboarding(ctx, community, member)
	}
	o.guard.Guard(cooldownKey(community, member, f.RoleID), o.opts.CooldownTTL)
	if rerr := o.restoreRole(ctx, community, member, f.RoleID); rerr != nil {
		o.log.Error().Err(rerr).Str("community", community).Str("member", member).Str("flow", f.Name).
			Msg("handing back withheld role after failed post failed")
	}
	return err
}

// dropQueued handles entries the sequencer abandoned after a confirmation
// wait timed out. Their roles stay withheld until an administrator
// releases the member.
func (o *Onboarding) dropQueued(community, member string, dropped []domain.Flow) {
	names := make([]string, 0, len(dropped))
	for _, f := range dropped {
		names = append(names, f.Name)
		o.ledger.remove(community, member, f.Name)
		o.tasks.Cancel(expiryKey(community, member, f.Name))
		o.guard.Release(dedupKey(community, member, f.Name))
	}
	o.log.Warn().Str("community", community).Str("member", member).Strs("dropped", names).
		Msg("confirmation wait timed out; remaining queued flows dropped and their roles left withheld")
}

// loadConfig returns the community's configuration, or nil when there is
// none or the store is unavailable.
func (o *Onboarding) loadConfig(ctx context.Context, community string) *domain.CommunityConfig {
	cfg, err := o.store.GetConfig(ctx, community)
	if err == nil {
		return cfg
	}
	if !repo.IsNotFound(err) {
		o.log.Error().Err(err).Str("community", community).Msg("reading flow configuration failed; treating as unconfigured")
	}
	return nil
}

// markOnboarding adds member to OnboardingState. A failed read skips the
// write so an unreadable set is never overwritten.
func (o *Onboarding) markOnboarding(ctx context.Context, community, member string) {
	o.updateOnboarding(ctx, community, func(s domain.MemberSet) bool { return s.Add(member) })
}

// unmarkOnboarding removes member from OnboardingState.
func (o *Onboarding) unmarkOnboarding(ctx context.Context, community, member string) {
	o.updateOnboarding(ctx, community, func(s domain.MemberSet) bool { return s.Remove(member) })
}

func (o *Onboarding) updateOnboarding(ctx context.Context, community string, mutate func(domain.MemberSet) bool) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	set, err := o.store.GetOnboarding(ctx, community)
	if err != nil {
		o.log.Error().Err(err).Str("community", community).Msg("reading onboarding state failed; update skipped")
		return
	}
	if set == nil {
		set = domain.MemberSet{}
	}
	if !mutate(set) {
		return
	}
	if err := o.store.SetOnboarding(ctx, community, set); err != nil {
		o.log.Error().Err(err).Str("community", community).Msg("writing onboarding state failed")
	}
}

func (o *Onboarding) removeRole(ctx context.Context, community, member, role string) error {
	actx, cancel := context.WithTimeout(ctx, o.opts.ActionTimeout)
	defer cancel()
	return o.platform.RemoveRole(actx, community, member, role)
}

func cooldownKey(community, member, role string) string {
	return guard.Key("cooldown", community, member, role)
}

func dedupKey(community, member, flow string) string {
	return guard.Key("dedup", community, member, flow)
}

func removalKey(community, member, flow string) string {
	return guard.Key("withhold", community, member, flow)
}

func expiryKey(community, member, flow string) string {
	return guard.Key("expire", community, member, flow)
}
