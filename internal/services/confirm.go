package services

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/rolegate/internal/domain"
	"github.com/tbourn/rolegate/internal/observability"
)

// Replies shown to whoever activated a confirmation control.
const (
	ReplyNotForYou     = "❌ This button is not for you."
	ReplyConfirmed     = "✅ Role assigned. Welcome aboard!"
	ReplyRestoreFailed = "❌ Could not assign role. Please check bot permissions."
)

// HandleConfirmation completes a flow for the member named in the token.
//
// Tokens that do not decode, or whose flow no longer exists, are
// acknowledged silently. A click by anyone other than the target member is
// refused with ErrNotForYou and changes nothing. Otherwise the member leaves
// OnboardingState for that flow, the cooldown guard is armed so the
// re-grant is not taken as a new trigger, and the gated role is restored.
func (o *Onboarding) HandleConfirmation(ctx context.Context, ev domain.ConfirmationEvent) (Reply, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "HandleConfirmation",
		trace.WithAttributes(
			attribute.String("community.id", ev.Community),
			attribute.String("actor.id", ev.Actor),
		),
	)
	defer span.End()

	lg := o.log.With().Str("community", ev.Community).Str("actor", ev.Actor).Logger()

	tok, err := domain.DecodeConfirmToken(ev.Token)
	if err != nil {
		lg.Warn().Str("token", ev.Token).Msg("ignoring unreadable confirmation token")
		observability.Confirmations.WithLabelValues(observability.ConfirmOrphaned).Inc()
		return Reply{}, nil
	}
	span.SetAttributes(attribute.String("member.id", tok.Member), attribute.String("flow", tok.Flow))

	cfg := o.loadConfig(ctx, ev.Community)
	f, ok := cfg.Lookup(tok.Flow)
	if !ok {
		lg.Warn().Str("flow", tok.Flow).Str("member", tok.Member).Msg("confirmation for a flow that no longer exists")
		observability.Confirmations.WithLabelValues(observability.ConfirmOrphaned).Inc()
		return Reply{}, nil
	}

	if ev.Actor != tok.Member {
		lg.Info().Str("member", tok.Member).Str("flow", f.Name).Msg("confirmation refused: actor is not the target member")
		observability.Confirmations.WithLabelValues(observability.ConfirmRejected).Inc()
		return Reply{Content: ReplyNotForYou}, ErrNotForYou
	}

	community, member := ev.Community, tok.Member
	lg = lg.With().Str("member", member).Str("flow", f.Name).Logger()

	o.tasks.Cancel(removalKey(community, member, f.Name))
	o.tasks.Cancel(expiryKey(community, member, f.Name))
	if o.ledger.remove(community, member, f.Name) == 0 {
		o.unmarkOnboarding(ctx, community, member)
	}
	o.guard.Guard(cooldownKey(community, member, f.RoleID), o.opts.CooldownTTL)
	o.guard.Release(dedupKey(community, member, f.Name))

	if err := o.restoreRole(ctx, community, member, f.RoleID); err != nil {
		lg.Error().Err(err).Str("role", f.RoleID).Msg("restoring gated role failed")
		observability.Confirmations.WithLabelValues(observability.ConfirmRestoreFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "restore failed")
		if o.seq != nil {
			o.seq.Resolve(community, member, f.Name)
		}
		return Reply{Content: ReplyRestoreFailed}, fmt.Errorf("%w: %v", ErrRoleRestore, err)
	}

	o.followUps(ctx, community, member, f)

	if o.seq != nil {
		o.seq.Resolve(community, member, f.Name)
	}
	observability.Confirmations.WithLabelValues(observability.ConfirmConfirmed).Inc()
	lg.Info().Str("role", f.RoleID).Msg("onboarding confirmed; role restored")
	return Reply{Content: ReplyConfirmed}, nil
}

// restoreRole grants role, retrying transient failures with exponential
// backoff. Errors the platform marks permanent are not retried.
func (o *Onboarding) restoreRole(ctx context.Context, community, member, role string) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	var b backoff.BackOff = eb
	b = backoff.WithMaxRetries(b, uint64(max(o.opts.RestoreRetries, 0)))
	b = backoff.WithContext(b, ctx)

	return backoff.Retry(func() error {
		actx, cancel := context.WithTimeout(ctx, o.opts.ActionTimeout)
		defer cancel()
		err := o.platform.AddRole(actx, community, member, role)
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// followUps runs the optional post-confirmation actions. Their failures
// are logged and never change the reply.
func (o *Onboarding) followUps(ctx context.Context, community, member string, f domain.Flow) {
	lg := o.log.With().Str("community", community).Str("member", member).Str("flow", f.Name).Logger()

	if o.opts.DMCopy {
		actx, cancel := context.WithTimeout(ctx, o.opts.ActionTimeout)
		err := o.platform.SendDirect(actx, member, Render(f.Message, member, f.RoleID, o.opts.Reflow))
		cancel()
		if err != nil {
			lg.Warn().Err(err).Msg("sending copy of onboarding message failed")
		}
	}
	if o.opts.RevokeChannel {
		actx, cancel := context.WithTimeout(ctx, o.opts.ActionTimeout)
		err := o.platform.SetChannelVisibility(actx, f.ChannelID, member, false)
		cancel()
		if err != nil {
			lg.Warn().Err(err).Str("channel", f.ChannelID).Msg("revoking onboarding channel access failed")
		}
	}
	if o.opts.AuditLog {
		line := fmt.Sprintf("📝 <@%s> confirmed **%s** at <t:%d:F>", member, f.Name, o.clk.Now().Unix())
		actx, cancel := context.WithTimeout(ctx, o.opts.ActionTimeout)
		err := o.platform.PostMessage(actx, f.ChannelID, line)
		cancel()
		if err != nil {
			lg.Warn().Err(err).Msg("posting audit line failed")
		}
	}
}
