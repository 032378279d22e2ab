package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/rolegate/internal/domain"
)

// PendingMember is one entry of a community's OnboardingState as seen by
// this process. Flows is empty for members recorded before a restart.
type PendingMember struct {
	MemberID string   `json:"member_id"`
	Flows    []string `json:"flows"`
	Queued   []string `json:"queued,omitempty"`
}

// Pending lists the members of community awaiting confirmation, sorted by
// member id.
func (o *Onboarding) Pending(ctx context.Context, community string) ([]PendingMember, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Pending",
		trace.WithAttributes(attribute.String("community.id", community)),
	)
	defer span.End()

	set, err := o.store.GetOnboarding(ctx, community)
	if err != nil {
		return nil, fmt.Errorf("read onboarding state: %w", err)
	}
	ids := domain.NewMemberSet(o.ledger.members(community)...)
	for id := range set {
		ids.Add(id)
	}

	out := make([]PendingMember, 0, len(ids))
	for _, id := range ids.Sorted() {
		pm := PendingMember{MemberID: id, Flows: o.ledger.flows(community, id)}
		if o.seq != nil {
			pm.Queued = o.seq.Queued(community, id)
		}
		out = append(out, pm)
	}
	span.SetAttributes(attribute.Int("members", len(out)))
	return out, nil
}

// Release ends onboarding for member without a confirmation. With flowName
// set only that flow is released; otherwise every pending flow is. When
// restore is true the gated roles are granted back behind the cooldown
// guard.
func (o *Onboarding) Release(ctx context.Context, community, member, flowName string, restore bool) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Release",
		trace.WithAttributes(
			attribute.String("community.id", community),
			attribute.String("member.id", member),
			attribute.String("flow", flowName),
			attribute.Bool("restore", restore),
		),
	)
	defer span.End()

	set, err := o.store.GetOnboarding(ctx, community)
	if err != nil {
		return fmt.Errorf("read onboarding state: %w", err)
	}
	if !set.Has(member) && o.ledger.count(community, member) == 0 {
		return ErrMemberNotOnboarding
	}

	cfg := o.loadConfig(ctx, community)
	var names []string
	if flowName != "" {
		f, ok := cfg.Lookup(flowName)
		if !ok {
			return ErrFlowNotFound
		}
		names = []string{f.Name}
		o.ledger.remove(community, member, f.Name)
	} else {
		names = o.ledger.clear(community, member)
	}

	var targets []domain.Flow
	for _, name := range names {
		o.tasks.Cancel(removalKey(community, member, name))
		o.tasks.Cancel(expiryKey(community, member, name))
		o.guard.Release(dedupKey(community, member, name))
		if o.seq != nil {
			o.seq.Resolve(community, member, name)
		}
		if f, ok := cfg.Lookup(name); ok {
			targets = append(targets, f)
		}
	}
	if o.ledger.count(community, member) == 0 {
		o.unmarkOnboarding(ctx, community, member)
	}

	lg := o.log.With().Str("community", community).Str("member", member).Logger()
	sort.Strings(names)
	lg.Info().Strs("flows", names).Bool("restore", restore).Msg("member released from onboarding")

	if !restore {
		return nil
	}
	var errs []error
	for _, f := range targets {
		o.guard.Guard(cooldownKey(community, member, f.RoleID), o.opts.CooldownTTL)
		if err := o.restoreRole(ctx, community, member, f.RoleID); err != nil {
			lg.Error().Err(err).Str("flow", f.Name).Str("role", f.RoleID).Msg("restoring role on release failed")
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrRoleRestore, errors.Join(errs...))
	}
	return nil
}
