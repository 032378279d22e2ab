package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/rolegate/internal/domain"
	"github.com/tbourn/rolegate/internal/services"
	"github.com/tbourn/rolegate/internal/sysutil"
)

// Dispatcher is the core entry point; *services.Onboarding satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.Event) (services.Reply, error)
}

// Bridge translates gateway events for the core and answers
// interactions. Each event runs under its own deadline.
type Bridge struct {
	core    Dispatcher
	s       Session
	timeout time.Duration
	log     zerolog.Logger
}

// NewBridge returns a bridge answering interactions through s.
func NewBridge(core Dispatcher, s Session, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Bridge{
		core:    core,
		s:       s,
		timeout: timeout,
		log:     log.With().Str("component", "discord").Logger(),
	}
}

// OnMemberUpdate handles GUILD_MEMBER_UPDATE. The previous role list comes
// from the session state cache; without it added roles cannot be told
// apart, so the event is skipped.
func (b *Bridge) OnMemberUpdate(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) {
	if e == nil || e.Member == nil || e.User == nil {
		return
	}
	if e.BeforeUpdate == nil {
		b.log.Warn().Str("guild", e.GuildID).Str("member", e.User.ID).
			Msg("member update without cached previous roles; skipped")
		return
	}
	ev := domain.RoleChangeEvent{
		Community: e.GuildID,
		Member:    e.User.ID,
		Previous:  e.BeforeUpdate.Roles,
		Current:   e.Roles,
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if _, err := b.core.Dispatch(ctx, ev); err != nil {
		b.log.Error().Err(err).Str("guild", e.GuildID).Str("member", e.User.ID).Msg("role change handling failed")
	}
}

// OnInteraction handles button clicks carrying a confirmation token. Other
// interactions belong to someone else and are ignored.
//
// The click is acknowledged with a deferred ephemeral reply before the core
// runs, since restoring the role and the follow-up actions can outlast the
// platform's initial response window. The core's reply then replaces the
// placeholder, or the placeholder is deleted when there is nothing to say.
func (b *Bridge) OnInteraction(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}
	customID := i.MessageComponentData().CustomID
	if !domain.IsConfirmToken(customID) {
		return
	}

	var memberUser, user string
	if i.Member != nil && i.Member.User != nil {
		memberUser = i.Member.User.ID
	}
	if i.User != nil {
		user = i.User.ID
	}
	ev := domain.ConfirmationEvent{
		Community: i.GuildID,
		Actor:     sysutil.FirstNonEmpty(memberUser, user),
		Token:     customID,
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	deferred := true
	if err := b.s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx)); err != nil {
		deferred = false
		b.log.Error().Err(err).Str("guild", i.GuildID).Msg("acknowledging interaction failed")
	}

	reply, err := b.core.Dispatch(ctx, ev)
	if err != nil && !errors.Is(err, services.ErrNotForYou) {
		b.log.Error().Err(err).Str("guild", i.GuildID).Str("actor", ev.Actor).Msg("confirmation handling failed")
	}
	if !deferred {
		return
	}
	if err := b.finish(ctx, i.Interaction, reply); err != nil {
		b.log.Error().Err(err).Str("guild", i.GuildID).Msg("answering interaction failed")
	}
}

// OnGuildCreate asks for the member list so later updates carry previous
// roles.
func (b *Bridge) OnGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if s == nil || g == nil || g.Guild == nil {
		return
	}
	if err := s.RequestGuildMembers(g.ID, "", 0, "", false); err != nil {
		b.log.Warn().Err(err).Str("guild", g.ID).Msg("requesting member list failed")
	}
}

// OnReady logs the identity the gateway accepted.
func (b *Bridge) OnReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r == nil || r.User == nil {
		return
	}
	b.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("connected to gateway")
}

// finish replaces the deferred placeholder with reply. Every reply is seen
// only by the member who clicked.
func (b *Bridge) finish(ctx context.Context, in *discordgo.Interaction, reply services.Reply) error {
	if reply.Empty() {
		return b.s.InteractionResponseDelete(in, discordgo.WithContext(ctx))
	}
	content := reply.Content
	_, err := b.s.InteractionResponseEdit(in, &discordgo.WebhookEdit{Content: &content}, discordgo.WithContext(ctx))
	return err
}

// Register attaches the bridge's handlers to a session.
func (b *Bridge) Register(s *discordgo.Session) {
	s.AddHandler(b.OnReady)
	s.AddHandler(b.OnGuildCreate)
	s.AddHandler(b.OnMemberUpdate)
	s.AddHandler(b.OnInteraction)
}

// New creates an unopened session authenticated with the bot token and
// subscribed to guild and member events.
func New(token string) (*discordgo.Session, error) {
	token = strings.TrimSpace(token)
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	s.StateEnabled = true
	s.State.TrackMembers = true
	return s, nil
}
