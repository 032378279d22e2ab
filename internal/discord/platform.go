// Package discord connects the onboarding core to Discord through
// github.com/bwmarrin/discordgo.
//
// Platform implements services.Platform on top of a Session. Bridge turns
// gateway events into domain events and writes the core's replies back to
// the interaction. Open builds a live session with the intents the bot
// needs.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/tbourn/rolegate/internal/services"
)

// Session is the subset of *discordgo.Session the bot uses. Tests supply a
// fake.
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionResponseDelete(interaction *discordgo.Interaction, options ...discordgo.RequestOption) error
}

var _ Session = (*discordgo.Session)(nil)

// Platform performs onboarding actions through a Session.
type Platform struct {
	s Session
}

// NewPlatform wraps s.
func NewPlatform(s Session) *Platform { return &Platform{s: s} }

var _ services.Platform = (*Platform)(nil)

// SendPrompt posts the onboarding message with a single confirmation
// button whose custom id is the prompt's token. Only user mentions are
// allowed to ping, so a {role} placeholder never notifies the role.
func (p *Platform) SendPrompt(ctx context.Context, channelID string, pr services.Prompt) (string, error) {
	msg, err := p.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: pr.Content,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    pr.Label,
					Style:    discordgo.SuccessButton,
					CustomID: pr.Token,
				},
			}},
		},
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err)
	}
	return msg.ID, nil
}

// AddRole grants roleID to the member.
func (p *Platform) AddRole(ctx context.Context, communityID, memberID, roleID string) error {
	return classify(p.s.GuildMemberRoleAdd(communityID, memberID, roleID, discordgo.WithContext(ctx)))
}

// RemoveRole takes roleID away from the member.
func (p *Platform) RemoveRole(ctx context.Context, communityID, memberID, roleID string) error {
	return classify(p.s.GuildMemberRoleRemove(communityID, memberID, roleID, discordgo.WithContext(ctx)))
}

// SetChannelVisibility writes a member overwrite allowing or denying
// View Channel.
func (p *Platform) SetChannelVisibility(ctx context.Context, channelID, memberID string, visible bool) error {
	var allow, deny int64
	if visible {
		allow = discordgo.PermissionViewChannel
	} else {
		deny = discordgo.PermissionViewChannel
	}
	return classify(p.s.ChannelPermissionSet(channelID, memberID, discordgo.PermissionOverwriteTypeMember, allow, deny, discordgo.WithContext(ctx)))
}

// SendDirect opens (or reuses) the DM channel and posts content.
func (p *Platform) SendDirect(ctx context.Context, memberID, content string) error {
	ch, err := p.s.UserChannelCreate(memberID, discordgo.WithContext(ctx))
	if err != nil {
		return classify(err)
	}
	_, err = p.s.ChannelMessageSend(ch.ID, content, discordgo.WithContext(ctx))
	return classify(err)
}

// PostMessage posts plain text.
func (p *Platform) PostMessage(ctx context.Context, channelID, content string) error {
	_, err := p.s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	return classify(err)
}

// APIError is a Discord REST failure. Client errors other than rate limits
// are permanent: retrying a missing permission or unknown member cannot
// succeed.
type APIError struct {
	Status int
	Err    error
}

func (e *APIError) Error() string { return fmt.Sprintf("discord: HTTP %d: %v", e.Status, e.Err) }

func (e *APIError) Unwrap() error { return e.Err }

// Permanent reports whether retrying is pointless.
func (e *APIError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		return &APIError{Status: rest.Response.StatusCode, Err: err}
	}
	return err
}
