package services

import (
	"context"
	"errors"

	"github.com/tbourn/rolegate/internal/repo"
)

// Prompt is an onboarding message with its single confirmation control.
type Prompt struct {
	Content string // rendered template
	Token   string // confirmation token carried by the control
	Label   string // control label
}

// Platform is the set of chat-platform actions the core performs. The
// Discord adapter implements it; tests use a recording fake.
type Platform interface {
	// SendPrompt posts p to channelID and returns the message id.
	SendPrompt(ctx context.Context, channelID string, p Prompt) (string, error)
	AddRole(ctx context.Context, communityID, memberID, roleID string) error
	RemoveRole(ctx context.Context, communityID, memberID, roleID string) error
	// SetChannelVisibility grants or denies the member's view permission on
	// the channel through a member-scoped overwrite.
	SetChannelVisibility(ctx context.Context, channelID, memberID string, visible bool) error
	// SendDirect sends a private message to the member.
	SendDirect(ctx context.Context, memberID, content string) error
	// PostMessage posts plain text to a channel.
	PostMessage(ctx context.Context, channelID, content string) error
}

// Store is the persistence the core depends on.
type Store interface {
	repo.FlowStore
	repo.OnboardingStore
}

// Reply is what the confirming member sees, privately. An empty Content
// means the action is acknowledged silently.
type Reply struct {
	Content string
}

// Empty reports whether the reply carries no content.
func (r Reply) Empty() bool { return r.Content == "" }

// permanent is implemented by platform errors that retrying cannot fix,
// such as a missing permission.
type permanent interface {
	Permanent() bool
}

func isPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p) && p.Permanent()
}
