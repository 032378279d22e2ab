// Package services implements the onboarding core: the trigger handler that
// reacts to role grants, the confirmation handler, the sequencer that
// serializes multi-flow prompts, and the flow administration service.
//
// This file centralizes service-level error values so they can be returned
// consistently and mapped to replies or HTTP status codes by the transport
// layers.
package services

import "errors"

// Flow administration errors.
var (
	// ErrFlowNotFound indicates that no flow with the requested name exists
	// in the community.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrFlowExists is returned when creating or renaming onto a name that is
	// already taken (names compare case-insensitively).
	ErrFlowExists = errors.New("flow already exists")

	// ErrInvalidFlow is returned for an empty name or message, or for ids
	// that are not platform snowflakes.
	ErrInvalidFlow = errors.New("invalid flow")

	// ErrFlowNameTooLong is returned when a flow name would not fit inside a
	// confirmation token.
	ErrFlowNameTooLong = errors.New("flow name too long")

	// ErrRoleInUse is returned when another flow of the community already
	// gates the same role.
	ErrRoleInUse = errors.New("role already gated by another flow")
)

// Onboarding errors.
var (
	// ErrNotForYou is returned when someone other than the target member
	// activates a confirmation control.
	ErrNotForYou = errors.New("confirmation is not for this member")

	// ErrRoleRestore wraps a failure to re-grant the gated role after a
	// confirmation. OnboardingState has already been cleared when it is
	// returned.
	ErrRoleRestore = errors.New("could not restore gated role")

	// ErrMemberNotOnboarding is returned by Release for a member that is not
	// in OnboardingState.
	ErrMemberNotOnboarding = errors.New("member is not onboarding")
)
