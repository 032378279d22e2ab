package domain

// Event is a platform input the onboarding core reacts to. The set of
// variants is closed: RoleChangeEvent and ConfirmationEvent.
type Event interface {
	CommunityID() string
	isEvent()
}

// RoleChangeEvent reports that a member's role set changed.
type RoleChangeEvent struct {
	Community string
	Member    string
	Previous  []string
	Current   []string
}

// CommunityID implements Event.
func (e RoleChangeEvent) CommunityID() string { return e.Community }

func (RoleChangeEvent) isEvent() {}

// Added returns roles present in Current but not in Previous, in the order
// they appear in Current.
func (e RoleChangeEvent) Added() []string {
	prev := make(map[string]struct{}, len(e.Previous))
	for _, r := range e.Previous {
		prev[r] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{}, len(e.Current))
	for _, r := range e.Current {
		if _, ok := prev[r]; ok {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Holds reports whether the member holds role after the change.
func (e RoleChangeEvent) Holds(role string) bool {
	for _, r := range e.Current {
		if r == role {
			return true
		}
	}
	return false
}

// ConfirmationEvent reports that someone activated a confirmation control.
// Actor is whoever clicked; the intended member lives inside Token.
type ConfirmationEvent struct {
	Community string
	Actor     string
	Token     string
}

// CommunityID implements Event.
func (e ConfirmationEvent) CommunityID() string { return e.Community }

func (ConfirmationEvent) isEvent() {}
