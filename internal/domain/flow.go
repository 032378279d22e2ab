// Package domain defines the onboarding data model shared by the store,
// service, and transport layers: flows, per-community configuration, the
// onboarding member set, platform events, and the confirmation token that
// ties a confirmation control back to its (flow, member) pair.
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultLegacyFlowName names the implicit flow of a single-flow community
// record that was saved without a name.
const DefaultLegacyFlowName = "default"

// Flow is a named onboarding configuration.
//
// Fields:
//   - Name: unique key within a community (carried by the enclosing FlowSet
//     key on the wire, so it is not serialized inside the flow body).
//   - RoleID: the gated role; its grant triggers the flow and it is
//     re-granted on confirmation.
//   - ChannelID: where the onboarding message is posted.
//   - Message: template with {user} and {role} placeholders.
type Flow struct {
	Name      string `json:"-"`
	RoleID    string `json:"roleId"`
	ChannelID string `json:"channelId"`
	Message   string `json:"message"`
}

// Complete reports whether the flow carries everything needed to send.
func (f Flow) Complete() bool {
	return f.RoleID != "" && f.ChannelID != "" && f.Message != ""
}

// FlowSet is an insertion-ordered collection of flows keyed by name. The
// order is the tie-break used when several flows fire from one grant, so it
// is preserved through JSON in both directions.
type FlowSet struct {
	order  []string
	byName map[string]Flow
}

// NewFlowSet builds a set from flows in the given order. Later duplicates
// replace earlier bodies but keep the first position.
func NewFlowSet(flows ...Flow) FlowSet {
	var s FlowSet
	for _, f := range flows {
		s.Put(f)
	}
	return s
}

// Len returns the number of flows.
func (s FlowSet) Len() int { return len(s.order) }

// Names returns flow names in configuration order.
func (s FlowSet) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Get returns the flow stored under name.
func (s FlowSet) Get(name string) (Flow, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// All returns the flows in configuration order.
func (s FlowSet) All() []Flow {
	out := make([]Flow, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.byName[n])
	}
	return out
}

// Put inserts or replaces a flow. New names are appended.
func (s *FlowSet) Put(f Flow) {
	if s.byName == nil {
		s.byName = make(map[string]Flow)
	}
	if _, ok := s.byName[f.Name]; !ok {
		s.order = append(s.order, f.Name)
	}
	s.byName[f.Name] = f
}

// Remove deletes a flow and reports whether it existed.
func (s *FlowSet) Remove(name string) bool {
	if _, ok := s.byName[name]; !ok {
		return false
	}
	delete(s.byName, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Rename moves a flow to a new name while keeping its position.
func (s *FlowSet) Rename(oldName, newName string) bool {
	f, ok := s.byName[oldName]
	if !ok {
		return false
	}
	if oldName == newName {
		return true
	}
	if _, taken := s.byName[newName]; taken {
		return false
	}
	delete(s.byName, oldName)
	f.Name = newName
	s.byName[newName] = f
	for i, n := range s.order {
		if n == oldName {
			s.order[i] = newName
			break
		}
	}
	return true
}

// MarshalJSON writes the set as a JSON object whose keys follow
// configuration order.
func (s FlowSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(s.byName[n])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object of flows, keeping the key order found
// in the document.
func (s *FlowSet) UnmarshalJSON(data []byte) error {
	*s = FlowSet{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("flows: expected JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("flows: unexpected key %v", tok)
		}
		var f Flow
		if err := dec.Decode(&f); err != nil {
			return fmt.Errorf("flows: %s: %w", name, err)
		}
		f.Name = name
		s.Put(f)
	}
	_, err = dec.Token()
	return err
}

// CommunityConfig is the per-community record kept by the flow store.
//
// Multi-flow communities use Flows. Records written by the single-flow
// version of the bot carry one flow directly on the record (Name, RoleID,
// ChannelID, Message, LastMessageID); those are read as an implicit flow.
// LegacyFlow remembers which named flow the legacy record was migrated to,
// so confirmation controls posted before the migration still resolve.
type CommunityConfig struct {
	Flows      FlowSet `json:"flows"`
	LegacyFlow string  `json:"legacyFlow,omitempty"`

	Name          string `json:"name,omitempty"`
	RoleID        string `json:"roleId,omitempty"`
	ChannelID     string `json:"channelId,omitempty"`
	Message       string `json:"message,omitempty"`
	LastMessageID string `json:"lastMessageId,omitempty"`
}

// legacy returns the implicit single flow stored directly on the record.
func (c *CommunityConfig) legacy() (Flow, bool) {
	f := Flow{Name: c.Name, RoleID: c.RoleID, ChannelID: c.ChannelID, Message: c.Message}
	if !f.Complete() {
		return Flow{}, false
	}
	if f.Name == "" {
		f.Name = DefaultLegacyFlowName
	}
	return f, true
}

// Effective returns every flow that can trigger, in configuration order.
// A legacy single flow comes first unless a named flow shadows it.
func (c *CommunityConfig) Effective() []Flow {
	if c == nil {
		return nil
	}
	out := make([]Flow, 0, c.Flows.Len()+1)
	if f, ok := c.legacy(); ok {
		if _, shadowed := c.Flows.Get(f.Name); !shadowed {
			out = append(out, f)
		}
	}
	for _, f := range c.Flows.All() {
		if f.Complete() {
			out = append(out, f)
		}
	}
	return out
}

// Lookup resolves a flow by name. The empty name is what legacy
// confirmation ids carry; it resolves to the legacy flow, or to the only
// flow when exactly one exists.
func (c *CommunityConfig) Lookup(name string) (Flow, bool) {
	if c == nil {
		return Flow{}, false
	}
	if name == "" {
		if f, ok := c.legacy(); ok {
			return f, true
		}
		if c.LegacyFlow != "" {
			return c.Flows.Get(c.LegacyFlow)
		}
		if eff := c.Effective(); len(eff) == 1 {
			return eff[0], true
		}
		return Flow{}, false
	}
	if f, ok := c.Flows.Get(name); ok {
		return f, true
	}
	if f, ok := c.legacy(); ok && f.Name == name {
		return f, true
	}
	return Flow{}, false
}

// Migrate folds a legacy single-flow record into Flows, placing it first.
// It reports whether the record changed.
func (c *CommunityConfig) Migrate() bool {
	f, ok := c.legacy()
	if !ok {
		return false
	}
	if _, exists := c.Flows.Get(f.Name); !exists {
		rest := c.Flows.All()
		c.Flows = NewFlowSet(append([]Flow{f}, rest...)...)
	}
	c.LegacyFlow = f.Name
	c.Name, c.RoleID, c.ChannelID, c.Message, c.LastMessageID = "", "", "", "", ""
	return true
}

// Empty reports whether the record holds no flows at all.
func (c *CommunityConfig) Empty() bool {
	_, legacy := c.legacy()
	return c.Flows.Len() == 0 && !legacy
}

// Clone returns a deep copy.
func (c *CommunityConfig) Clone() *CommunityConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Flows = NewFlowSet(c.Flows.All()...)
	return &out
}
