// Package services – FlowService
//
// FlowService administers a community's named flows: create, partial edit,
// delete, list and get. Names are NFC-normalized and trimmed, compared
// case-insensitively for uniqueness, and must fit inside a confirmation
// token. Role, channel and (optionally) community ids must be platform
// snowflakes.
//
// Any write migrates a legacy single-flow record into the named shape; a
// community whose last flow is deleted has its record removed.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/rolegate/internal/domain"
	"github.com/tbourn/rolegate/internal/repo"
)

// MaxMessageRunes is the platform ceiling for a message body.
const MaxMessageRunes = 2000

// widestMember is the longest decimal snowflake; a name that fits a token
// with it fits with every member.
const widestMember = "18446744073709551615"

// FlowPatch is a partial edit. Nil fields are left unchanged.
type FlowPatch struct {
	Name      *string `json:"name,omitempty"`
	RoleID    *string `json:"roleId,omitempty"`
	ChannelID *string `json:"channelId,omitempty"`
	Message   *string `json:"message,omitempty"`
}

// FlowService manages flow definitions in a FlowStore.
type FlowService struct {
	Store repo.FlowStore

	// mu serializes read-modify-write cycles of this process.
	mu sync.Mutex
}

// NewFlowService constructs a FlowService.
func NewFlowService(store repo.FlowStore) *FlowService {
	return &FlowService{Store: store}
}

// List returns the community's flows in configuration order. A legacy
// record is presented in its migrated form without being rewritten.
func (s *FlowService) List(ctx context.Context, community string) ([]domain.Flow, error) {
	cfg, err := s.load(ctx, community)
	if err != nil {
		return nil, err
	}
	cfg.Migrate()
	return cfg.Flows.All(), nil
}

// Get returns one flow by name.
func (s *FlowService) Get(ctx context.Context, community, name string) (domain.Flow, error) {
	cfg, err := s.load(ctx, community)
	if err != nil {
		return domain.Flow{}, err
	}
	cfg.Migrate()
	if f, ok := cfg.Flows.Get(normalizeName(name)); ok {
		return f, nil
	}
	return domain.Flow{}, ErrFlowNotFound
}

// Create adds a new flow at the end of the configuration order.
func (s *FlowService) Create(ctx context.Context, community string, f domain.Flow) (domain.Flow, error) {
	ctx, span := otel.Tracer("services/FlowService").Start(ctx, "Create",
		trace.WithAttributes(attribute.String("community.id", community)),
	)
	defer span.End()

	f.Name = normalizeName(f.Name)
	f.RoleID = strings.TrimSpace(f.RoleID)
	f.ChannelID = strings.TrimSpace(f.ChannelID)
	f.Message = strings.TrimSpace(f.Message)
	if err := validateFlow(f); err != nil {
		return domain.Flow{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.load(ctx, community)
	if err != nil {
		return domain.Flow{}, err
	}
	cfg.Migrate()
	if existing := findFolded(cfg, f.Name); existing != "" {
		return domain.Flow{}, ErrFlowExists
	}
	if roleTaken(cfg, f.RoleID, "") {
		return domain.Flow{}, ErrRoleInUse
	}
	cfg.Flows.Put(f)
	if err := s.Store.SetConfig(ctx, community, cfg); err != nil {
		return domain.Flow{}, fmt.Errorf("save config: %w", err)
	}
	return f, nil
}

// Update applies p to the named flow. A rename keeps the flow's position.
func (s *FlowService) Update(ctx context.Context, community, name string, p FlowPatch) (domain.Flow, error) {
	ctx, span := otel.Tracer("services/FlowService").Start(ctx, "Update",
		trace.WithAttributes(attribute.String("community.id", community), attribute.String("flow", name)),
	)
	defer span.End()

	name = normalizeName(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.load(ctx, community)
	if err != nil {
		return domain.Flow{}, err
	}
	cfg.Migrate()
	f, ok := cfg.Flows.Get(name)
	if !ok {
		return domain.Flow{}, ErrFlowNotFound
	}

	if p.RoleID != nil {
		f.RoleID = strings.TrimSpace(*p.RoleID)
	}
	if p.ChannelID != nil {
		f.ChannelID = strings.TrimSpace(*p.ChannelID)
	}
	if p.Message != nil {
		f.Message = strings.TrimSpace(*p.Message)
	}
	newName := name
	if p.Name != nil {
		newName = normalizeName(*p.Name)
	}
	f.Name = newName
	if err := validateFlow(f); err != nil {
		return domain.Flow{}, err
	}
	if roleTaken(cfg, f.RoleID, name) {
		return domain.Flow{}, ErrRoleInUse
	}

	if newName != name {
		if other := findFolded(cfg, newName); other != "" && other != name {
			return domain.Flow{}, ErrFlowExists
		}
		if !cfg.Flows.Rename(name, newName) {
			return domain.Flow{}, ErrFlowExists
		}
		if cfg.LegacyFlow == name {
			cfg.LegacyFlow = newName
		}
	}
	cfg.Flows.Put(f)
	if err := s.Store.SetConfig(ctx, community, cfg); err != nil {
		return domain.Flow{}, fmt.Errorf("save config: %w", err)
	}
	return f, nil
}

// Delete removes the named flow. Deleting the last flow removes the
// community's record.
func (s *FlowService) Delete(ctx context.Context, community, name string) error {
	ctx, span := otel.Tracer("services/FlowService").Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("community.id", community), attribute.String("flow", name)),
	)
	defer span.End()

	name = normalizeName(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.load(ctx, community)
	if err != nil {
		return err
	}
	cfg.Migrate()
	if !cfg.Flows.Remove(name) {
		return ErrFlowNotFound
	}
	if cfg.LegacyFlow == name {
		cfg.LegacyFlow = ""
	}
	if cfg.Empty() {
		if err := s.Store.DeleteConfig(ctx, community); err != nil && !repo.IsNotFound(err) {
			return fmt.Errorf("delete config: %w", err)
		}
		return nil
	}
	if err := s.Store.SetConfig(ctx, community, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// load returns the stored config, or an empty one when there is none.
func (s *FlowService) load(ctx context.Context, community string) (*domain.CommunityConfig, error) {
	cfg, err := s.Store.GetConfig(ctx, community)
	switch {
	case err == nil:
		return cfg, nil
	case errors.Is(err, repo.ErrNotFound):
		return &domain.CommunityConfig{}, nil
	default:
		return nil, fmt.Errorf("load config: %w", err)
	}
}

func normalizeName(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

func validateFlow(f domain.Flow) error {
	if f.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidFlow)
	}
	if _, err := domain.EncodeConfirmToken(f.Name, widestMember); err != nil {
		return ErrFlowNameTooLong
	}
	if !domain.ValidID(f.RoleID) {
		return fmt.Errorf("%w: role id %q", ErrInvalidFlow, f.RoleID)
	}
	if !domain.ValidID(f.ChannelID) {
		return fmt.Errorf("%w: channel id %q", ErrInvalidFlow, f.ChannelID)
	}
	if f.Message == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidFlow)
	}
	if utf8.RuneCountInString(f.Message) > MaxMessageRunes {
		return fmt.Errorf("%w: message exceeds %d characters", ErrInvalidFlow, MaxMessageRunes)
	}
	return nil
}

// findFolded returns the existing flow name equal to name under case
// folding, or "".
func findFolded(cfg *domain.CommunityConfig, name string) string {
	fold := cases.Fold()
	want := fold.String(name)
	for _, n := range cfg.Flows.Names() {
		if fold.String(n) == want {
			return n
		}
	}
	return ""
}

// roleTaken reports whether a flow other than except gates role.
func roleTaken(cfg *domain.CommunityConfig, role, except string) bool {
	for _, f := range cfg.Flows.All() {
		if f.Name != except && f.RoleID == role {
			return true
		}
	}
	return false
}
