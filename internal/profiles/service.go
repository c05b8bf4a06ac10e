package profiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/crewnet-hq/crewnet/internal/identity"
	"github.com/crewnet-hq/crewnet/internal/permissions"
	"github.com/crewnet-hq/crewnet/internal/platform/httpx"
	"github.com/crewnet-hq/crewnet/internal/shared"
)

var (
	ErrNotFound     = fmt.Errorf("profiles: %w", httpx.ErrNotFound)
	ErrNameTaken    = fmt.Errorf("profiles: business name already taken: %w", httpx.ErrDuplicate)
	ErrNameRequired = fmt.Errorf("profiles: name required: %w", httpx.ErrValidation)
	// ErrDenied wraps a permission decision's reason; handlers surface it
	// as 403 with the reason text.
	ErrDenied = fmt.Errorf("profiles: permission denied: %w", httpx.ErrForbidden)
)

func denied(d permissions.Decision) error {
	return fmt.Errorf("%w: %s", ErrDenied, d.Reason)
}

// Service owns profile reads and permission-gated mutations.
type Service struct {
	repo  Repository
	audit *shared.AuditLogger
}

// NewService builds Service instance. The audit logger may be nil.
func NewService(repo Repository, audit *shared.AuditLogger) *Service {
	return &Service{repo: repo, audit: audit}
}

// UserProfile returns a user profile.
func (s *Service) UserProfile(ctx context.Context, id int64) (*UserProfile, error) {
	return s.repo.GetUserProfile(ctx, id)
}

// UserProfileUpdate carries the editable personal profile fields.
type UserProfileUpdate struct {
	DisplayName string
	Headline    string
	Bio         string
}

// UpdateUserProfile edits the actor's own personal profile. Editing is
// denied while a business persona is active, even for the profile's owner.
func (s *Service) UpdateUserProfile(ctx context.Context, actor *identity.Actor, id int64, in UserProfileUpdate) (*UserProfile, error) {
	current, err := s.repo.GetUserProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	d := permissions.CanEditProfile(actor, permissions.ProfileMeta{AccountID: id})
	if !d.Allowed {
		return nil, denied(d)
	}

	current.DisplayName = NormalizeName(in.DisplayName)
	current.Headline = NormalizeName(in.Headline)
	current.Bio = in.Bio
	if current.DisplayName == "" {
		return nil, ErrNameRequired
	}
	if err := s.repo.UpdateUserProfile(ctx, current); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "profile.update", fmt.Sprintf("user:%d", id))
	return current, nil
}

// SetFollowApproval flips whether new followers need the actor's approval.
// Pending follow requests are unaffected; only future follows see the new
// setting.
func (s *Service) SetFollowApproval(ctx context.Context, actor *identity.Actor, required bool) error {
	d := permissions.CanEditProfile(actor, permissions.ProfileMeta{AccountID: actor.Principal.ID})
	if !d.Allowed {
		return denied(d)
	}
	if err := s.repo.SetFollowApproval(ctx, actor.Principal.ID, required); err != nil {
		return err
	}
	s.record(ctx, actor, "profile.follow_approval", fmt.Sprintf("user:%d", actor.Principal.ID))
	return nil
}

// Business returns a business profile.
func (s *Service) Business(ctx context.Context, id int64) (*BusinessProfile, error) {
	return s.repo.GetBusiness(ctx, id)
}

// BusinessInput carries the editable business fields.
type BusinessInput struct {
	Name        string
	Description string
	Website     string
}

// CreateBusiness registers a new business owned by the acting principal.
// Creation happens from the personal persona; the new business becomes
// switchable immediately.
func (s *Service) CreateBusiness(ctx context.Context, actor *identity.Actor, in BusinessInput) (*BusinessProfile, error) {
	if actor == nil {
		return nil, denied(permissions.Deny("login required"))
	}
	name := NormalizeName(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	b := &BusinessProfile{
		OwnerPrincipalID: actor.Principal.ID,
		Name:             name,
		NameKey:          NameKeyOf(name),
		Description:      in.Description,
		Website:          in.Website,
	}
	if err := s.repo.CreateBusiness(ctx, b); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "business.create", fmt.Sprintf("business:%d", b.ID))
	return b, nil
}

// UpdateBusiness edits a business page. Requires the business persona to be
// active and the principal behind it to be the registered owner.
func (s *Service) UpdateBusiness(ctx context.Context, actor *identity.Actor, id int64, in BusinessInput) (*BusinessProfile, error) {
	current, err := s.repo.GetBusiness(ctx, id)
	if err != nil {
		return nil, err
	}
	d := permissions.CanManageBusiness(actor, permissions.BusinessMeta{ID: id, OwnerPrincipalID: current.OwnerPrincipalID})
	if !d.Allowed {
		return nil, denied(d)
	}

	name := NormalizeName(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	current.Name = name
	current.NameKey = NameKeyOf(name)
	current.Description = in.Description
	current.Website = in.Website
	if err := s.repo.UpdateBusiness(ctx, current); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "business.update", fmt.Sprintf("business:%d", id))
	return current, nil
}

// DeleteBusiness removes a business. The same persona and ownership gate as
// UpdateBusiness applies; a missing business is an achieved end state.
func (s *Service) DeleteBusiness(ctx context.Context, actor *identity.Actor, id int64) error {
	current, err := s.repo.GetBusiness(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	d := permissions.CanDeleteBusiness(actor, permissions.BusinessMeta{ID: id, OwnerPrincipalID: current.OwnerPrincipalID})
	if !d.Allowed {
		return denied(d)
	}
	if _, err := s.repo.DeleteBusiness(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "business.delete", fmt.Sprintf("business:%d", id))
	return nil
}

// OwnedBusinesses lists the businesses the actor's principal owns.
func (s *Service) OwnedBusinesses(ctx context.Context, actor *identity.Actor) ([]BusinessProfile, error) {
	if actor == nil {
		return nil, denied(permissions.Deny("login required"))
	}
	return s.repo.ListOwnedBusinesses(ctx, actor.Principal.ID)
}

func (s *Service) record(ctx context.Context, actor *identity.Actor, action, entityID string) {
	if s.audit == nil || actor == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorPrincipalID: actor.Principal.ID,
		ActorPersona:     actor.Persona.Encode(),
		Action:           action,
		Entity:           "profile",
		EntityID:         entityID,
	})
}
