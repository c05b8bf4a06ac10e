package identity

import (
	"context"
	"fmt"
	"strconv"

	"github.com/crewnet-hq/crewnet/internal/platform/httpx"
	"github.com/crewnet-hq/crewnet/internal/shared"
)

var (
	// ErrNotAuthenticated indicates the session carries no principal.
	ErrNotAuthenticated = fmt.Errorf("identity: not authenticated: %w", httpx.ErrUnauthorized)
	// ErrNotOwner indicates a persona the principal does not control.
	ErrNotOwner = fmt.Errorf("identity: persona not owned by principal: %w", httpx.ErrForbidden)
)

// RepositoryPort defines data access methods for identity resolution.
type RepositoryPort interface {
	ListOwnedBusinessIDs(ctx context.Context, principalID int64) ([]int64, error)
}

// Service resolves principals and their acting personas from sessions.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Principal loads the authenticated principal behind the session, including
// the businesses it currently owns.
func (s *Service) Principal(ctx context.Context, sess *shared.Session) (Principal, error) {
	if sess == nil || sess.User() == "" {
		return Principal{}, ErrNotAuthenticated
	}
	id, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil {
		return Principal{}, ErrNotAuthenticated
	}
	owned, err := s.repo.ListOwnedBusinessIDs(ctx, id)
	if err != nil {
		return Principal{}, err
	}
	return Principal{ID: id, OwnedBusinessIDs: owned}, nil
}

// ActivePersona returns the persona the principal currently acts as. The
// stored choice is revalidated against the owned-business list on every call;
// a business that no longer exists or changed owner falls back to the
// personal persona. The fallback writes the session only when the stored
// value actually changes, so repeated validation passes are idempotent.
func (s *Service) ActivePersona(ctx context.Context, sess *shared.Session, principal Principal) Persona {
	fallback := principal.PersonalPersona()
	if sess == nil {
		return fallback
	}
	stored := sess.ActivePersona()
	if stored == "" {
		sess.SetActivePersona(fallback.Encode())
		return fallback
	}
	kind, id, err := DecodePersona(stored)
	if err == nil {
		switch kind {
		case PersonaPersonal:
			if id == principal.ID {
				return fallback
			}
		case PersonaBusiness:
			if principal.Owns(id) {
				return BusinessPersona(id, principal.ID)
			}
		}
	}
	sess.SetActivePersona(fallback.Encode())
	return fallback
}

// SwitchPersona changes the acting persona for the session. Switching is a
// pure session reassignment; ownership is still re-validated server side on
// every mutating call.
func (s *Service) SwitchPersona(ctx context.Context, sess *shared.Session, principal Principal, target Persona) error {
	if sess == nil || sess.User() == "" {
		return ErrNotAuthenticated
	}
	switch target.Kind {
	case PersonaPersonal:
		if target.ID != principal.ID {
			return ErrNotOwner
		}
	case PersonaBusiness:
		if !principal.Owns(target.ID) {
			return ErrNotOwner
		}
	default:
		return ErrNotOwner
	}
	sess.SetActivePersona(target.Encode())
	return nil
}

// Personas lists every persona the principal may act as, personal first.
func (s *Service) Personas(principal Principal) []Persona {
	personas := make([]Persona, 0, len(principal.OwnedBusinessIDs)+1)
	personas = append(personas, principal.PersonalPersona())
	for _, id := range principal.OwnedBusinessIDs {
		personas = append(personas, BusinessPersona(id, principal.ID))
	}
	return personas
}
