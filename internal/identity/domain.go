package identity

import (
	"fmt"
	"strconv"
	"strings"
)

// PersonaKind discriminates the two identities a principal can act as.
type PersonaKind string

const (
	// PersonaPersonal is the principal acting as their own user account.
	PersonaPersonal PersonaKind = "personal"
	// PersonaBusiness is the principal acting as a business they own.
	PersonaBusiness PersonaKind = "business"
)

// Persona is an acting identity. A personal persona's ID equals the owning
// principal's ID; a business persona's ID is the business account ID.
type Persona struct {
	Kind             PersonaKind `json:"kind"`
	ID               int64       `json:"id"`
	OwnerPrincipalID int64       `json:"owner_principal_id"`
}

// PersonalPersona builds the persona of a principal acting as themselves.
func PersonalPersona(principalID int64) Persona {
	return Persona{Kind: PersonaPersonal, ID: principalID, OwnerPrincipalID: principalID}
}

// BusinessPersona builds the persona of a principal acting as a business.
func BusinessPersona(businessID, ownerPrincipalID int64) Persona {
	return Persona{Kind: PersonaBusiness, ID: businessID, OwnerPrincipalID: ownerPrincipalID}
}

// IsPersonal reports whether the persona is the principal's own account.
func (p Persona) IsPersonal() bool { return p.Kind == PersonaPersonal }

// IsBusiness reports whether the persona is a business account.
func (p Persona) IsBusiness() bool { return p.Kind == PersonaBusiness }

// Endpoint converts the persona into a relationship graph endpoint.
func (p Persona) Endpoint() Endpoint {
	if p.Kind == PersonaBusiness {
		return Endpoint{Kind: EndpointBusiness, ID: p.ID}
	}
	return Endpoint{Kind: EndpointUser, ID: p.ID}
}

// Encode renders the persona as a compact session value, e.g. "business:12".
func (p Persona) Encode() string {
	return fmt.Sprintf("%s:%d", p.Kind, p.ID)
}

// DecodePersona parses a value produced by Encode. Ownership is not encoded
// and must be revalidated by the caller.
func DecodePersona(encoded string) (PersonaKind, int64, error) {
	kind, rawID, ok := strings.Cut(encoded, ":")
	if !ok {
		return "", 0, fmt.Errorf("identity: malformed persona %q", encoded)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("identity: malformed persona id %q", rawID)
	}
	switch PersonaKind(kind) {
	case PersonaPersonal, PersonaBusiness:
		return PersonaKind(kind), id, nil
	}
	return "", 0, fmt.Errorf("identity: unknown persona kind %q", kind)
}

// Principal is the authenticated human account behind a session.
type Principal struct {
	ID               int64
	OwnedBusinessIDs []int64
}

// Owns reports whether the principal owns the given business.
func (p Principal) Owns(businessID int64) bool {
	for _, id := range p.OwnedBusinessIDs {
		if id == businessID {
			return true
		}
	}
	return false
}

// PersonalPersona returns the principal acting as themselves.
func (p Principal) PersonalPersona() Persona {
	return PersonalPersona(p.ID)
}

// EndpointKind tags an endpoint of the relationship graph.
type EndpointKind string

const (
	// EndpointUser marks a personal user account.
	EndpointUser EndpointKind = "user"
	// EndpointBusiness marks a business account.
	EndpointBusiness EndpointKind = "business"
)

// Endpoint identifies one side of a connection or follow. Modelling the
// user/business polymorphism as a tagged pair keeps "both ids set" and
// "no id set" rows unrepresentable.
type Endpoint struct {
	Kind EndpointKind `json:"kind"`
	ID   int64        `json:"id"`
}

// UserEndpoint builds the endpoint of a personal user account.
func UserEndpoint(userID int64) Endpoint {
	return Endpoint{Kind: EndpointUser, ID: userID}
}

// BusinessEndpoint builds the endpoint of a business account.
func BusinessEndpoint(businessID int64) Endpoint {
	return Endpoint{Kind: EndpointBusiness, ID: businessID}
}

// Key renders a stable cache/map key for the endpoint, e.g. "user:7".
func (e Endpoint) Key() string {
	return fmt.Sprintf("%s:%d", e.Kind, e.ID)
}

// IsUser reports whether the endpoint is a personal user account.
func (e Endpoint) IsUser() bool { return e.Kind == EndpointUser }
