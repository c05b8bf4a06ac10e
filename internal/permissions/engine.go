// Package permissions evaluates what the currently active persona may do to
// a resource. Every predicate is a total function of (actor, resource
// metadata) with no hidden state: rights attach to the acting persona, not
// to the principal behind it, so acting as your personal account never
// grants rights over content authored by a business you own, and vice
// versa.
package permissions

import "github.com/crewnet-hq/crewnet/internal/identity"

const (
	reasonLoginRequired = "login required"
	reasonNoAuthor      = "resource has no author account"
	reasonNotAuthor     = "only the authoring account may do this"
	reasonNotProfile    = "only the profile's own account may edit it"
	reasonNotOwner      = "account is not the registered owner"
	reasonNotActive     = "switch to the business account first"
)

// CanEditPost allows only the persona that authored the post.
func CanEditPost(actor *identity.Actor, post PostMeta) Decision {
	return authorMatch(actor, post.AuthorAccountID)
}

// CanDeletePost allows only the persona that authored the post.
func CanDeletePost(actor *identity.Actor, post PostMeta) Decision {
	return authorMatch(actor, post.AuthorAccountID)
}

// CanEditComment allows only the persona that authored the comment.
func CanEditComment(actor *identity.Actor, comment CommentMeta) Decision {
	return authorMatch(actor, comment.AuthorAccountID)
}

// CanDeleteComment allows the authoring persona, or the owner of the page
// the comment lives on as a moderation override.
func CanDeleteComment(actor *identity.Actor, comment CommentMeta) Decision {
	if actor == nil {
		return Deny(reasonLoginRequired)
	}
	if comment.PageOwnerAccountID != nil && *comment.PageOwnerAccountID == actor.Persona.ID {
		return Allow()
	}
	return authorMatch(actor, comment.AuthorAccountID)
}

// CanEditProfile allows a personal profile's own persona, or a business
// profile's persona when the principal behind it is also the registered
// owner. The persona match alone is necessary but not sufficient for
// businesses.
func CanEditProfile(actor *identity.Actor, profile ProfileMeta) Decision {
	if actor == nil {
		return Deny(reasonLoginRequired)
	}
	if profile.IsBusiness {
		if !actor.Persona.IsBusiness() || actor.Persona.ID != profile.AccountID {
			return Deny(reasonNotProfile)
		}
		if actor.Principal.ID != profile.OwnerPrincipalID {
			return Deny(reasonNotOwner)
		}
		return Allow()
	}
	if !actor.Persona.IsPersonal() || actor.Persona.ID != profile.AccountID {
		return Deny(reasonNotProfile)
	}
	return Allow()
}

// CanManageBusiness requires the business persona to be active and its
// principal to be the registered owner.
func CanManageBusiness(actor *identity.Actor, business BusinessMeta) Decision {
	if actor == nil {
		return Deny(reasonLoginRequired)
	}
	if !actor.Persona.IsBusiness() || actor.Persona.ID != business.ID {
		return Deny(reasonNotActive)
	}
	if actor.Principal.ID != business.OwnerPrincipalID {
		return Deny(reasonNotOwner)
	}
	return Allow()
}

// CanDeleteBusiness applies the same rule as CanManageBusiness: owning the
// business is not enough while acting as the personal persona.
func CanDeleteBusiness(actor *identity.Actor, business BusinessMeta) Decision {
	return CanManageBusiness(actor, business)
}

func authorMatch(actor *identity.Actor, authorAccountID *int64) Decision {
	if actor == nil {
		return Deny(reasonLoginRequired)
	}
	if authorAccountID == nil {
		return Deny(reasonNoAuthor)
	}
	if *authorAccountID != actor.Persona.ID {
		return Deny(reasonNotAuthor)
	}
	return Allow()
}
