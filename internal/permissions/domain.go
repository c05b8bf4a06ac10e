package permissions

// Decision is the outcome of a permission predicate. Denial is a normal
// result consumed by the UI to disable affordances; it is never surfaced
// through the error channel.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allow returns a positive decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny returns a negative decision with a human-readable reason.
func Deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// PostMeta is the authorship metadata of a post. AuthorAccountID is the
// persona (account) id that authored the post; legacy rows without one are
// denied by default.
type PostMeta struct {
	AuthorAccountID *int64
}

// CommentMeta is the authorship metadata of a comment. PageOwnerAccountID
// is the persona owning the page the comment's parent post lives on; it
// grants a moderation override on deletion.
type CommentMeta struct {
	AuthorAccountID    *int64
	PageOwnerAccountID *int64
}

// ProfileMeta identifies a profile page. OwnerPrincipalID is only
// meaningful for business profiles.
type ProfileMeta struct {
	IsBusiness       bool
	AccountID        int64
	OwnerPrincipalID int64
}

// BusinessMeta identifies a business account and its registered owner.
type BusinessMeta struct {
	ID               int64
	OwnerPrincipalID int64
}
