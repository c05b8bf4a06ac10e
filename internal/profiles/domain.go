// Package profiles manages user and business profile records. Businesses
// are the accounts a principal can act as; their ownership column is the
// source of truth the identity layer validates persona switches against.
package profiles

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// UserProfile is the public face of a personal account.
type UserProfile struct {
	ID                     int64     `json:"id"`
	DisplayName            string    `json:"display_name"`
	Headline               string    `json:"headline"`
	Bio                    string    `json:"bio"`
	FollowApprovalRequired bool      `json:"follow_approval_required"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// BusinessProfile is a business account page. NameKey is the case-folded,
// NFC-normalised form of Name the database enforces uniqueness on.
type BusinessProfile struct {
	ID               int64     `json:"id"`
	OwnerPrincipalID int64     `json:"owner_principal_id"`
	Name             string    `json:"name"`
	NameKey          string    `json:"-"`
	Description      string    `json:"description"`
	Website          string    `json:"website"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

var foldCaser = cases.Fold()

// NormalizeName trims and NFC-normalises a display or business name so
// visually identical names compare equal.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// NameKeyOf derives the uniqueness key for a business name.
func NameKeyOf(name string) string {
	return foldCaser.String(NormalizeName(name))
}
