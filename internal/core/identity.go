package core

import (
	"strings"

	"github.com/google/uuid"
)

const (
	IdentityAnonymous     IdentityKind = "anonymous"
	IdentityAuthenticated IdentityKind = "authenticated"
)

// IdentityKind tells whether the owner key came from an authenticated
// session or from a locally generated pseudo-identity.
type IdentityKind string

// Identity is resolved once per session and scopes every collection.
type Identity struct {
	Kind    IdentityKind
	OwnerID string
}

// AuthenticatedIdentity wraps an id issued by an authentication provider.
func AuthenticatedIdentity(id string) (Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Identity{}, ErrEmptyOwner
	}
	return Identity{Kind: IdentityAuthenticated, OwnerID: id}, nil
}

// NewAnonymousIdentity generates a fresh random pseudo-identity.
func NewAnonymousIdentity() Identity {
	return Identity{Kind: IdentityAnonymous, OwnerID: uuid.NewString()}
}

// AnonymousIdentity restores a previously generated token. Only well-formed
// UUIDs are accepted so clients cannot pick arbitrary owner keys.
func AnonymousIdentity(token string) (Identity, bool) {
	u, err := uuid.Parse(strings.TrimSpace(token))
	if err != nil {
		return Identity{}, false
	}
	return Identity{Kind: IdentityAnonymous, OwnerID: u.String()}, true
}

func (i Identity) IsAnonymous() bool {
	return i.Kind == IdentityAnonymous
}
