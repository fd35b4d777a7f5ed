// Package access decides whether one user may read another user's library.
// Owners always see their own books; anyone else needs a grant from the owner.
// Grants are re-read on every check.
package access

import (
	"context"

	"shelfshare/internal/apperr"
)

const msgNoAccess = "You have no access"

// GrantStore persists the owner to target grant relation. InsertGrant must
// succeed when the pair already exists.
type GrantStore interface {
	HasGrant(ctx context.Context, ownerID, targetID int64) (bool, error)
	InsertGrant(ctx context.Context, ownerID, targetID int64) error
}

type Policy struct {
	grants GrantStore
}

func NewPolicy(grants GrantStore) *Policy {
	return &Policy{grants: grants}
}

// CanAccess reports whether requesterID may read ownerID's resources.
func (p *Policy) CanAccess(ctx context.Context, ownerID, requesterID int64) (bool, error) {
	if ownerID == requesterID {
		return true, nil
	}
	ok, err := p.grants.HasGrant(ctx, ownerID, requesterID)
	if err != nil {
		return false, apperr.Storage(err)
	}
	return ok, nil
}

// Grant lets targetID read ownerID's resources. Self grants are implicit and
// never stored.
func (p *Policy) Grant(ctx context.Context, ownerID, targetID int64) error {
	if ownerID == targetID {
		return nil
	}
	if err := p.grants.InsertGrant(ctx, ownerID, targetID); err != nil {
		return apperr.Storage(err)
	}
	return nil
}

// Require returns a forbidden error unless CanAccess holds.
func (p *Policy) Require(ctx context.Context, ownerID, requesterID int64) error {
	ok, err := p.CanAccess(ctx, ownerID, requesterID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden(msgNoAccess)
	}
	return nil
}
