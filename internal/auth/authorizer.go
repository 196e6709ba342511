package auth

import (
	"github.com/accountd/apiserver/types"
	"github.com/google/uuid"
)

// Authorizer decides whether actor may act on a resource owned by ownerID.
type Authorizer interface {
	CanAct(ownerID uuid.UUID, actor types.User) bool
}

// OwnerOrAdmin grants access to the resource owner and to admins.
type OwnerOrAdmin struct{}

func (OwnerOrAdmin) CanAct(ownerID uuid.UUID, actor types.User) bool {
	if actor.ID == uuid.Nil {
		return false
	}
	return actor.ID == ownerID || actor.IsAdmin()
}
