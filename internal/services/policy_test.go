package services

import (
	"testing"

	"github.com/accountd/apiserver/types"
	"github.com/stretchr/testify/assert"
)

func TestEffectiveRole(t *testing.T) {
	tests := []struct {
		name      string
		requested types.Role
		actor     types.Role
		want      types.Role
	}{
		{"admin grants admin", types.RoleAdmin, types.RoleAdmin, types.RoleAdmin},
		{"admin grants user", types.RoleUser, types.RoleAdmin, types.RoleUser},
		{"admin without request", "", types.RoleAdmin, types.DefaultRole},
		{"admin with unknown role", "superuser", types.RoleAdmin, types.DefaultRole},
		{"user cannot grant admin", types.RoleAdmin, types.RoleUser, types.DefaultRole},
		{"anonymous cannot grant admin", types.RoleAdmin, "", types.DefaultRole},
		{"anonymous default", "", "", types.DefaultRole},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EffectiveRole(tc.requested, tc.actor))
		})
	}
}

func TestEmailAlreadyExistsError(t *testing.T) {
	err := &EmailAlreadyExistsError{Email: "a@x.com"}
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)
	assert.NotErrorIs(t, err, ErrInternal)
	assert.Contains(t, err.Error(), "a@x.com")
}
