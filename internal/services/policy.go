package services

import "github.com/accountd/apiserver/types"

// EffectiveRole decides the role a new account receives. Only admins may
// choose a role; everyone else, anonymous registration included, gets the
// default. Unknown or empty requests also fall back to the default.
func EffectiveRole(requested, actorRole types.Role) types.Role {
	if actorRole != types.RoleAdmin {
		return types.DefaultRole
	}
	if role, ok := types.ParseRole(string(requested)); ok {
		return role
	}
	return types.DefaultRole
}
