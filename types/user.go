package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the authorization level of an account.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"

	// DefaultRole is assigned whenever a requested role is not honored.
	DefaultRole = RoleUser
)

// ParseRole normalizes a role name. It reports false for unknown roles.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleUser:
		return RoleUser, true
	default:
		return "", false
	}
}

// User represents an account in the system.
// It contains identity, role, profile and audit metadata.
type User struct {
	// ID is the opaque unique identifier assigned at creation.
	ID uuid.UUID `json:"id" db:"id"`

	// Email is the user's email address. It is unique across all users.
	Email string `json:"email" db:"email"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Role indicates the user's authorization level.
	Role Role `json:"role" db:"role"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// AvatarKey is the object storage key of the profile picture.
	AvatarKey string `json:"avatar_key,omitempty" db:"avatar_key"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CreateUserInput carries the fields accepted when creating an account.
type CreateUserInput struct {
	Email    string
	Password string
	Name     string
	Role     Role
}

// UserPatch is a partial update. Nil fields are left unchanged.
type UserPatch struct {
	Email    *string
	Password *string
	Name     *string
	Role     *Role
}

// Empty reports whether the patch carries no fields.
func (p UserPatch) Empty() bool {
	return p.Email == nil && p.Password == nil && p.Name == nil && p.Role == nil
}
