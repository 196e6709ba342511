package services

import (
	"errors"
	"fmt"
)

// Errors surfaced by the user directory. Callers map them to transport
// statuses; raw store errors never cross this boundary.
var (
	ErrNotFound           = errors.New("user not found")
	ErrForbidden          = errors.New("forbidden")
	ErrEmailAlreadyExists = errors.New("email already exists")
	ErrInternal           = errors.New("internal failure")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrStorageDisabled    = errors.New("object storage is not configured")
)

// EmailAlreadyExistsError carries the conflicting address.
type EmailAlreadyExistsError struct {
	Email string
}

func (e *EmailAlreadyExistsError) Error() string {
	return fmt.Sprintf("email address %q already exists", e.Email)
}

func (e *EmailAlreadyExistsError) Is(target error) bool {
	return target == ErrEmailAlreadyExists
}
