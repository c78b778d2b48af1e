package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates credential verification failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized indicates no authenticated principal was present.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the principal is authenticated but not allowed.
	ErrForbidden = errors.New("forbidden")
	// ErrReferenceNotFound indicates a referenced identifier did not resolve.
	ErrReferenceNotFound = errors.New("referenced entity not found")
	// ErrDuplicate indicates a uniqueness constraint was violated.
	ErrDuplicate = errors.New("duplicate entry")
)

// ReferenceNotFound wraps ErrReferenceNotFound naming the missing id.
func ReferenceNotFound(kind string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrReferenceNotFound, kind, id)
}
