package handoff

import "errors"

var (
	// ErrSupportUserNotFound indicates a handoff party is unknown.
	ErrSupportUserNotFound = errors.New("support user not found")

	// ErrAuthorNotFound indicates a note author is unknown.
	ErrAuthorNotFound = errors.New("note author not found")
)
