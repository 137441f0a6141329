package auth

import "errors"

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrTokenExpired   = errors.New("token expired")
	ErrBadSignature   = errors.New("invalid token signature")
	ErrEmptySecret    = errors.New("signing secret is empty")
)
