package gateway

import "errors"

var (
	ErrConnectionClosed           = errors.New("connection is closed")
	ErrWriteTimeout               = errors.New("write operation timed out")
	ErrInvalidJSON                = errors.New("failed to marshal JSON")
	ErrNilConnection              = errors.New("connection cannot be nil")
	ErrConnectionNotAuthenticated = errors.New("connection must be authenticated")
	ErrAlreadyAuthenticated       = errors.New("connection is already authenticated")
)
