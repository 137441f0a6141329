package assignment

import "errors"

var (
	ErrAlreadyAssigned    = errors.New("session already has an active assignment")
	ErrNotAssigned        = errors.New("session has no active assignment")
	ErrAgentNotFound      = errors.New("support agent not found")
	ErrAgentNotSupport    = errors.New("user does not hold a support role")
	ErrAgentAtCapacity    = errors.New("support agent is at capacity")
	ErrNoAvailableAgent   = errors.New("no support agent is available")
	ErrSelfTransfer       = errors.New("cannot transfer a session to its current agent")
	ErrInvalidAssignment  = errors.New("invalid assignment parameters")
)
