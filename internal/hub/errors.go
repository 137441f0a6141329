package hub

import "errors"

var (
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrHubAlreadyRunning = errors.New("hub is already running")
)

// clientError is a handler failure that maps to a scoped error event on the
// originating connection. Handlers return it instead of writing the frame
// themselves so every error emission goes through one place.
type clientError struct {
	code      string
	message   string
	retryable bool
}

func (e *clientError) Error() string {
	return e.code + ": " + e.message
}

func newClientError(code, message string, retryable bool) *clientError {
	return &clientError{code: code, message: message, retryable: retryable}
}
