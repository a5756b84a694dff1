package registry

import "errors"

var (
	// ErrChannelNotFound is returned when an operation references a channel
	// that was never started or has been cleared. Not fatal; surfaced to the
	// caller.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrChannelActive is returned by Start when the channel already has a
	// running producer. Callers treating Start as idempotent can ignore it.
	ErrChannelActive = errors.New("channel already active")
	// ErrRegistryClosed is returned after Shutdown.
	ErrRegistryClosed = errors.New("registry is shut down")
)
