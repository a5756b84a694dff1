package stream

import "errors"

var (
	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	// Callers decide the retry policy; the package never retries silently.
	ErrStoreUnavailable = errors.New("backing store unavailable")
	// ErrSequenceConflict indicates a sequence number was assigned twice on the
	// same channel. It should never occur; observing it means the sequencer
	// invariant is broken and the process state cannot be trusted.
	ErrSequenceConflict = errors.New("sequence number already assigned")
	// ErrReplayGap is returned through Session.Err when a sequence range a
	// session still needs is permanently unavailable (e.g. removed by
	// retention). The session terminates instead of silently skipping messages.
	ErrReplayGap = errors.New("replay gap: sequence range permanently unavailable")
	// ErrMalformedMessage marks a persisted record that fails to decode. It is
	// logged and the record skipped; it never aborts a read.
	ErrMalformedMessage = errors.New("malformed message record")
	// ErrEmptyChannel is returned when an operation is called with an empty
	// channel name.
	ErrEmptyChannel = errors.New("channel name is required")
	// ErrBrokerClosed is returned by Publish and Subscribe after Close.
	ErrBrokerClosed = errors.New("broker is closed")
)
