package server

import "errors"

var (
	// ErrMissingAddress is returned when no listen address is provided.
	ErrMissingAddress = errors.New("server address is required")
	// ErrServerAlreadyRunning is returned by Start on a running server.
	ErrServerAlreadyRunning = errors.New("server is already running")
)
