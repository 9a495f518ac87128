package bridge

import "errors"

var (
	// ErrTransportUnavailable marks operations attempted while a transport is
	// not connected. The bridge logs and skips them; it never retries inside
	// a cycle.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrIdentityMismatch is returned for control commands addressed to a
	// different robot. The dispatcher is stopped before it is returned.
	ErrIdentityMismatch = errors.New("robot identity mismatch")

	// ErrPublisherStopped is returned when starting a publisher that was
	// already stopped.
	ErrPublisherStopped = errors.New("publisher stopped")

	// ErrDispatcherClosed is returned for commands that arrive after the
	// dispatcher was closed for shutdown.
	ErrDispatcherClosed = errors.New("dispatcher closed")

	// ErrBridgeClosed is returned by Start once Shutdown has run.
	ErrBridgeClosed = errors.New("bridge shut down")
)
