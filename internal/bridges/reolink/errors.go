package reolink

import "errors"

var (
	// ErrInvalidTopic is returned for a command topic that does not name a
	// device and a command.
	ErrInvalidTopic = errors.New("reolink: invalid command topic")

	// ErrInvalidMessage is returned for a command payload that cannot be parsed.
	ErrInvalidMessage = errors.New("reolink: invalid command message")

	// ErrBridgeStopped is returned by workflows started after Stop.
	ErrBridgeStopped = errors.New("reolink: bridge stopped")
)
