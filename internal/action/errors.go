package action

import "errors"

var (
	// ErrActionFailed is returned when the device did not confirm an action.
	// The message is meant for the user.
	ErrActionFailed = errors.New("action: execution failed")

	// ErrNotAction is returned when executing an info command.
	ErrNotAction = errors.New("action: command is not an action")

	// ErrMissingOption is returned when a select or slider value is required
	// but absent.
	ErrMissingOption = errors.New("action: missing option")

	// ErrInvalidPayload is returned when the substituted payload is not a
	// JSON object.
	ErrInvalidPayload = errors.New("action: invalid payload")
)
