package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when the ID or logical ID is already taken.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidRole is returned for an unknown role, or a parent set on a
	// standalone or hub device.
	ErrInvalidRole = errors.New("device: invalid role")

	// ErrParentRequired is returned when a child has no parent hub.
	ErrParentRequired = errors.New("device: child requires a parent hub")

	// ErrParentNotHub is returned when a child's parent is not a hub.
	ErrParentNotHub = errors.New("device: parent is not a hub")

	// ErrCommandNotFound is returned when a (device, logical ID) pair has no command.
	ErrCommandNotFound = errors.New("device: command not found")

	// ErrCommandExists is returned when creating a command that already exists.
	ErrCommandExists = errors.New("device: command already exists")
)
