package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength      = 100
	maxLogicalIDLength = 80
	maxChannel         = 255
	maxPort            = 65535
	maxInfoKeys        = 50
	logicalIDPattern   = `^[A-Za-z0-9]+(?:[-_][A-Za-z0-9]+)*$`
)

var logicalIDRegex = regexp.MustCompile(logicalIDPattern)

var validRoles map[Role]struct{}

func init() {
	validRoles = make(map[Role]struct{}, len(AllRoles()))
	for _, r := range AllRoles() {
		validRoles[r] = struct{}{}
	}
}

// ValidateDevice checks a device's own fields. Parent existence is checked
// by the Registry, which has access to other devices.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if err := ValidateLogicalID(d.LogicalID); err != nil {
		return err
	}
	if err := ValidateRole(d.Role); err != nil {
		return err
	}

	switch d.Role {
	case RoleChild:
		if d.ParentHubID == "" {
			return ErrParentRequired
		}
		if d.ParentHubID == d.ID {
			return fmt.Errorf("%w: device cannot be its own parent", ErrInvalidRole)
		}
	default:
		if d.ParentHubID != "" {
			return fmt.Errorf("%w: %s device cannot have a parent hub", ErrInvalidRole, d.Role)
		}
	}

	if d.Channel < 0 || d.Channel > maxChannel {
		return fmt.Errorf("%w: channel %d out of range 0-%d", ErrInvalidDevice, d.Channel, maxChannel)
	}
	if d.Credentials.Port < 0 || d.Credentials.Port > maxPort {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidDevice, d.Credentials.Port)
	}
	if len(d.Info) > maxInfoKeys {
		return fmt.Errorf("%w: info exceeds max keys (%d)", ErrInvalidDevice, maxInfoKeys)
	}
	return nil
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateLogicalID checks the format of a logical ID.
func ValidateLogicalID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: logical_id cannot be empty", ErrInvalidDevice)
	}
	if len(id) > maxLogicalIDLength {
		return fmt.Errorf("%w: logical_id exceeds %d characters", ErrInvalidDevice, maxLogicalIDLength)
	}
	if !logicalIDRegex.MatchString(id) {
		return fmt.Errorf("%w: logical_id must be alphanumeric with - or _ separators", ErrInvalidDevice)
	}
	return nil
}

// ValidateRole checks if a role is known.
func ValidateRole(role Role) error {
	if _, ok := validRoles[role]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return nil
}

// GenerateLogicalID derives a logical ID from a device name.
func GenerateLogicalID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))

	var result strings.Builder
	for _, r := range id {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			result.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			result.WriteRune('_')
		}
	}
	id = strings.Trim(result.String(), "_")
	for strings.Contains(id, "__") {
		id = strings.ReplaceAll(id, "__", "_")
	}

	if len(id) > maxLogicalIDLength {
		id = strings.TrimRight(id[:maxLogicalIDLength], "_")
	}
	if id == "" {
		id = "camera_" + GenerateID()[:8]
	}
	return id
}

// GenerateID creates a new UUID for a device.
func GenerateID() string {
	return uuid.New().String()
}
