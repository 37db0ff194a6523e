package probe

import (
	"errors"

	"github.com/nerrad567/reolink-core/internal/transport"
)

// Domain-specific errors for capability probing.
var (
	// ErrMissingCredentials is returned when the resolved credentials are
	// incomplete. It is the transport sentinel, so errors.Is matches either.
	ErrMissingCredentials = transport.ErrMissingCredentials

	// ErrProbeUnreachable wraps any transport failure or device rejection.
	ErrProbeUnreachable = errors.New("probe: device unreachable")

	// ErrEmptyAbilitySet is returned when the device reports one ability or fewer.
	ErrEmptyAbilitySet = errors.New("probe: empty ability set")
)
