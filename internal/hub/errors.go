package hub

import (
	"errors"

	"github.com/nerrad567/reolink-core/internal/transport"
)

var (
	// ErrNotHub is returned for hub operations on a camera.
	ErrNotHub = transport.ErrNotHub

	// ErrMalformedResponse is returned when the mediation service answers
	// with JSON of the wrong shape.
	ErrMalformedResponse = errors.New("hub: malformed response")

	// ErrSceneRejected is returned when the hub does not confirm a scene change.
	ErrSceneRejected = errors.New("hub: scene change rejected")

	// ErrMotionRejected is returned when motion detection could not be toggled.
	ErrMotionRejected = errors.New("hub: motion detection change rejected")
)
