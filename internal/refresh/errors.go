package refresh

import (
	"errors"
	"fmt"
)

var (
	// ErrCycleAborted is returned when a batch fails and the remaining
	// batches of the cycle are skipped. Results of earlier batches stay
	// applied.
	ErrCycleAborted = errors.New("refresh: cycle aborted")

	// ErrDeviceDisabled is returned when refreshing a disabled device.
	ErrDeviceDisabled = errors.New("refresh: device disabled")

	// ErrInvalidSchedule is returned for a cron expression that does not parse.
	ErrInvalidSchedule = errors.New("refresh: invalid schedule")
)

// BatchError reports which batch aborted a cycle. It matches both
// ErrCycleAborted and the underlying transport error.
type BatchError struct {
	Batch int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("refresh: cycle aborted at batch %d: %v", e.Batch, e.Err)
}

func (e *BatchError) Unwrap() []error {
	return []error{ErrCycleAborted, e.Err}
}
