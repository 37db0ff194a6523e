package synth

import "errors"

// ErrLinkResolutionFailed is recorded when a command's valueFrom names a
// command the device does not have. It never aborts synthesis.
var ErrLinkResolutionFailed = errors.New("synth: value link resolution failed")
