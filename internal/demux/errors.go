package demux

import "errors"

// ErrUnmappedResponseCode is reported for a response whose code has no
// decoder. The rest of the response list is still applied.
var ErrUnmappedResponseCode = errors.New("demux: unmapped response code")

// ErrDeviceRejected is reported for a response item the device marked as
// failed.
var ErrDeviceRejected = errors.New("demux: device rejected command")
