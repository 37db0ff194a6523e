package statesync

import "errors"

// ErrNotLinked is returned by ApplyLinked for a command without a value link.
var ErrNotLinked = errors.New("statesync: command has no linked state")
