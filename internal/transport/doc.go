// Package transport routes device calls to the right wire protocol.
//
// Two transports exist:
//
//   - Direct: the camera's native CGI API. One HTTP POST carries an array of
//     commands and returns an array of results aligned with it.
//   - Mediated: a local HTTP service that talks to a hub on behalf of the
//     core. One POST per semantic operation (ability, refresh_info,
//     discover, scenes...), with the hub credentials in the body.
//
// The Router hides the choice. Callers pass a device and a Request and get
// back a []Result of {cmd, value} items whichever branch was taken.
//
// # Error Handling
//
// Network failures, timeouts, non-2xx statuses and unparseable bodies are
// all ErrTransportUnreachable. Missing credentials fail before any I/O with
// ErrMissingCredentials.
package transport
