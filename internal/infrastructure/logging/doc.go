// Package logging provides the structured logger shared by every reolinkd
// component.
//
// It is a thin layer over log/slog: the handler (JSON or text), the level and
// the destination come from config.LoggingConfig, and every record carries
// "service" and "version" attributes so log lines from several daemons can be
// told apart in one aggregator.
//
// Engine packages never import this package. They declare a four-method
// Logger interface and default to a no-op implementation; main wires the
// concrete *Logger in through SetLogger.
//
// Credentials must never reach a log record. Transports mask usernames to
// their first three characters and replace passwords with "***" before
// logging a request.
package logging
