/*
Package log provides structured logging for the composer agent using zerolog.

It wraps a single global zerolog.Logger, initialized once via Init, with
helper constructors for attaching stable context fields (component, manager
id, connector id) to child loggers used throughout the reconciler and
platform client.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	log.Info("composer starting")

	reconcilerLog := log.WithComponent("reconciler")
	reconcilerLog.Info().Str("connector_id", id).Msg("deploying workload")

Secrets must never reach these helpers: callers log the configuration key
name and a failure reason, never the decrypted value.
*/
package log
