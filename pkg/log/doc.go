/*
Package log provides structured logging for SBE using zerolog.

A single global Logger is configured once by Init, from the CLI flags or the
daemon configuration. Components derive child loggers that carry their
context as fields:

	logger := log.WithComponent("scheduler")
	logger.Info().Str("target", "db01").Msg("Job due")

	jobLog := log.WithJob("db01", "daily", runID)
	jobLog.Error().Err(err).Msg("Worker failed")

Console output (the default) is meant for operators following the daemon in
a terminal or journal; JSON output is meant for log shippers.

Passphrases and key material must never be passed to a logger. The keys
package redacts KeyMaterial in its String method so that an accidental
%v does not leak it.
*/
package log
