/*
Package log provides structured logging via zerolog for every deepfreeze
component.

Init configures the global Logger once at process startup from a Config
(level, JSON vs. console output, and the destination writer). Every
controller and CLI command reads from the shared Logger rather than
constructing its own.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stderr})
	log.Logger.Info().Str("repository", name).Msg("rotation complete")

WithComponent, WithRepository, and WithThawRequest return a child logger
with the matching field pre-set. pkg/controller and pkg/registry use
WithRepository to attach the repository name to a log line without
repeating the field at each call site; WithComponent and WithThawRequest
have no callers in this module.
*/
package log
