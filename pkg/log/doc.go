/*
Package log provides structured logging for the controller built on zerolog.

All subsystems log through child loggers created with WithComponent, so every
line carries a component field that identifies the subsystem (monitor, syncmgr,
update, ...). Domain helpers (WithService, WithProfile, WithTask, WithSnapshot)
attach the identifiers operators grep for.

# Usage

Initialize once at process start:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: false,
	})

Create a component logger:

	logger := log.WithComponent("monitor")
	logger.Info().Str("service_id", "kaspa-node").Msg("service became healthy")

Console output (human-readable) is the default; pass JSONOutput for machine
ingestion.
*/
package log
