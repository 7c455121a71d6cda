/*
Package log is a thin zerolog wrapper shared by every long-running
component. Init configures the package-level Logger once at process
start (console or JSON output, minimum level); everything else calls
one of the With* helpers to get a child logger tagged with the
identifier relevant to its call site:

	logger := log.WithComponent("orchestrator")
	logger.Info().Str("job_id", job.JobID).Msg("phase advanced")

WithMachine, WithJob, WithWorker, and WithAgent attach the matching
entity ID instead of a component name, for call sites scoped to one
machine, deployment job, BootWorker, or agent rather than one package.
*/
package log
