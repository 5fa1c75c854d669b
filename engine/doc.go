// Package engine wires all Courier subsystems together. It creates the
// extension registry, middleware chain, workflow service, ingestor,
// executor, DLQ, cron scheduler and worker pool, and exposes the
// operations callers use: Publish, Activate, Ingest, Cancel, GetInstance
// and ListStepLogs.
//
// This package exists to break the import cycle: the root courier package
// defines Entity and the sentinel errors (imported by workflow, trigger and
// the rest) and so cannot import those packages back. The engine package
// sits above all subsystem packages and below the application layer.
package engine
