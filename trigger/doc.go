// Package trigger defines trigger instances, the unit of workflow execution,
// and the ingestion path that materializes them.
//
// An instance is created by Ingest in the enqueued state. Workers claim it
// (processing), execute the node at its cursor, and commit the resulting
// transition together with a step log entry. Ingest is idempotent per
// (workflow, idempotency key): a repeated key returns the existing instance
// unchanged.
//
// State machine:
//
//	enqueued|waiting --claim--> processing
//	processing --success, has next--> enqueued (cursor advanced)
//	processing --success, no next--> completed
//	processing --delay--> waiting (cursor unchanged)
//	processing --retryable failure, budget left--> waiting
//	processing --retryable failure, budget exhausted--> failed
//	processing --permanent failure--> failed
//	any non-terminal --cancel--> cancelled
package trigger
