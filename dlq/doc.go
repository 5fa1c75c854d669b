// Package dlq keeps instances that ended in the failed state for inspection
// and replay. Replaying an entry ingests a fresh instance of the same
// workflow with the original payload under a derived idempotency key, so a
// replay itself is idempotent.
package dlq
