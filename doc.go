// Package courier provides a durable execution engine for notification
// workflows. A workflow is a directed graph of nodes (send email, send SMS,
// delay, branch, terminal) joined by edges. External trigger events are
// ingested under an idempotency key and each resulting trigger instance is
// driven through the graph by a pool of workers, one step at a time.
//
// Courier is designed as a library. Import it, configure a store, publish a
// workflow definition and start the engine.
//
// # Quick Start
//
//	c, err := courier.New(
//	    courier.WithStore(pgStore),
//	    courier.WithConcurrency(20),
//	)
//	eng, err := engine.Build(c, engine.WithProvider(delivery.ChannelEmail, mailer))
//	inst, created, err := eng.Ingest(ctx, workflowID, "order-123", payload)
//
// # Architecture
//
// Courier follows the composable store pattern: each subsystem (workflow,
// trigger, steplog, dlq) defines its own store interface and a single backend
// implements all of them. Mutual exclusion between workers is expressed
// entirely through the store's atomic claim and commit operations, so any
// number of processes may run pools against the same store.
//
// Every step attempt appends one immutable [steplog.Entry] in the same atomic
// unit as the instance state transition it caused.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package courier
