// Package postgres implements store.Store on PostgreSQL using pgx/v5 with
// raw SQL.
//
// Claims use SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers never
// block on each other. Every instance transition is a conditional UPDATE on
// the current status and claim owner, and CommitStep writes the instance
// and its step log row in one transaction. Schema migrations are embedded
// SQL files tracked in the courier_migrations table.
package postgres
