// Package cron ingests trigger instances on a schedule.
//
// Entries are stored alongside instances. Every scheduler evaluates due
// entries on each tick and ingests them under the idempotency key
// "cron:<name>:<unix tick>", derived from the scheduled fire time. Several
// schedulers firing the same tick therefore collapse into one instance and
// no leader election is needed.
//
// Schedules use the standard 5-field cron syntax or descriptors such as
// "@hourly" and "@every 30s".
package cron
