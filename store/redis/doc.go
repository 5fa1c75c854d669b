// Package redis implements store.Store on Redis.
//
// Instances are Redis Hashes; claimable ones sit in a Sorted Set scored by
// AvailableAt and claimed ones in a Sorted Set scored by their last
// heartbeat. Every compare-and-swap (claim, heartbeat, cancel, step commit,
// stale release) runs as a Lua script, so it is atomic on the server.
// Definitions, DLQ entries and cron entries are JSON values with index
// sets for enumeration.
//
// The scripts build instance keys from the configured prefix. On Redis
// Cluster, use a prefix carrying a hash tag (for example "{courier}:") so
// every key lands in one slot.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
