// Package redis implements store.Store on Redis for deployments that
// already run Redis and accept its durability model.
//
// Jobs and dead letter entries are Hashes. Pending jobs wait on a delayed
// Sorted Set scored by eligible time; the claim script promotes every due
// job into a ready Sorted Set scored by priority·1e13 + scheduled_ms and
// hands out the first match, so claim order matches the SQL backends:
// priority, then scheduled_for, then job ID. Due jobs of a tenant that is
// not active wait in a per-tenant parked set, which PutTenant returns to
// the ready set on activation, so suspended backlogs cost claims nothing.
// Processing jobs are indexed by start time for the stuck-job reaper.
//
// Every compare-and-set (claim, lease-guarded outcomes, cancellation,
// dead letter dedup and retry claims) runs as a Lua script, which Redis
// executes atomically. Scripts address job and entry Hashes found through
// the indexes, so the store targets a single Redis node or a primary
// with replicas, not Redis Cluster.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
