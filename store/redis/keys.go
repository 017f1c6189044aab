package redis

// Redis key naming conventions for conveyor data.
// All keys are prefixed with "conveyor:" to avoid collisions.

const keyPrefix = "conveyor:"

// ── Job keys ──

// jobKeyPrefix is prepended to a job ID to form its Hash key. Lua scripts
// receive it so they can address job hashes found through the indexes.
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the key for a job entity: conveyor:job:{id}
func jobKey(id string) string { return jobKeyPrefix + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// tenantJobsKey returns the Set of job IDs owned by a tenant.
func tenantJobsKey(tenantID string) string { return keyPrefix + "tenant_jobs:" + tenantID }

// uniqueKey returns the String key mapping a producer key to a job ID.
func uniqueKey(tenantID, key string) string { return keyPrefix + "unique:" + tenantID + "|" + key }

// delayedKey is the Sorted Set of pending jobs scored by eligible_ms.
const delayedKey = keyPrefix + "pending:delayed"

// readyKey is the Sorted Set of due pending jobs of active tenants scored
// by priority·1e13 + scheduled_ms. Equal scores fall back to member order,
// which is job ID order.
const readyKey = keyPrefix + "pending:ready"

// parkedKeyPrefix is prepended to a tenant ID to form the Sorted Set of
// due jobs held back while the tenant is not active. Scores match readyKey.
const parkedKeyPrefix = keyPrefix + "pending:parked:"

// parkedKey returns the parked set of a tenant: conveyor:pending:parked:{id}
func parkedKey(tenantID string) string { return parkedKeyPrefix + tenantID }

// processingKey is the Sorted Set of processing jobs scored by started_ms.
const processingKey = keyPrefix + "processing"

// ── Tenant keys ──

// tenantStatusKey is the Hash of tenant ID → status read by the claim script.
const tenantStatusKey = keyPrefix + "tenants"

// tenantKey returns the key for a tenant entity: conveyor:tenant:{id}
func tenantKey(id string) string { return keyPrefix + "tenant:" + id }

// ── Dead letter keys ──

// entryKeyPrefix is prepended to an entry ID to form its Hash key.
const entryKeyPrefix = keyPrefix + "dlq:"

// entryKey returns the key for a dead letter entry: conveyor:dlq:{id}
func entryKey(id string) string { return entryKeyPrefix + id }

// entryIDsKey is the Set tracking all entry IDs for enumeration.
const entryIDsKey = keyPrefix + "dlq_ids"

// entryPendingKey is the Sorted Set of pending entries scored by
// last_attempt_ms.
const entryPendingKey = keyPrefix + "dlq_pending"

// dedupKey returns the String key holding the newest entry ID for a dedup key.
func dedupKey(key string) string { return keyPrefix + "dlq_latest:" + key }
