package redis

import goredis "github.com/redis/go-redis/v9"

// enqueueScript inserts a job hash and indexes it.
//
// KEYS: job hash, job_ids, tenant_jobs, delayed, unique ("" when unset)
// ARGV: job id, eligible_ms, field/value pairs...
// Returns 1 on insert, 0 when the ID or unique key is taken.
var enqueueScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
if KEYS[5] ~= '' then
  if not redis.call('SET', KEYS[5], ARGV[1], 'NX') then
    return 0
  end
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[2], ARGV[1])
return 1
`)

// claimScript promotes every due delayed job, then claims the first ready
// job that matches the filters.
//
// Due jobs of tenants that are not active go to the tenant's parked set
// instead of the ready set. A ready job whose tenant was suspended after
// promotion is parked when the scan reaches it, so each job is examined at
// most once per suspension and later claims skip it. putTenantScript moves
// the parked set back when the tenant is activated.
//
// KEYS: delayed, ready, processing, tenant status hash
// ARGV: now_ms, now (RFC3339Nano), tenant filter, job key prefix,
// parked key prefix, types...
// Returns the claimed job ID or nil.
var claimScript = goredis.NewScript(`
local delayed, ready, processing, tenants = KEYS[1], KEYS[2], KEYS[3], KEYS[4]
local now_ms = tonumber(ARGV[1])
local tenant_filter = ARGV[3]
local prefix, parked = ARGV[4], ARGV[5]

local types = {}
local any_type = true
for i = 6, #ARGV do
  types[ARGV[i]] = true
  any_type = false
end

while true do
  local due = redis.call('ZRANGEBYSCORE', delayed, '-inf', ARGV[1], 'LIMIT', 0, 1000)
  if #due == 0 then
    break
  end
  for _, jid in ipairs(due) do
    local f = redis.call('HMGET', prefix .. jid, 'state', 'priority', 'scheduled_ms', 'tenant_id')
    redis.call('ZREM', delayed, jid)
    if f[1] == 'pending' then
      local score = string.format('%.0f', tonumber(f[2]) * 1e13 + tonumber(f[3]))
      if redis.call('HGET', tenants, f[4]) == 'active' then
        redis.call('ZADD', ready, score, jid)
      else
        redis.call('ZADD', parked .. f[4], score, jid)
      end
    end
  end
end

local offset = 0
while true do
  local page = redis.call('ZRANGE', ready, offset, offset + 99, 'WITHSCORES')
  if #page == 0 then
    return false
  end
  for i = 1, #page, 2 do
    local jid, score = page[i], page[i + 1]
    local key = prefix .. jid
    local f = redis.call('HMGET', key, 'state', 'type', 'tenant_id', 'eligible_ms')
    if f[1] ~= 'pending' then
      redis.call('ZREM', ready, jid)
    elseif redis.call('HGET', tenants, f[3]) ~= 'active' then
      redis.call('ZREM', ready, jid)
      redis.call('ZADD', parked .. f[3], score, jid)
    elseif (any_type or types[f[2]])
      and (tenant_filter == '' or f[3] == tenant_filter)
      and tonumber(f[4]) <= now_ms then
      redis.call('ZREM', ready, jid)
      redis.call('HINCRBY', key, 'attempt', 1)
      redis.call('HSET', key, 'state', 'processing', 'started_at', ARGV[2],
        'started_ms', ARGV[1], 'updated_at', ARGV[2])
      redis.call('ZADD', processing, ARGV[1], jid)
      return jid
    else
      offset = offset + 1
    end
  end
end
`)

// transitionScript applies a lease-guarded outcome to a processing job.
//
// KEYS: job hash, processing, delayed
// ARGV: job id, attempt, mode (complete|retry|bury|release),
// scheduled_ms (retry and release only), field/value pairs...
// Returns 1 on success, 0 when the lease no longer owns the job, -1 when
// the job does not exist.
var transitionScript = goredis.NewScript(`
local key, processing, delayed = KEYS[1], KEYS[2], KEYS[3]
if redis.call('EXISTS', key) == 0 then
  return -1
end
local f = redis.call('HMGET', key, 'state', 'attempt')
if f[1] ~= 'processing' or f[2] ~= ARGV[2] then
  return 0
end
if #ARGV > 4 then
  redis.call('HSET', key, unpack(ARGV, 5))
end
redis.call('ZREM', processing, ARGV[1])

local mode = ARGV[3]
if mode == 'bury' then
  redis.call('HSET', key, 'retry_count', redis.call('HGET', key, 'max_retries'))
elseif mode == 'retry' or mode == 'release' then
  local eligible = tonumber(ARGV[4])
  local nb = tonumber(redis.call('HGET', key, 'not_before_ms') or '0')
  if nb > eligible then
    eligible = nb
  end
  redis.call('HSET', key, 'scheduled_ms', ARGV[4], 'eligible_ms', eligible)
  redis.call('ZADD', delayed, eligible, ARGV[1])
end
return 1
`)

// cancelScript cancels one pending or processing job.
//
// KEYS: job hash, delayed, ready, processing
// ARGV: job id, at (RFC3339Nano), parked key prefix
// Returns {1} on success, {0, state} for terminal jobs, {-1} when missing.
var cancelScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1}
end
local f = redis.call('HMGET', KEYS[1], 'state', 'tenant_id')
if f[1] ~= 'pending' and f[1] ~= 'processing' then
  return {0, f[1]}
end
redis.call('HSET', KEYS[1], 'state', 'cancelled', 'completed_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('ZREM', ARGV[3] .. f[2], ARGV[1])
return {1}
`)

// cancelTenantScript cancels every pending job of a tenant.
//
// KEYS: tenant_jobs, delayed, ready, parked
// ARGV: job key prefix, at (RFC3339Nano)
// Returns the number of jobs cancelled.
var cancelTenantScript = goredis.NewScript(`
local n = 0
for _, jid in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  local key = ARGV[1] .. jid
  if redis.call('HGET', key, 'state') == 'pending' then
    redis.call('HSET', key, 'state', 'cancelled', 'completed_at', ARGV[2], 'updated_at', ARGV[2])
    redis.call('ZREM', KEYS[2], jid)
    redis.call('ZREM', KEYS[3], jid)
    n = n + 1
  end
end
redis.call('DEL', KEYS[4])
return n
`)

// putTenantScript writes a tenant and mirrors its status into the status
// Hash. Activating a tenant moves its parked jobs back to the ready set.
//
// KEYS: tenant hash, tenant status hash, parked, ready
// ARGV: tenant id, status, created_at, updated_at
// Returns the number of jobs moved back.
var putTenantScript = goredis.NewScript(`
redis.call('HSETNX', KEYS[1], 'created_at', ARGV[3])
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'status', ARGV[2], 'updated_at', ARGV[4])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
if ARGV[2] ~= 'active' then
  return 0
end
local n = 0
while true do
  local page = redis.call('ZRANGE', KEYS[3], 0, 999, 'WITHSCORES')
  if #page == 0 then
    break
  end
  for i = 1, #page, 2 do
    redis.call('ZADD', KEYS[4], page[i + 1], page[i])
    redis.call('ZREM', KEYS[3], page[i])
    n = n + 1
  end
end
return n
`)

// submitScript folds a dead letter into the newest pending entry with the
// same dedup key created after the window cutoff, or inserts it.
//
// KEYS: dedup pointer, new entry hash, entry_ids, dlq_pending
// ARGV: entry key prefix, new entry id, cutoff_ms, error_message,
// error_code, stack, last_attempt_at, last_attempt_ms, updated_at,
// field/value pairs of the new entry...
// Returns {1, id} when folded, {0, id} when inserted.
var submitScript = goredis.NewScript(`
local latest = redis.call('GET', KEYS[1])
if latest then
  local key = ARGV[1] .. latest
  local f = redis.call('HMGET', key, 'status', 'created_ms')
  if f[1] == 'pending' and tonumber(f[2]) > tonumber(ARGV[3]) then
    redis.call('HINCRBY', key, 'failure_count', 1)
    redis.call('HSET', key, 'error_message', ARGV[4], 'error_code', ARGV[5], 'stack', ARGV[6],
      'last_attempt_at', ARGV[7], 'last_attempt_ms', ARGV[8], 'updated_at', ARGV[9])
    redis.call('ZADD', KEYS[4], ARGV[8], latest)
    return {1, latest}
  end
end
redis.call('HSET', KEYS[2], unpack(ARGV, 10))
redis.call('SADD', KEYS[3], ARGV[2])
redis.call('ZADD', KEYS[4], ARGV[8], ARGV[2])
redis.call('SET', KEYS[1], ARGV[2])
return {0, ARGV[2]}
`)

// claimEntriesScript moves eligible pending entries to retrying.
//
// KEYS: dlq_pending
// ARGV: entry key prefix, attempted_before_ms, tenant filter, max failures,
// limit (0 = no limit), now (RFC3339Nano)
// Returns the claimed entry IDs, oldest attempt first.
var claimEntriesScript = goredis.NewScript(`
local limit = tonumber(ARGV[5])
local maxf = tonumber(ARGV[4])
local claimed = {}
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[2])
for _, eid in ipairs(ids) do
  if limit > 0 and #claimed >= limit then
    break
  end
  local key = ARGV[1] .. eid
  local f = redis.call('HMGET', key, 'status', 'tenant_id', 'failure_count')
  if f[1] == 'pending'
    and (ARGV[3] == '' or f[2] == ARGV[3])
    and tonumber(f[3]) < maxf then
    redis.call('HSET', key, 'status', 'retrying', 'updated_at', ARGV[6])
    redis.call('ZREM', KEYS[1], eid)
    claimed[#claimed + 1] = eid
  end
end
return claimed
`)

// entryTransitionScript moves an entry out of an allowed set of statuses.
//
// KEYS: entry hash, dlq_pending
// ARGV: entry id, mode (fail|resolve), at (RFC3339Nano), at_ms, error
// message or notes, resolved_by
// Returns {1} on success, {0, status} on a disallowed status, {-1} when
// missing.
var entryTransitionScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1}
end
local status = redis.call('HGET', KEYS[1], 'status')
if ARGV[2] == 'fail' then
  if status ~= 'retrying' then
    return {0, status}
  end
  redis.call('HINCRBY', KEYS[1], 'failure_count', 1)
  if ARGV[5] ~= '' then
    redis.call('HSET', KEYS[1], 'error_message', ARGV[5])
  end
  redis.call('HSET', KEYS[1], 'status', 'pending', 'last_attempt_at', ARGV[3],
    'last_attempt_ms', ARGV[4], 'updated_at', ARGV[3])
  redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
  return {1}
end
if status ~= 'pending' and status ~= 'retrying' then
  return {0, status}
end
redis.call('HSET', KEYS[1], 'status', 'resolved', 'resolution_notes', ARGV[5],
  'resolved_by', ARGV[6], 'resolved_at', ARGV[3], 'updated_at', ARGV[3])
redis.call('ZREM', KEYS[2], ARGV[1])
return {1}
`)

// archiveScript archives pending entries created before the cutoff or
// whose failure count reached the maximum.
//
// KEYS: dlq_pending
// ARGV: entry key prefix, created_before_ms, max failures, at (RFC3339Nano)
// Returns the number of entries archived.
var archiveScript = goredis.NewScript(`
local n = 0
for _, eid in ipairs(redis.call('ZRANGE', KEYS[1], 0, -1)) do
  local key = ARGV[1] .. eid
  local f = redis.call('HMGET', key, 'created_ms', 'failure_count')
  if tonumber(f[1]) < tonumber(ARGV[2]) or tonumber(f[2]) >= tonumber(ARGV[3]) then
    redis.call('HSET', key, 'status', 'archived', 'updated_at', ARGV[4])
    redis.call('ZREM', KEYS[1], eid)
    n = n + 1
  end
end
return n
`)

// scripts is every script, keyed by name, for preloading in Migrate.
var scripts = map[string]*goredis.Script{
	"enqueue":          enqueueScript,
	"claim":            claimScript,
	"transition":       transitionScript,
	"cancel":           cancelScript,
	"cancel_tenant":    cancelTenantScript,
	"put_tenant":       putTenantScript,
	"submit":           submitScript,
	"claim_entries":    claimEntriesScript,
	"entry_transition": entryTransitionScript,
	"archive":          archiveScript,
}
