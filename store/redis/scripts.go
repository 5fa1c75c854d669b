package redis

import goredis "github.com/redis/go-redis/v9"

// Instance Hash fields written by the scripts use the same names as
// instanceToMap. Empty strings stand for unset optional fields.

// createScript inserts an instance unless its idempotency key is taken.
//
//	KEYS: idempotency, instance, ready, instances, workflowInstances
//	ARGV: id, readyScore ('' when not claimable), createdScore, field/value pairs...
//
// Returns {1, id} when created and {0, existingID} otherwise.
var createScript = goredis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
  return {0, existing}
end
redis.call('SET', KEYS[1], ARGV[1])
local fields = {}
for i = 4, #ARGV do fields[#fields + 1] = ARGV[i] end
redis.call('HSET', KEYS[2], unpack(fields))
if ARGV[2] ~= '' then
  redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
end
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
redis.call('ZADD', KEYS[5], ARGV[3], ARGV[1])
return {1, ARGV[1]}
`)

// claimScript pops the earliest due instance and hands it to a worker.
// Entries flagged for cancel are finalized on the way.
//
//	KEYS: ready, processing
//	ARGV: nowScore, workerID, nowText, instancePrefix
//
// Returns the claimed id or nil.
var claimScript = goredis.NewScript(`
while true do
  local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
  if #due == 0 then
    return false
  end
  local id = due[1]
  local key = ARGV[4] .. id
  redis.call('ZREM', KEYS[1], id)
  local status = redis.call('HGET', key, 'status')
  if status == 'enqueued' or status == 'waiting' then
    if redis.call('HGET', key, 'cancel_requested') == '1' then
      redis.call('HSET', key, 'status', 'cancelled', 'cursor_node_id', '', 'delay_until', '',
        'worker_id', '', 'claimed_at', '', 'heartbeat_at', '',
        'completed_at', ARGV[3], 'updated_at', ARGV[3])
    else
      redis.call('HSET', key, 'status', 'processing', 'worker_id', ARGV[2],
        'claimed_at', ARGV[3], 'heartbeat_at', ARGV[3], 'updated_at', ARGV[3])
      redis.call('ZADD', KEYS[2], ARGV[1], id)
      return id
    end
  end
end
`)

// heartbeatScript refreshes a held claim.
//
//	KEYS: instance, processing
//	ARGV: id, workerID, nowScore, nowText
//
// Returns 1 on success, 0 when the claim is lost, -1 when missing.
var heartbeatScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= 'processing' or redis.call('HGET', KEYS[1], 'worker_id') ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], 'heartbeat_at', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

// cancelScript finalizes or flags an instance.
//
//	KEYS: instance, ready
//	ARGV: id, nowText
//
// Returns 1 when finalized, 2 when flagged, 0 when terminal, -1 when missing.
var cancelScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'enqueued' or status == 'waiting' then
  redis.call('HSET', KEYS[1], 'status', 'cancelled', 'cancel_requested', '1',
    'cursor_node_id', '', 'delay_until', '', 'worker_id', '', 'claimed_at', '', 'heartbeat_at', '',
    'completed_at', ARGV[2], 'updated_at', ARGV[2])
  redis.call('ZREM', KEYS[2], ARGV[1])
  return 1
end
if status == 'processing' then
  redis.call('HSET', KEYS[1], 'cancel_requested', '1', 'updated_at', ARGV[2])
  return 2
end
return 0
`)

// commitScript applies a step result while the caller holds the claim. The
// caller passes two variants of the next state: as computed, and as
// finalized by a pending cancel. The script picks one under the claim
// check.
//
//	KEYS: instance, steps, ready, processing
//	ARGV: workerID, id, entryA, entryB, readyScoreA, readyScoreB, countA,
//	      A field/value pairs..., B field/value pairs...
//
// Returns 1 for variant A, 2 for variant B, 0 when the claim is lost,
// -1 when missing.
var commitScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= 'processing' or redis.call('HGET', KEYS[1], 'worker_id') ~= ARGV[1] then
  return 0
end
local n = tonumber(ARGV[7])
local first, last, entry, score, variant = 8, 7 + n, ARGV[3], ARGV[5], 1
if redis.call('HGET', KEYS[1], 'cancel_requested') == '1' then
  first, last, entry, score, variant = 8 + n, #ARGV, ARGV[4], ARGV[6], 2
end
local fields = {}
for i = first, last do fields[#fields + 1] = ARGV[i] end
redis.call('HSET', KEYS[1], unpack(fields))
redis.call('RPUSH', KEYS[2], entry)
redis.call('ZREM', KEYS[4], ARGV[2])
if score ~= '' then
  redis.call('ZADD', KEYS[3], score, ARGV[2])
end
return variant
`)

// releaseScript returns expired claims to waiting, or finalizes them when a
// cancel is pending.
//
//	KEYS: processing, ready
//	ARGV: cutoffScore, nowScore, nowText, instancePrefix
//
// Returns the released ids.
var releaseScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
local released = {}
for _, id in ipairs(ids) do
  local key = ARGV[4] .. id
  redis.call('ZREM', KEYS[1], id)
  if redis.call('HGET', key, 'status') == 'processing' then
    if redis.call('HGET', key, 'cancel_requested') == '1' then
      redis.call('HSET', key, 'status', 'cancelled', 'cursor_node_id', '', 'delay_until', '',
        'completed_at', ARGV[3])
    else
      redis.call('HSET', key, 'status', 'waiting', 'available_at', ARGV[3])
      redis.call('ZADD', KEYS[2], ARGV[2], id)
    end
    redis.call('HSET', key, 'worker_id', '', 'claimed_at', '', 'heartbeat_at', '', 'updated_at', ARGV[3])
    released[#released + 1] = id
  end
end
return released
`)

// deactivateScript clears the active pointer of a code if it still names
// the workflow.
//
//	KEYS: active
//	ARGV: code, id
var deactivateScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) == ARGV[2] then
  redis.call('HDEL', KEYS[1], ARGV[1])
end
return 1
`)

var allScripts = []*goredis.Script{
	createScript, claimScript, heartbeatScript, cancelScript,
	commitScript, releaseScript, deactivateScript,
}
