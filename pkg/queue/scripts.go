package queue

import "github.com/redis/go-redis/v9"

// Every mutating queue operation is one server-side script, so concurrent
// producers and consumers never observe a half-applied rebalance or a
// message that is both present and claimed.
//
// Millisecond timestamps and score bounds are formatted client-side and
// travel as string ARGV: Lua 5.1 renders large numbers in exponent
// notation, which would corrupt ZSET scores.

// rebalanceLua is shared by join, exit and cleanup. It distributes the 50
// partitions round-robin over the active owners sorted by owner id, after
// deleting every existing assignment list. Owners beyond the partition
// count end up with no list.
const rebalanceLua = `
local function rebalance(prefix, activity, partitions)
  local owners = redis.call("ZRANGE", activity, 0, -1)
  table.sort(owners)
  local lists = redis.call("KEYS", prefix .. "queue_list:*")
  for _, k in ipairs(lists) do
    redis.call("DEL", k)
  end
  if #owners > 0 then
    for p = 1, partitions do
      local owner = owners[(p - 1) % #owners + 1]
      redis.call("RPUSH", prefix .. "queue_list:" .. owner, string.format("%03d", p))
    end
  end
  return owners
end
`

// deliverLua appends one wrapped payload to a partition.
//
// KEYS[1] partition zset, KEYS[2] counter.
// ARGV: member, score ms, max total, expire seconds, random draw,
// eviction score bound.
const deliverLua = `
local total = tonumber(redis.call("GET", KEYS[2]) or "0")
if total >= tonumber(ARGV[3]) then
  return "queue_full"
end
local added = redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
redis.call("EXPIRE", KEYS[1], ARGV[4])
if added == 1 then
  redis.call("INCR", KEYS[2])
end
if tonumber(ARGV[5]) < 0.1 then
  local removed = redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[6])
  if removed > 0 then
    local left = redis.call("DECRBY", KEYS[2], removed)
    if left < 0 then
      redis.call("SET", KEYS[2], 0)
    end
  end
end
return "ok"
`

// joinLua registers an owner, prunes stale owners and rebalances.
// Reply: owner count followed by (owner, comma-joined partitions) pairs.
//
// KEYS[1] activity zset.
// ARGV: prefix, owner id, now ms, stale score bound, partition count.
const joinLua = `
redis.call("ZADD", KEYS[1], ARGV[3], ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[4])
local owners = rebalance(ARGV[1], KEYS[1], tonumber(ARGV[5]))
local reply = {#owners}
for _, o in ipairs(owners) do
  table.insert(reply, o)
  local ps = redis.call("LRANGE", ARGV[1] .. "queue_list:" .. o, 0, -1)
  table.insert(reply, table.concat(ps, ","))
end
return reply
`

// exitLua removes an owner and rebalances. Reply: remaining owner count.
//
// KEYS[1] activity zset. ARGV: prefix, owner id, partition count.
const exitLua = `
redis.call("ZREM", KEYS[1], ARGV[2])
local owners = rebalance(ARGV[1], KEYS[1], tonumber(ARGV[3]))
return #owners
`

// keepaliveLua refreshes an owner's activity score, but only when the
// owner still holds an assignment list. Reply: 1 refreshed, 0 rejected.
//
// KEYS[1] activity zset, KEYS[2] owner assignment list.
// ARGV: owner id, now ms.
const keepaliveLua = `
if redis.call("EXISTS", KEYS[2]) == 0 then
  return 0
end
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
return 1
`

// getMessagesLua pops at most one old-enough message per assigned
// partition, lowest score first. Reply: status followed by
// (member, score) pairs.
//
// An empty Redis list does not exist as a key, so membership in the
// activity zset is the join marker: an active owner without a list simply
// holds no partitions right now.
//
// KEYS[1] activity zset, KEYS[2] owner assignment list, KEYS[3] counter.
// ARGV: prefix, owner id, max score bound.
const getMessagesLua = `
if not redis.call("ZSCORE", KEYS[1], ARGV[2]) then
  return {"JOIN_REQUIRED"}
end
local parts = redis.call("LRANGE", KEYS[2], 0, -1)
if #parts == 0 then
  return {"NO_QUEUES"}
end
local reply = {"OK"}
for _, p in ipairs(parts) do
  local key = ARGV[1] .. "queue:" .. p
  local hit = redis.call("ZRANGEBYSCORE", key, "-inf", ARGV[3], "WITHSCORES", "LIMIT", 0, 1)
  if #hit == 2 then
    redis.call("ZREM", key, hit[1])
    local left = redis.call("DECRBY", KEYS[3], 1)
    if left < 0 then
      redis.call("SET", KEYS[3], 0)
    end
    table.insert(reply, hit[1])
    table.insert(reply, hit[2])
  end
end
return reply
`

// cleanupLua evicts owners whose activity score fell behind the bound and
// rebalances when anything was evicted. Reply: evicted count.
//
// KEYS[1] activity zset. ARGV: prefix, stale score bound, partition count.
const cleanupLua = `
local evicted = redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[2])
if evicted > 0 then
  rebalance(ARGV[1], KEYS[1], tonumber(ARGV[3]))
end
return evicted
`

// forceCleanupLua wipes ownership state. With purge disabled the counter
// is recomputed from the actual partition sizes; with purge enabled the
// partitions are deleted too and the counter zeroed. Reply: new counter.
//
// KEYS[1] activity zset, KEYS[2] counter.
// ARGV: prefix, purge flag, partition count.
const forceCleanupLua = `
redis.call("DEL", KEYS[1])
local lists = redis.call("KEYS", ARGV[1] .. "queue_list:*")
for _, k in ipairs(lists) do
  redis.call("DEL", k)
end
if ARGV[2] == "1" then
  for p = 1, tonumber(ARGV[3]) do
    redis.call("DEL", ARGV[1] .. "queue:" .. string.format("%03d", p))
  end
  redis.call("SET", KEYS[2], 0)
  return 0
end
local total = 0
for p = 1, tonumber(ARGV[3]) do
  total = total + redis.call("ZCARD", ARGV[1] .. "queue:" .. string.format("%03d", p))
end
redis.call("SET", KEYS[2], total)
return total
`

var (
	deliverScript      = redis.NewScript(deliverLua)
	joinScript         = redis.NewScript(rebalanceLua + joinLua)
	exitScript         = redis.NewScript(rebalanceLua + exitLua)
	keepaliveScript    = redis.NewScript(keepaliveLua)
	getMessagesScript  = redis.NewScript(getMessagesLua)
	cleanupScript      = redis.NewScript(rebalanceLua + cleanupLua)
	forceCleanupScript = redis.NewScript(forceCleanupLua)
)
