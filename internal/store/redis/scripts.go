package redis

import goredis "github.com/redis/go-redis/v9"

// KEYS[1] session hash, KEYS[2] user set, KEYS[3] expiry index.
// ARGV[1] token digest, ARGV[2] expires_at, ARGV[3..] hash field/value pairs.
var createSessionLua = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 3))
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[2], ARGV[1])
return 1
`)

// KEYS[1] session hash. Returns -1 when absent, otherwise the previous flag.
var revokeSessionLua = goredis.NewScript(`
local prev = redis.call("HGET", KEYS[1], "is_revoked")
if not prev then
  return -1
end
if prev == "1" then
  return 1
end
redis.call("HSET", KEYS[1], "is_revoked", "1")
return 0
`)

// KEYS[1] session hash. ARGV[1] last_used_at. Returns 0 when absent.
var markUsedLua = goredis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "last_used_at")
if not cur then
  return 0
end
if tonumber(ARGV[1]) > tonumber(cur) then
  redis.call("HSET", KEYS[1], "last_used_at", ARGV[1])
end
return 1
`)

// KEYS[1] user set. ARGV[1] session key prefix. Returns the number of
// sessions that changed state. Members whose hash is gone are pruned.
var revokeUserSessionsLua = goredis.NewScript(`
local count = 0
local members = redis.call("SMEMBERS", KEYS[1])
for _, digest in ipairs(members) do
  local key = ARGV[1] .. digest
  local flag = redis.call("HGET", key, "is_revoked")
  if not flag then
    redis.call("SREM", KEYS[1], digest)
  elseif flag == "0" then
    redis.call("HSET", key, "is_revoked", "1")
    count = count + 1
  end
end
return count
`)

// KEYS[1] expiry index. ARGV[1] cutoff (exclusive), ARGV[2] session key
// prefix, ARGV[3] user set prefix, ARGV[4] batch size. Returns
// {entries scanned, sessions deleted}.
var deleteExpiredLua = goredis.NewScript(`
local digests = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1], "LIMIT", 0, tonumber(ARGV[4]))
local deleted = 0
for _, digest in ipairs(digests) do
  local key = ARGV[2] .. digest
  local user = redis.call("HGET", key, "user_id")
  if user then
    redis.call("SREM", ARGV[3] .. user, digest)
  end
  deleted = deleted + redis.call("DEL", key)
  redis.call("ZREM", KEYS[1], digest)
end
return {#digests, deleted}
`)
