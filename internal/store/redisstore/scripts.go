package redisstore

// likeLua applies a like to the match:<pair> hash. Returns the outcome code
// (0 pending, 1 exists, 2 matched) followed by the match hash fields.
//
//	KEYS: match, chat, actor matches zset, target matches zset
//	ARGV: actor, target, actor_name, target_name, match_id, chat_id, now_ms,
//	      participants_json, pair
const likeLua = `
local mkey = KEYS[1]
local code

local status = redis.call('HGET', mkey, 'status')
if not status then
    redis.call('HSET', mkey,
        'id', ARGV[5],
        'user1', ARGV[1], 'user2', ARGV[2],
        'user1_name', ARGV[3], 'user2_name', ARGV[4],
        'status', 'pending',
        'created_at', ARGV[7])
    code = 0
elseif status ~= 'pending' or redis.call('HGET', mkey, 'user1') == ARGV[1] then
    code = 1
else
    redis.call('HSET', mkey, 'status', 'matched', 'chat_id', ARGV[6], 'matched_at', ARGV[7])
    redis.call('HSET', KEYS[2],
        'participants', ARGV[8],
        'revealed', '0',
        'match_id', redis.call('HGET', mkey, 'id'),
        'created_at', ARGV[7])
    redis.call('ZADD', KEYS[3], ARGV[7], ARGV[9])
    redis.call('ZADD', KEYS[4], ARGV[7], ARGV[9])
    code = 2
end

local reply = redis.call('HGETALL', mkey)
table.insert(reply, 1, code)
return reply
`

// guessLua records a guess unless the chat is revealed. Returns -1 if the
// chat does not exist, otherwise the revealed flag (0/1) followed by every
// recorded guess as field/value pairs.
//
//	KEYS: chat, guesses
//	ARGV: user_id, guess
const guessLua = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return {-1}
end

local revealed = 0
if redis.call('HGET', KEYS[1], 'revealed') == '1' then
    revealed = 1
else
    redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
end

local reply = redis.call('HGETALL', KEYS[2])
table.insert(reply, 1, revealed)
return reply
`

// revealLua flips revealed from 0 to 1 if each expected guess is still
// stored. Returns 1 only for the call that performed the flip.
//
//	KEYS: chat, guesses
//	ARGV: now_ms, user_1, guess_1, user_2, guess_2, ...
const revealLua = `
if redis.call('HGET', KEYS[1], 'revealed') ~= '0' then
    return 0
end
for i = 2, #ARGV, 2 do
    if redis.call('HGET', KEYS[2], ARGV[i]) ~= ARGV[i + 1] then
        return 0
    end
end
redis.call('HSET', KEYS[1], 'revealed', '1', 'revealed_at', ARGV[1])
return 1
`

// joinPoolLua upserts a pool entry, keeping the first join time and
// refreshing seen_at. Returns the effective joined_at in milliseconds.
//
//	KEYS: entry, queue, seen
//	ARGV: user_id, mood, note, joined_ms, seen_ms
const joinPoolLua = `
local joined = redis.call('HGET', KEYS[1], 'joined_at')
if not joined then
    joined = ARGV[4]
end
redis.call('ZADD', KEYS[2], joined, ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[5], ARGV[1])
redis.call('HSET', KEYS[1], 'mood', ARGV[2], 'note', ARGV[3], 'joined_at', joined, 'seen_at', ARGV[5])
return joined
`

// touchPoolLua refreshes seen_at on an existing entry. Returns 1 if the entry
// exists.
//
//	KEYS: entry, seen
//	ARGV: user_id, seen_ms
const touchPoolLua = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 0
end
redis.call('HSET', KEYS[1], 'seen_at', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`

// claimPairLua removes both pool entries and creates the chat, or does
// nothing if either entry is already gone. Returns 1 on success.
//
//	KEYS: entry_a, entry_b, queue, chat, seen
//	ARGV: user_a, user_b, participants_json, now_ms
const claimPairLua = `
if redis.call('EXISTS', KEYS[1]) == 0 or redis.call('EXISTS', KEYS[2]) == 0 then
    return 0
end
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('ZREM', KEYS[3], ARGV[1], ARGV[2])
redis.call('ZREM', KEYS[5], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[4], 'participants', ARGV[3], 'revealed', '0', 'created_at', ARGV[4])
return 1
`
