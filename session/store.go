package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned when the session record does not exist.
var ErrNotFound = errors.New("session not found")

// ErrExpired is returned when the session record has passed its expiry or
// was revoked by something other than a rotation of the presented token.
var ErrExpired = errors.New("session expired")

// ErrTokenReused is returned by Rotate when the presented refresh secret
// matches a session that was rotated away (it has a successor), or does
// not match the live secret of an active session. Both cases mean the
// token has been seen by more than one holder. A session revoked without
// a successor (logout, explicit revoke) is not reuse; it fails ErrExpired.
var ErrTokenReused = errors.New("refresh token reused")

// ErrCorrupt is returned when a stored record fails structural checks.
var ErrCorrupt = errors.New("session record corrupt")

const maxChainHops = 64

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
	rotateStatusCorrupt  int64 = 4
	rotateStatusReuse    int64 = 5
)

const (
	revokeStatusNotFound int64 = 0
	revokeStatusRevoked  int64 = 1
	revokeStatusAlready  int64 = 2
	revokeStatusCorrupt  int64 = -1
)

const luaHelpers = `
local function read_be64(s, i)
  local n = 0
  for k = 0, 7 do
    local b = string.byte(s, i + k)
    if not b then
      return nil
    end
    n = n * 256 + b
  end
  return n
end

local function write_be64(n)
  local bytes = {}
  for k = 8, 1, -1 do
    bytes[k] = string.char(n % 256)
    n = math.floor(n / 256)
  end
  return table.concat(bytes)
end

local function child_slot(data)
  local idx = 58
  local user_len = string.byte(data, idx)
  if not user_len then
    return nil
  end
  idx = idx + 1 + user_len
  local parent_len = string.byte(data, idx)
  if not parent_len then
    return nil
  end
  idx = idx + 1 + parent_len
  local child_len = string.byte(data, idx)
  if not child_len then
    return nil
  end
  return idx, child_len
end
`

// rotateScript checks the presented refresh hash against the stored one
// and, on match, revokes the record in place and links the successor
// session ID, all in a single atomic step.
//
// KEYS[1] session key
// ARGV[1] presented refresh hash (32 raw bytes)
// ARGV[2] successor session ID
// ARGV[3] now (unix seconds)
//
// Reply: {status} or {status, payload}. Statuses: 0 not found, 1 expired
// (also revoked rows without a successor), 2 live-session mismatch (record
// revoked as a side effect), 3 rotated (payload = updated record), 4
// corrupt, 5 reuse of a rotated token (payload = successor session ID).
// Only rows carrying a child link count as rotated away; a revocation by
// logout or revoke-all leaves no successor and is an ordinary expiry.
const rotateScript = luaHelpers + `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end
if string.byte(data, 1) ~= 1 or #data < 58 then
  return {4}
end

local stored_hash = string.sub(data, 2, 33)
local revoked_at = read_be64(data, 34)
local expires_at = read_be64(data, 50)
local now = tonumber(ARGV[3])

if expires_at <= now then
  return {1}
end

if revoked_at ~= 0 then
  if stored_hash == ARGV[1] then
    local idx, child_len = child_slot(data)
    if not idx then
      return {4}
    end
    if child_len > 0 then
      return {5, string.sub(data, idx + 1, idx + child_len)}
    end
  end
  return {1}
end

if stored_hash ~= ARGV[1] then
  local updated = string.sub(data, 1, 33) .. write_be64(now) .. string.sub(data, 42)
  redis.call("SET", KEYS[1], updated, "KEEPTTL")
  return {2}
end

local idx, child_len = child_slot(data)
if not idx then
  return {4}
end

local next_id = ARGV[2]
local updated = string.sub(data, 1, 33) .. write_be64(now) .. string.sub(data, 42, idx - 1)
  .. string.char(#next_id) .. next_id .. string.sub(data, idx + 1 + child_len)
redis.call("SET", KEYS[1], updated, "KEEPTTL")
return {3, updated}
`

// revokeScript stamps revoked-at on a live record and returns the updated
// blob so callers can follow the child link without a second read.
//
// KEYS[1] session key, ARGV[1] now (unix seconds).
// Reply: {0} not found, {1, blob} revoked, {2, blob} already revoked,
// {-1} corrupt.
const revokeScript = luaHelpers + `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end
if string.byte(data, 1) ~= 1 or #data < 58 then
  return {-1}
end
if read_be64(data, 34) ~= 0 then
  return {2, data}
end

local updated = string.sub(data, 1, 33) .. write_be64(tonumber(ARGV[1])) .. string.sub(data, 42)
redis.call("SET", KEYS[1], updated, "KEEPTTL")
return {1, updated}
`

var (
	rotateLua = redis.NewScript(rotateScript)
	revokeLua = redis.NewScript(revokeScript)
)

// Store persists sessions in Redis. Records live under
// <prefix>:s:<sessionID> with a TTL; a per-user set under
// <prefix>:u:<userID> indexes the user's session IDs for listing and
// revoke-all.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{
		redis:  client,
		prefix: prefix,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Save writes the session record and adds it to the user index. The index
// TTL is pushed out to at least the record TTL.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		pipe.Expire(ctx, s.userKey(sess.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get returns the session record, revoked or not. Callers decide what a
// revoked record means for them.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	sess.ID = sessionID

	return sess, nil
}

// Rotate runs the atomic rotation step for the presented refresh hash.
//
// On success it returns the old record, already revoked and linked to
// nextID; the caller then saves the successor session. On ErrTokenReused
// the returned child ID (possibly empty) is the head of the successor
// chain that should be revoked.
func (s *Store) Rotate(
	ctx context.Context,
	sessionID string,
	providedHash [32]byte,
	nextID string,
	now time.Time,
) (*Session, string, error) {
	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		providedHash[:],
		nextID,
		now.Unix(),
	).Result()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	status, payload, err := splitScriptReply(result)
	if err != nil {
		return nil, "", err
	}

	switch status {
	case rotateStatusNotFound:
		return nil, "", ErrNotFound
	case rotateStatusExpired:
		return nil, "", ErrExpired
	case rotateStatusMismatch:
		return nil, "", ErrTokenReused
	case rotateStatusReuse:
		return nil, string(payload), ErrTokenReused
	case rotateStatusRotated:
		sess, decErr := Decode(payload)
		if decErr != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrCorrupt, decErr)
		}
		sess.ID = sessionID
		return sess, nextID, nil
	case rotateStatusCorrupt:
		return nil, "", ErrCorrupt
	default:
		return nil, "", fmt.Errorf("%w: unknown rotate status %d", ErrRedisUnavailable, status)
	}
}

// Revoke stamps the session revoked. Revoking an already revoked session
// is a no-op; a missing session returns ErrNotFound. The returned record
// reflects the post-revoke state.
func (s *Store) Revoke(ctx context.Context, sessionID string, now time.Time) (*Session, error) {
	result, err := revokeLua.Run(ctx, s.redis, []string{s.key(sessionID)}, now.Unix()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	status, payload, err := splitScriptReply(result)
	if err != nil {
		return nil, err
	}

	switch status {
	case revokeStatusNotFound:
		return nil, ErrNotFound
	case revokeStatusRevoked, revokeStatusAlready:
		sess, decErr := Decode(payload)
		if decErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, decErr)
		}
		sess.ID = sessionID
		return sess, nil
	case revokeStatusCorrupt:
		return nil, ErrCorrupt
	default:
		return nil, fmt.Errorf("%w: unknown revoke status %d", ErrRedisUnavailable, status)
	}
}

// RevokeChain revokes the session chain starting at startID, following
// child links. Used after reuse detection to cut off every descendant the
// thief may hold. Returns the number of records revoked.
func (s *Store) RevokeChain(ctx context.Context, startID string, now time.Time) (int, error) {
	revoked := 0
	id := startID

	for hops := 0; id != "" && hops < maxChainHops; hops++ {
		sess, err := s.Revoke(ctx, id, now)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return revoked, err
		}
		revoked++
		id = sess.ChildID
	}

	return revoked, nil
}

// RevokeAllForUser revokes every indexed session of the user. Already
// revoked and expired entries are skipped; expired index entries are
// pruned.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string, now time.Time) error {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var stale []interface{}
	for _, id := range ids {
		if _, err := s.Revoke(ctx, id, now); err != nil {
			if errors.Is(err, ErrNotFound) {
				stale = append(stale, id)
				continue
			}
			return err
		}
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, s.userKey(userID), stale...).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return nil
}

// ListForUser returns the user's surviving session records, newest first.
// Index entries whose records have expired are pruned on the way.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, ids[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		sess, decErr := Decode(data)
		if decErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, decErr)
		}
		sess.ID = ids[i]
		sessions = append(sessions, sess)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, s.userKey(userID), stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt != sessions[j].CreatedAt {
			return sessions[i].CreatedAt > sessions[j].CreatedAt
		}
		return sessions[i].ID < sessions[j].ID
	})

	return sessions, nil
}

// Ping reports Redis availability and round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func splitScriptReply(result interface{}) (int64, []byte, error) {
	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return 0, nil, fmt.Errorf("%w: invalid script reply", ErrRedisUnavailable)
	}

	status, ok := parts[0].(int64)
	if !ok {
		return 0, nil, fmt.Errorf("%w: invalid script status", ErrRedisUnavailable)
	}

	var payload []byte
	if len(parts) > 1 {
		switch v := parts[1].(type) {
		case string:
			payload = []byte(v)
		case []byte:
			payload = v
		default:
			return 0, nil, fmt.Errorf("%w: invalid script payload", ErrRedisUnavailable)
		}
	}

	return status, payload, nil
}
