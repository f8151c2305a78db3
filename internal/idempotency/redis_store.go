package idempotency

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-boxoffice/internal/apperror"
)

// beginScript creates the record if absent and tags it with the caller's
// request id. Re-use of the key with a different body hash is a
// conflict. Values are returned as an array headed by the state string.
var beginScript = redis.NewScript(`
local key = KEYS[1]
local request_id = ARGV[1]
local body_hash = ARGV[2]
local ttl_ms = ARGV[3]

if redis.call("EXISTS", key) == 0 then
  redis.call("HSET", key, "state", "in_progress", "owner_request_id", request_id, "body_hash", body_hash)
  redis.call("PEXPIRE", key, ttl_ms)
  return {"new"}
end

if redis.call("HGET", key, "body_hash") ~= body_hash then
  return {"conflict"}
end

local state = redis.call("HGET", key, "state")
if state == "committed" then
  return {"committed", redis.call("HGET", key, "response_status") or "", redis.call("HGET", key, "response_body") or ""}
end

return {"in_progress", redis.call("HGET", key, "owner_request_id") or ""}
`)

var commitScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return 0
end
redis.call("HSET", key, "state", "committed", "response_status", ARGV[1], "response_body", ARGV[2])
redis.call("PEXPIRE", key, ARGV[3])
return 1
`)

// releaseScript deletes only an in-progress record owned by the same
// request, so a slow loser can never release the winner's marker.
var releaseScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("HGET", key, "state") == "in_progress" and redis.call("HGET", key, "owner_request_id") == ARGV[1] then
  redis.call("DEL", key)
  return 1
end
return 0
`)

type RedisStore struct {
	Client *redis.Client
	Prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client, Prefix: "idem"}
}

func (s *RedisStore) redisKey(scope, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.Prefix, scope, key)
}

func (s *RedisStore) Begin(ctx context.Context, scope, key, requestID, bodyHash string, ttl time.Duration) (BeginResult, error) {
	raw, err := beginScript.Run(ctx, s.Client,
		[]string{s.redisKey(scope, key)}, requestID, bodyHash, ttl.Milliseconds()).Result()
	if err != nil {
		return BeginResult{}, apperror.Wrap(apperror.System, "idempotency_store", "idempotency store unavailable", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) == 0 {
		return BeginResult{}, apperror.New(apperror.System, "idempotency_store", "unexpected idempotency store reply")
	}

	switch State(asString(values[0])) {
	case StateNew:
		return BeginResult{State: StateNew}, nil
	case StateConflict:
		return BeginResult{State: StateConflict}, nil
	case StateInProgress:
		res := BeginResult{State: StateInProgress}
		if len(values) > 1 {
			res.OwnerRequestID = asString(values[1])
		}
		return res, nil
	case StateCommitted:
		if len(values) < 3 {
			return BeginResult{}, apperror.New(apperror.System, "idempotency_store", "truncated committed record")
		}
		status, parseErr := strconv.Atoi(asString(values[1]))
		if parseErr != nil {
			return BeginResult{}, apperror.Wrap(apperror.System, "idempotency_store", "bad cached status", parseErr)
		}
		body, decodeErr := base64.StdEncoding.DecodeString(asString(values[2]))
		if decodeErr != nil {
			return BeginResult{}, apperror.Wrap(apperror.System, "idempotency_store", "bad cached body", decodeErr)
		}
		return BeginResult{State: StateCommitted, Cached: &CachedResponse{Status: status, Body: body}}, nil
	default:
		return BeginResult{}, apperror.New(apperror.System, "idempotency_store", "unknown idempotency state")
	}
}

func (s *RedisStore) Commit(ctx context.Context, scope, key string, resp CachedResponse, ttl time.Duration) error {
	_, err := commitScript.Run(ctx, s.Client,
		[]string{s.redisKey(scope, key)},
		resp.Status,
		base64.StdEncoding.EncodeToString(resp.Body),
		ttl.Milliseconds()).Result()
	if err != nil {
		return apperror.Wrap(apperror.System, "idempotency_store", "idempotency store unavailable", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, scope, key, requestID string) error {
	_, err := releaseScript.Run(ctx, s.Client,
		[]string{s.redisKey(scope, key)}, requestID).Result()
	if err != nil {
		return apperror.Wrap(apperror.System, "idempotency_store", "idempotency store unavailable", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)

func asString(v interface{}) string {
	switch typed := v.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(v)
	}
}
