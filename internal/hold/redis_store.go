package hold

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-boxoffice/internal/apperror"
	"ms-boxoffice/internal/config"
	"ms-boxoffice/internal/logger"
)

// acquireScript checks every seat before touching any of them, so a
// partially contended request locks nothing. Re-acquiring with the
// caller's own token refreshes the TTL. Returns the 1-based indices of
// contended KEYS, or an empty array when all seats were taken.
var acquireScript = redis.NewScript(`
local token = ARGV[1]
local ttl_ms = ARGV[2]
local conflicts = {}
for i, key in ipairs(KEYS) do
  local cur = redis.call("GET", key)
  if cur and cur ~= token then
    table.insert(conflicts, i)
  end
end
if #conflicts > 0 then
  return conflicts
end
for i, key in ipairs(KEYS) do
  redis.call("SET", key, token, "PX", ttl_ms)
end
return {}
`)

// extendScript refreshes the TTL only while the caller still owns the
// hold. An expired or foreign hold is a NOOP (0), never an error.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`)

// RedisStore is the shared-store hold manager. Correctness under
// concurrent API processes rests entirely on the scripts running
// atomically server-side; there is no in-process locking.
type RedisStore struct {
	Client *redis.Client
	Config config.HoldConfig
	Logger *logger.Logger
}

func NewRedisStore(client *redis.Client, cfg config.HoldConfig, log *logger.Logger) *RedisStore {
	return &RedisStore{Client: client, Config: cfg, Logger: log}
}

func (s *RedisStore) Acquire(ctx context.Context, p AcquireParams) (AcquireResult, error) {
	if err := validateAcquire(p); err != nil {
		return AcquireResult{}, err
	}

	token := Token{Version: p.Version, Owner: p.Owner}.String()
	ttl := clampTTL(p.TTL, s.Config.MinTTL, s.Config.MaxTTL, s.Config.DefaultTTL)

	keys := make([]string, len(p.SeatIDs))
	for i, seatID := range p.SeatIDs {
		keys[i] = Key(p.Tenant, p.PerformanceID, seatID)
	}

	raw, err := acquireScript.Run(ctx, s.Client, keys, token, ttl.Milliseconds()).Result()
	if err != nil {
		// The caller must treat this as "lock not acquired".
		return AcquireResult{}, apperror.Wrap(apperror.System, "hold_store", "hold store unavailable", err)
	}

	indices, ok := raw.([]interface{})
	if !ok {
		return AcquireResult{}, apperror.New(apperror.System, "hold_store", "unexpected hold store reply")
	}
	if len(indices) == 0 {
		s.Logger.LogHold("ACQUIRE", p.PerformanceID, token)
		return AcquireResult{OK: true, TTL: ttl}, nil
	}

	conflicts := make([]string, 0, len(indices))
	for _, idx := range indices {
		i, ok := idx.(int64)
		if !ok || i < 1 || int(i) > len(p.SeatIDs) {
			return AcquireResult{}, apperror.New(apperror.System, "hold_store", "unexpected hold store reply")
		}
		conflicts = append(conflicts, p.SeatIDs[i-1])
	}
	return AcquireResult{OK: false, Conflicts: conflicts}, nil
}

func (s *RedisStore) Extend(ctx context.Context, p ExtendParams) (bool, error) {
	token := Token{Version: p.Version, Owner: p.Owner}.String()
	ttl := clampTTL(p.TTL, s.Config.MinTTL, s.Config.MaxTTL, s.Config.DefaultTTL)

	n, err := extendScript.Run(ctx, s.Client,
		[]string{Key(p.Tenant, p.PerformanceID, p.SeatID)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, apperror.Wrap(apperror.System, "hold_store", "hold store unavailable", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, p ReleaseParams) (bool, error) {
	token := Token{Version: p.Version, Owner: p.Owner}.String()

	n, err := releaseScript.Run(ctx, s.Client,
		[]string{Key(p.Tenant, p.PerformanceID, p.SeatID)}, token).Int64()
	if err != nil {
		return false, apperror.Wrap(apperror.System, "hold_store", "hold store unavailable", err)
	}
	if n == 1 {
		s.Logger.LogHold("RELEASE", Key(p.Tenant, p.PerformanceID, p.SeatID), token)
	}
	return n == 1, nil
}

// Current returns the hold token for one seat, or "" when no unexpired
// hold exists. Read path for the verifier.
func (s *RedisStore) Current(ctx context.Context, tenant, performanceID, seatID string) (string, error) {
	val, err := s.Client.Get(ctx, Key(tenant, performanceID, seatID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", apperror.Wrap(apperror.System, "hold_store", "hold store unavailable", err)
	}
	return val, nil
}

var _ Manager = (*RedisStore)(nil)

// ttl helper for tests.
func (s *RedisStore) ttlOf(ctx context.Context, tenant, performanceID, seatID string) (time.Duration, error) {
	return s.Client.PTTL(ctx, Key(tenant, performanceID, seatID)).Result()
}
