package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Sliding window over sorted set scored by attempt time in milliseconds
// Trim, count and record run as one script, so concurrent requests can't both take the last slot
const admitScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", "(" .. (now - window))
local count = redis.call("ZCARD", key)
if count >= limit then
  return 0
end

redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, window)
return 1
`

var admitLua = goredis.NewScript(admitScript)

type AttemptRepo struct {
	Client  goredis.UniversalClient
	Timeout time.Duration
}

func NewAttemptRepo(client goredis.UniversalClient, timeout time.Duration) *AttemptRepo {
	return &AttemptRepo{Client: client, Timeout: timeout}
}

func (r *AttemptRepo) key(key string) string {
	return keyPrefix + "attempts:" + key
}

func (r *AttemptRepo) Admit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	admitted, err := admitLua.Run(ctx, r.Client,
		[]string{r.key(key)},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}

	return admitted == 1, nil
}
