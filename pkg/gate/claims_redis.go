package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClaimScript acquires an execution slot atomically.
// KEYS[1] = claim key ("s2do:claim:<pending_id>")
// ARGV[1] = claimant marker (timestamp)
// Returns 1 when this caller acquired the slot, 0 when it was already taken.
var redisClaimScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
    return 0
end
redis.call("SET", key, ARGV[1])
return 1
`)

// RedisClaimStore is a ClaimStore shared across gate replicas. Claims are
// plain keys with no TTL: an execution slot, once spent, stays spent.
type RedisClaimStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClaimStore wraps an existing Redis client.
func NewRedisClaimStore(client *redis.Client) *RedisClaimStore {
	return &RedisClaimStore{client: client, prefix: "s2do:claim:"}
}

func (s *RedisClaimStore) Claim(ctx context.Context, id string) (bool, error) {
	res, err := redisClaimScript.Run(ctx, s.client,
		[]string{s.prefix + id},
		time.Now().UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim error: %w", err)
	}
	acquired, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("invalid response from lua script")
	}
	return acquired == 1, nil
}
