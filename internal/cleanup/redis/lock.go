package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-admission/internal/logger"
)

// LockKey guards the cleanup job so only one replica runs it at a time.
const LockKey = "cleanup_lock"

type Redis struct {
	Client *redis.Client
	Logger *logger.Logger
}

func NewRedis(client *redis.Client, log *logger.Logger) *Redis {
	return &Redis{Client: client, Logger: log}
}

// Lock takes key for owner if nobody holds it. The lock expires after ttl
// so a crashed holder cannot block the job forever.
func (r *Redis) Lock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.Client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		r.Logger.Debug("REDIS", fmt.Sprintf("%s is held by another instance", key))
	}
	return ok, nil
}

// unlockScript deletes the key only if it still holds the caller's owner
// token, in one round trip.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Unlock releases key only while owner still holds it.
func (r *Redis) Unlock(ctx context.Context, key, owner string) error {
	released, err := r.Client.Eval(ctx, unlockScript, []string{key}, owner).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	if released == 0 {
		r.Logger.Warn("REDIS", fmt.Sprintf("%s expired or taken over before release, leaving it", key))
	}
	return nil
}
