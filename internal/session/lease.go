package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is a cross-process mutual exclusion with a TTL.
type Lease interface {
	// Acquire returns ok false without error when another holder has the lease.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLease implements Lease with SET NX PX and a compare-and-delete release.
type RedisLease struct {
	client redis.UniversalClient
}

// NewRedisLease returns a Lease backed by client.
func NewRedisLease(client redis.UniversalClient) *RedisLease {
	return &RedisLease{client: client}
}

func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	// The lease may have lapsed and been taken by another holder; only our token is deleted.
	release := func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.client, []string{key}, token).Err()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	return release, true, nil
}
