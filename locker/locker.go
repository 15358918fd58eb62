// Package locker provides the mutual-exclusion lock that keeps two batch
// sweeps from overlapping. The lock is a Redis key with a TTL: a holder that
// dies simply lets the key expire, so a stale lock is reclaimed instead of
// wedging the sweep forever.
package locker

import (
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"
	extErrors "github.com/pkg/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	Redis  redis.UniversalClient
	Logger *zap.Logger
	TTL    time.Duration
}

type Locker struct {
	Options
}

func New(option Options) (*Locker, error) {
	if option.Redis == nil {
		return nil, fmt.Errorf("nil Redis is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.TTL <= 0 {
		return nil, fmt.Errorf("non-positive TTL is invalid")
	}
	return &Locker{
		Options: option,
	}, nil
}

func lockKey(name string) string {
	return "rebill:lock:" + name
}

// Acquire takes the named lock. Returns the owner token on success; ok is
// false when another holder has it. A lock found without an expiry (left by
// a crashed holder before its TTL was applied) is treated as abandoned and
// reclaimed.
func (l *Locker) Acquire(name string) (string, bool, error) {
	token := uuid.New().String()
	key := lockKey(name)

	ok, err := l.Redis.SetNX(key, token, l.TTL).Result()
	if err != nil {
		return "", false, extErrors.Wrap(err, "Cannot acquire lock")
	}
	if ok {
		return token, true, nil
	}

	ttl, err := l.Redis.PTTL(key).Result()
	if err != nil {
		return "", false, extErrors.Wrap(err, "Cannot inspect existing lock")
	}
	if ttl == -1 {
		// key exists but carries no expiry: abandoned, reclaim it
		l.Logger.Warn("Reclaiming stale lock without TTL",
			zap.String("Lock", name),
		)
		if err := l.Redis.Set(key, token, l.TTL).Err(); err != nil {
			return "", false, extErrors.Wrap(err, "Cannot reclaim stale lock")
		}
		return token, true, nil
	}
	return "", false, nil
}

// Release drops the lock if we still own it. Losing ownership (TTL expired
// and someone else acquired) is not an error; the new holder keeps it.
func (l *Locker) Release(name, token string) error {
	key := lockKey(name)
	current, err := l.Redis.Get(key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return extErrors.Wrap(err, "Cannot inspect lock for release")
	}
	if current != token {
		l.Logger.Warn("Lock changed owner before release, leaving it",
			zap.String("Lock", name),
		)
		return nil
	}
	if err := l.Redis.Del(key).Err(); err != nil {
		return extErrors.Wrap(err, "Cannot release lock")
	}
	return nil
}
