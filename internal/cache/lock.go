package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/geobank/branches-backend/internal/metrics"
)

// releaseScript deletes the lock key only when it still holds the
// caller's token, so a holder that outlived its TTL cannot release a
// lock reacquired by someone else.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// DistributedLock implements best-effort per-key mutual exclusion on
// top of Redis SETNX. Locks expire on their own, so a crashed holder
// never wedges a key for longer than the hold TTL.
type DistributedLock struct {
	client RedisClient
	logger *logrus.Entry
}

// NewDistributedLock creates a lock manager over the given client.
func NewDistributedLock(client RedisClient, logger *logrus.Entry) *DistributedLock {
	return &DistributedLock{
		client: client,
		logger: logger,
	}
}

// TryAcquire attempts to take the lock guarding key for holdTTL.
// On success it returns an opaque token required to release.
func (l *DistributedLock) TryAcquire(ctx context.Context, key string, holdTTL time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, KeyPrefix+LockKey(key), token, holdTTL).Result()
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("lock_acquire").Inc()
		return "", false, fmt.Errorf("lock acquire %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if the token still owns it.
func (l *DistributedLock) Release(ctx context.Context, key, token string) {
	err := l.client.Eval(ctx, releaseScript, []string{KeyPrefix + LockKey(key)}, token).Err()
	if err != nil {
		// The lock self-expires; a failed release only delays the
		// next holder by the remaining TTL.
		metrics.RedisOperationErrors.WithLabelValues("lock_release").Inc()
		l.logger.WithFields(logrus.Fields{
			"key":   key,
			"error": err.Error(),
		}).Warn("Failed to release distributed lock, relying on TTL expiry")
	}
}

// localLockCount is the number of mutex shards used when the
// distributed tier is unavailable.
const localLockCount = 64

// localLocks is the in-process fallback for lock acquisition during a
// distributed-tier outage. Keys map onto a fixed set of mutex shards,
// trading occasional false sharing for a bounded footprint.
type localLocks struct {
	shards [localLockCount]sync.Mutex
}

func (l *localLocks) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &l.shards[h.Sum32()%localLockCount]
}

// Lock blocks until the shard covering key is held.
func (l *localLocks) Lock(key string) {
	l.shard(key).Lock()
}

// Unlock releases the shard covering key.
func (l *localLocks) Unlock(key string) {
	l.shard(key).Unlock()
}
