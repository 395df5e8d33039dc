package cache

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/geobank/branches-backend/internal/config"
	"github.com/geobank/branches-backend/internal/metrics"
)

// Minimum spacing between recovery probes while degraded
const probeInterval = 5 * time.Second

// TieredCache layers the in-process LRU over the distributed Redis
// tier. Reads fall through L1 to L2 and promote on hit; writes go
// through both tiers. When Redis becomes unreachable the cache flips
// into degraded mode and keeps serving from L1 alone, retrying the
// distributed tier at most once per probe interval.
type TieredCache struct {
	local  *LocalCache
	remote *RedisCache // nil when running without a distributed tier
	lock   *DistributedLock

	fallback localLocks
	group    singleflight.Group
	logger   *logrus.Entry

	l2TTL          time.Duration
	lockTimeout    time.Duration
	lockRetryDelay time.Duration
	probeTimeout   time.Duration

	degraded  atomic.Bool
	lastProbe atomic.Int64

	l1Hits        atomic.Uint64
	l2Hits        atomic.Uint64
	misses        atomic.Uint64
	evictions     atomic.Uint64
	errors        atomic.Uint64
	lastRenewal   atomic.Int64
	renewalEvicts atomic.Int64
}

type outcome struct {
	data []byte
	hit  bool
	err  error
}

// NewTieredCache assembles the two-tier cache. remote and lock may be
// nil, in which case the cache runs on the local tier only.
func NewTieredCache(cfg *config.CacheConfig, remote *RedisCache, lock *DistributedLock, logger *logrus.Entry) *TieredCache {
	t := &TieredCache{
		local:          NewLocalCache(cfg.L1Size, cfg.L1TTL, cfg.EarlyExpirationFactor),
		remote:         remote,
		lock:           lock,
		logger:         logger,
		l2TTL:          cfg.L2TTL,
		lockTimeout:    cfg.LockTimeout,
		lockRetryDelay: cfg.LockRetryDelay,
		probeTimeout:   cfg.ProbeTimeout,
	}

	if remote == nil {
		t.degraded.Store(true)
		metrics.CacheDegraded.Set(1)
	}

	return t
}

var _ Port = (*TieredCache)(nil)

// Get returns the cached value for key, if present and fresh.
func (t *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := t.local.Get(key); ok {
		t.l1Hits.Add(1)
		metrics.CacheHits.WithLabelValues("l1").Inc()
		return v, true
	}

	t.probeRecovery(ctx)
	if t.healthy() {
		cctx, cancel := context.WithTimeout(ctx, t.probeTimeout)
		v, found, err := t.remote.Get(cctx, key)
		cancel()
		if err != nil {
			t.markDegraded(err, "get")
		} else if found {
			t.local.Set(key, v, 0)
			t.syncL1Gauge()
			t.l2Hits.Add(1)
			metrics.CacheHits.WithLabelValues("l2").Inc()
			return v, true
		}
	}

	t.misses.Add(1)
	metrics.CacheMisses.Inc()
	return nil, false
}

// Put stores value under key in both tiers.
func (t *TieredCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	t.local.Set(key, value, ttl)
	t.syncL1Gauge()

	t.probeRecovery(ctx)
	if !t.healthy() {
		return nil
	}

	if ttl <= 0 {
		ttl = t.l2TTL
	}
	if err := t.remote.Set(ctx, key, value, ttl); err != nil {
		t.markDegraded(err, "set")
		return err
	}
	return nil
}

// GetOrCompute returns the cached value or computes it, guaranteeing
// at most one loader execution per key across concurrent callers on
// this node (flight group) and across nodes (distributed lock). When
// the lock budget runs out the loader result is returned uncached.
func (t *TieredCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, loader Loader) ([]byte, bool, error) {
	if v, ok := t.local.Get(key); ok {
		t.l1Hits.Add(1)
		metrics.CacheHits.WithLabelValues("l1").Inc()
		return v, true, nil
	}

	v, _, _ := t.group.Do(key, func() (interface{}, error) {
		return t.computeShared(ctx, key, ttl, loader), nil
	})

	out := v.(outcome)
	if out.err != nil {
		return nil, false, out.err
	}
	if !out.hit {
		t.misses.Add(1)
		metrics.CacheMisses.Inc()
	}
	return out.data, out.hit, nil
}

// computeShared runs inside the flight group: exactly one goroutine
// per key executes it at a time on this node.
func (t *TieredCache) computeShared(ctx context.Context, key string, ttl time.Duration, loader Loader) outcome {
	// A previous flight may have filled L1 while this caller queued.
	if v, ok := t.local.Get(key); ok {
		t.l1Hits.Add(1)
		metrics.CacheHits.WithLabelValues("l1").Inc()
		return outcome{data: v, hit: true}
	}

	t.probeRecovery(ctx)
	if !t.healthy() {
		return t.computeWithLocalLock(ctx, key, ttl, loader)
	}

	if out, done := t.remoteProbe(ctx, key); done {
		return out
	}
	if !t.healthy() {
		return t.computeWithLocalLock(ctx, key, ttl, loader)
	}

	deadline := time.Now().Add(t.lockTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	waited := false
	for {
		token, acquired, err := t.lock.TryAcquire(ctx, key, t.lockTimeout)
		if err != nil {
			t.markDegraded(err, "lock")
			return t.computeWithLocalLock(ctx, key, ttl, loader)
		}

		if acquired {
			metrics.CacheLockContention.WithLabelValues("acquired").Inc()
			out := t.computeLocked(ctx, key, ttl, loader)
			t.lock.Release(ctx, key, token)
			return out
		}

		if !waited {
			waited = true
			metrics.CacheLockContention.WithLabelValues("waited").Inc()
		}

		if time.Now().After(deadline) {
			break
		}

		// Another holder is computing; give it time, then re-check
		// both tiers before trying the lock again.
		select {
		case <-ctx.Done():
			return outcome{err: ctx.Err()}
		case <-time.After(t.jitteredRetryDelay()):
		}

		if v, ok := t.local.Get(key); ok {
			t.l1Hits.Add(1)
			metrics.CacheHits.WithLabelValues("l1").Inc()
			return outcome{data: v, hit: true}
		}
		if out, done := t.remoteProbe(ctx, key); done {
			return out
		}
		if !t.healthy() {
			return t.computeWithLocalLock(ctx, key, ttl, loader)
		}
	}

	// Budget exhausted: compute without caching so the eventual lock
	// holder remains the single writer for this key.
	metrics.CacheLockContention.WithLabelValues("exhausted").Inc()
	t.errors.Add(1)
	metrics.CacheErrors.WithLabelValues("contention").Inc()
	t.logger.WithFields(logrus.Fields{
		"key":   key,
		"error": ErrContention.Error(),
	}).Warn("Serving uncached result after lock budget exhaustion")

	data, err := loader(ctx)
	if err != nil {
		return outcome{err: err}
	}
	return outcome{data: data}
}

// computeLocked runs while holding the distributed lock.
func (t *TieredCache) computeLocked(ctx context.Context, key string, ttl time.Duration, loader Loader) outcome {
	// The previous holder may have finished between our probe and the
	// lock grant.
	if out, done := t.remoteProbe(ctx, key); done {
		return out
	}

	data, err := loader(ctx)
	if err != nil {
		return outcome{err: err}
	}

	t.store(ctx, key, data, ttl)
	return outcome{data: data}
}

// computeWithLocalLock is the degraded-mode path: per-key mutual
// exclusion via in-process mutex shards, caching in L1 only.
func (t *TieredCache) computeWithLocalLock(ctx context.Context, key string, ttl time.Duration, loader Loader) outcome {
	t.fallback.Lock(key)
	defer t.fallback.Unlock(key)

	if v, ok := t.local.Get(key); ok {
		t.l1Hits.Add(1)
		metrics.CacheHits.WithLabelValues("l1").Inc()
		return outcome{data: v, hit: true}
	}

	data, err := loader(ctx)
	if err != nil {
		return outcome{err: err}
	}

	t.local.Set(key, data, ttl)
	t.syncL1Gauge()
	return outcome{data: data}
}

// remoteProbe checks the distributed tier for key under the probe
// budget. done is true when the caller can return the outcome
// directly (hit); probe errors flip degraded mode and report done
// false so the caller can pick the fallback path.
func (t *TieredCache) remoteProbe(ctx context.Context, key string) (outcome, bool) {
	cctx, cancel := context.WithTimeout(ctx, t.probeTimeout)
	v, found, err := t.remote.Get(cctx, key)
	cancel()

	if err != nil {
		t.markDegraded(err, "get")
		return outcome{}, false
	}
	if !found {
		return outcome{}, false
	}

	t.local.Set(key, v, 0)
	t.syncL1Gauge()
	t.l2Hits.Add(1)
	metrics.CacheHits.WithLabelValues("l2").Inc()
	return outcome{data: v, hit: true}, true
}

// store writes a computed value through both tiers.
func (t *TieredCache) store(ctx context.Context, key string, data []byte, ttl time.Duration) {
	t.local.Set(key, data, ttl)
	t.syncL1Gauge()

	if !t.healthy() {
		return
	}
	if ttl <= 0 {
		ttl = t.l2TTL
	}
	if err := t.remote.Set(ctx, key, data, ttl); err != nil {
		t.markDegraded(err, "set")
	}
}

// Evict removes a single key from both tiers.
func (t *TieredCache) Evict(ctx context.Context, key string) error {
	if t.local.Delete(key) {
		t.evictions.Add(1)
		metrics.CacheEvictions.WithLabelValues("explicit").Inc()
	}
	t.syncL1Gauge()

	if !t.healthy() {
		return nil
	}
	if err := t.remote.Del(ctx, key); err != nil {
		t.markDegraded(err, "del")
		return err
	}
	return nil
}

// EvictByPattern removes matching keys from both tiers and returns
// the total number evicted.
func (t *TieredCache) EvictByPattern(ctx context.Context, pattern string) (int, error) {
	removed := t.local.DeleteMatching(func(k string) bool {
		return MatchPattern(pattern, k)
	})
	t.syncL1Gauge()
	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("pattern").Add(float64(removed))
	}

	total := removed
	if t.healthy() {
		n, err := t.remote.DeleteByPattern(ctx, pattern)
		total += n
		if err != nil {
			t.markDegraded(err, "delete_pattern")
			t.evictions.Add(uint64(total))
			return total, err
		}
	}

	t.evictions.Add(uint64(total))
	return total, nil
}

// Renew clears the proximity-result namespace. Wired to the periodic
// renewal job so query results are recomputed from fresh store data
// even when traffic keeps every entry hot.
func (t *TieredCache) Renew(ctx context.Context) (int, error) {
	n, err := t.EvictByPattern(ctx, NearestPattern)

	now := time.Now()
	t.lastRenewal.Store(now.Unix())
	t.renewalEvicts.Store(int64(n))
	metrics.CacheLastRenewal.Set(float64(now.Unix()))
	metrics.CacheEvictions.WithLabelValues("renewal").Add(float64(n))

	return n, err
}

// Stats returns a snapshot of cache counters.
func (t *TieredCache) Stats() Stats {
	l1 := t.l1Hits.Load()
	l2 := t.l2Hits.Load()
	misses := t.misses.Load()

	var ratio float64
	if total := l1 + l2 + misses; total > 0 {
		ratio = float64(l1+l2) / float64(total)
	}

	s := Stats{
		L1Hits:        l1,
		L2Hits:        l2,
		Misses:        misses,
		Evictions:     t.evictions.Load(),
		Errors:        t.errors.Load(),
		HitRatio:      ratio,
		L1Size:        t.local.Size(),
		Degraded:      t.degraded.Load(),
		RenewalEvicts: int(t.renewalEvicts.Load()),
	}
	if ts := t.lastRenewal.Load(); ts > 0 {
		s.LastRenewal = time.Unix(ts, 0).UTC()
	}
	return s
}

// Healthy reports whether the distributed tier is currently usable.
func (t *TieredCache) Healthy() bool {
	return t.healthy()
}

func (t *TieredCache) healthy() bool {
	return t.remote != nil && !t.degraded.Load()
}

func (t *TieredCache) syncL1Gauge() {
	metrics.CacheL1Size.Set(float64(t.local.Size()))
}

func (t *TieredCache) jitteredRetryDelay() time.Duration {
	quarter := int64(t.lockRetryDelay) / 4
	if quarter <= 0 {
		return t.lockRetryDelay
	}
	return t.lockRetryDelay + time.Duration(rand.Int63n(quarter))
}

// markDegraded records a distributed-tier failure and flips the cache
// into local-only mode on the first failure of a streak.
func (t *TieredCache) markDegraded(err error, op string) {
	t.errors.Add(1)
	metrics.CacheErrors.WithLabelValues(op).Inc()

	if t.degraded.CompareAndSwap(false, true) {
		metrics.CacheDegraded.Set(1)
		t.logger.WithFields(logrus.Fields{
			"operation": op,
			"error":     err.Error(),
		}).Warn("Distributed cache tier unavailable, continuing on local tier only")
	}
}

// probeRecovery attempts to leave degraded mode, pinging the
// distributed tier at most once per probe interval.
func (t *TieredCache) probeRecovery(ctx context.Context) {
	if t.remote == nil || !t.degraded.Load() {
		return
	}

	now := time.Now().UnixNano()
	last := t.lastProbe.Load()
	if now-last < int64(probeInterval) {
		return
	}
	if !t.lastProbe.CompareAndSwap(last, now) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, t.probeTimeout)
	err := t.remote.Ping(cctx)
	cancel()
	if err != nil {
		return
	}

	t.degraded.Store(false)
	metrics.CacheDegraded.Set(0)
	t.logger.Info("Distributed cache tier recovered")
}
