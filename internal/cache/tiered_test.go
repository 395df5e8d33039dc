package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geobank/branches-backend/internal/config"
	"github.com/geobank/branches-backend/pkg/utils"
)

var errConnRefused = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

// fakeRedis is an in-memory RedisClient. Flipping failing simulates a
// distributed-tier outage: every operation returns a connection error.
type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	failing atomic.Bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.failing.Load() {
		return redis.NewStringResult("", errConnRefused)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	if f.failing.Load() {
		return redis.NewStatusResult("", errConnRefused)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = asString(value)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	if f.failing.Load() {
		return redis.NewBoolResult(false, errConnRefused)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = asString(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	if f.failing.Load() {
		return redis.NewIntResult(0, errConnRefused)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	if f.failing.Load() {
		return redis.NewScanCmdResult(nil, 0, errConnRefused)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.data {
		if MatchPattern(match, k) {
			keys = append(keys, k)
		}
	}
	return redis.NewScanCmdResult(keys, 0, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	if f.failing.Load() {
		return redis.NewCmdResult(nil, errConnRefused)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	// Token-checked delete, mirroring the release script semantics.
	if len(keys) == 1 && len(args) == 1 && f.data[keys[0]] == asString(args[0]) {
		delete(f.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	if f.failing.Load() {
		return redis.NewStatusResult("", errConnRefused)
	}
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}

// newTestTieredCache builds a tiered cache over the fake client.
// Passing nil runs without a distributed tier.
func newTestTieredCache(t *testing.T, fake *fakeRedis) *TieredCache {
	t.Helper()

	cfg := &config.CacheConfig{
		L1Size:                100,
		L1TTL:                 time.Minute,
		L2TTL:                 time.Hour,
		EarlyExpirationFactor: 0,
		AutoRenewalInterval:   time.Minute,
		LockTimeout:           500 * time.Millisecond,
		LockRetryDelay:        5 * time.Millisecond,
		ProbeTimeout:          100 * time.Millisecond,
	}

	logger := utils.NewLogger("error", "text").WithField("component", "cache")

	if fake == nil {
		return NewTieredCache(cfg, nil, nil, logger)
	}
	return NewTieredCache(cfg, NewRedisCache(fake, logger), NewDistributedLock(fake, logger), logger)
}

func TestTieredCache_PutAndGet(t *testing.T) {
	fake := newFakeRedis()
	tc := newTestTieredCache(t, fake)
	ctx := context.Background()

	require.NoError(t, tc.Put(ctx, "k1", []byte("v1"), 0))

	v, ok := tc.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	// Write-through lands on the distributed tier under the namespace.
	assert.True(t, fake.has(KeyPrefix+"k1"))

	stats := tc.Stats()
	assert.Equal(t, uint64(1), stats.L1Hits)
	assert.False(t, stats.Degraded)
}

func TestTieredCache_L2Promotion(t *testing.T) {
	fake := newFakeRedis()
	fake.data[KeyPrefix+"warm"] = "from-l2"
	tc := newTestTieredCache(t, fake)
	ctx := context.Background()

	v, ok := tc.Get(ctx, "warm")
	require.True(t, ok)
	assert.Equal(t, []byte("from-l2"), v)
	assert.Equal(t, uint64(1), tc.Stats().L2Hits)

	// The hit was promoted into L1.
	_, ok = tc.Get(ctx, "warm")
	require.True(t, ok)
	assert.Equal(t, uint64(1), tc.Stats().L1Hits)
}

func TestTieredCache_GetMiss(t *testing.T) {
	tc := newTestTieredCache(t, newFakeRedis())

	_, ok := tc.Get(context.Background(), "absent")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), tc.Stats().Misses)
}

func TestTieredCache_GetOrCompute(t *testing.T) {
	fake := newFakeRedis()
	tc := newTestTieredCache(t, fake)
	ctx := context.Background()

	var loaderRuns atomic.Int32
	loader := func(ctx context.Context) ([]byte, error) {
		loaderRuns.Add(1)
		return []byte("computed"), nil
	}

	v, hit, err := tc.GetOrCompute(ctx, "k1", 0, loader)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("computed"), v)
	assert.Equal(t, int32(1), loaderRuns.Load())

	// The computed value is cached through both tiers.
	assert.True(t, fake.has(KeyPrefix+"k1"))

	v, hit, err = tc.GetOrCompute(ctx, "k1", 0, loader)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("computed"), v)
	assert.Equal(t, int32(1), loaderRuns.Load())
}

func TestTieredCache_GetOrCompute_SingleLoaderAcrossCallers(t *testing.T) {
	tc := newTestTieredCache(t, newFakeRedis())
	ctx := context.Background()

	var loaderRuns atomic.Int32
	loader := func(ctx context.Context) ([]byte, error) {
		loaderRuns.Add(1)
		time.Sleep(30 * time.Millisecond)
		return []byte("expensive"), nil
	}

	const callers = 50
	results := make([][]byte, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = tc.GetOrCompute(ctx, "hot-key", 0, loader)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), loaderRuns.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("expensive"), results[i])
	}
}

func TestTieredCache_GetOrCompute_LoaderError(t *testing.T) {
	tc := newTestTieredCache(t, newFakeRedis())
	ctx := context.Background()

	boom := errors.New("store unavailable")
	_, _, err := tc.GetOrCompute(ctx, "k1", 0, func(ctx context.Context) ([]byte, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	// Failures are not cached; the next caller recomputes.
	v, hit, err := tc.GetOrCompute(ctx, "k1", 0, func(ctx context.Context) ([]byte, error) {
		return []byte("recovered"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("recovered"), v)
}

func TestTieredCache_DegradedMode(t *testing.T) {
	fake := newFakeRedis()
	tc := newTestTieredCache(t, fake)
	ctx := context.Background()

	require.NoError(t, tc.Put(ctx, "warm", []byte("v"), 0))

	fake.failing.Store(true)

	// A distributed-tier error on read flips degraded mode.
	_, ok := tc.Get(ctx, "cold")
	assert.False(t, ok)
	assert.True(t, tc.Stats().Degraded)
	assert.False(t, tc.Healthy())

	// L1 keeps serving what it has.
	v, ok := tc.Get(ctx, "warm")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	// Computation falls back to the in-process lock and caches in L1.
	var loaderRuns atomic.Int32
	loader := func(ctx context.Context) ([]byte, error) {
		loaderRuns.Add(1)
		return []byte("local"), nil
	}

	v, hit, err := tc.GetOrCompute(ctx, "computed", 0, loader)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("local"), v)

	_, hit, err = tc.GetOrCompute(ctx, "computed", 0, loader)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int32(1), loaderRuns.Load())
}

func TestTieredCache_Recovery(t *testing.T) {
	fake := newFakeRedis()
	tc := newTestTieredCache(t, fake)
	ctx := context.Background()

	fake.failing.Store(true)
	tc.Get(ctx, "cold")
	require.True(t, tc.Stats().Degraded)

	// The tier comes back; the next read past the probe throttle
	// pings it and leaves degraded mode.
	fake.failing.Store(false)
	tc.lastProbe.Store(0)

	tc.Get(ctx, "cold")
	assert.False(t, tc.Stats().Degraded)
	assert.True(t, tc.Healthy())
}

func TestTieredCache_PutSurvivesRemoteFailure(t *testing.T) {
	fake := newFakeRedis()
	tc := newTestTieredCache(t, fake)
	ctx := context.Background()

	fake.failing.Store(true)

	err := tc.Put(ctx, "k1", []byte("v1"), 0)
	assert.Error(t, err)
	assert.True(t, tc.Stats().Degraded)

	// The value still reached L1.
	v, ok := tc.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
}

func TestTieredCache_WithoutRemoteTier(t *testing.T) {
	tc := newTestTieredCache(t, nil)
	ctx := context.Background()

	assert.True(t, tc.Stats().Degraded)
	assert.False(t, tc.Healthy())

	require.NoError(t, tc.Put(ctx, "k1", []byte("v1"), 0))
	v, ok := tc.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	v, hit, err := tc.GetOrCompute(ctx, "k2", 0, func(ctx context.Context) ([]byte, error) {
		return []byte("computed"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("computed"), v)

	require.NoError(t, tc.Evict(ctx, "k1"))
	_, ok = tc.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestTieredCache_Evict(t *testing.T) {
	fake := newFakeRedis()
	tc := newTestTieredCache(t, fake)
	ctx := context.Background()

	require.NoError(t, tc.Put(ctx, "k1", []byte("v1"), 0))
	require.NoError(t, tc.Put(ctx, "k2", []byte("v2"), 0))

	require.NoError(t, tc.Evict(ctx, "k1"))

	_, ok := tc.Get(ctx, "k1")
	assert.False(t, ok)
	assert.False(t, fake.has(KeyPrefix+"k1"))

	_, ok = tc.Get(ctx, "k2")
	assert.True(t, ok)
}

func TestTieredCache_EvictByPattern(t *testing.T) {
	fake := newFakeRedis()
	tc := newTestTieredCache(t, fake)
	ctx := context.Background()

	require.NoError(t, tc.Put(ctx, "nearest:a", []byte("1"), 0))
	require.NoError(t, tc.Put(ctx, "nearest:b", []byte("2"), 0))
	require.NoError(t, tc.Put(ctx, "branches:all", []byte("3"), 0))

	// Both tiers count toward the total: two keys in L1 plus two in L2.
	n, err := tc.EvictByPattern(ctx, "nearest:*")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, ok := tc.Get(ctx, "nearest:a")
	assert.False(t, ok)
	assert.False(t, fake.has(KeyPrefix+"nearest:a"))
	assert.False(t, fake.has(KeyPrefix+"nearest:b"))

	_, ok = tc.Get(ctx, "branches:all")
	assert.True(t, ok)
}

func TestTieredCache_Renew(t *testing.T) {
	fake := newFakeRedis()
	tc := newTestTieredCache(t, fake)
	ctx := context.Background()

	require.NoError(t, tc.Put(ctx, "nearest:a", []byte("1"), 0))
	require.NoError(t, tc.Put(ctx, "branches:all", []byte("2"), 0))

	n, err := tc.Renew(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats := tc.Stats()
	assert.Equal(t, 2, stats.RenewalEvicts)
	assert.False(t, stats.LastRenewal.IsZero())

	// Only the proximity namespace is cleared.
	_, ok := tc.Get(ctx, "branches:all")
	assert.True(t, ok)
	_, ok = tc.Get(ctx, "nearest:a")
	assert.False(t, ok)
}

func TestTieredCache_StatsHitRatio(t *testing.T) {
	fake := newFakeRedis()
	tc := newTestTieredCache(t, fake)
	ctx := context.Background()

	require.NoError(t, tc.Put(ctx, "k1", []byte("v"), 0))
	tc.Get(ctx, "k1")
	tc.Get(ctx, "absent")

	stats := tc.Stats()
	assert.InDelta(t, 0.5, stats.HitRatio, 0.0001)
	assert.Equal(t, 1, stats.L1Size)
}
