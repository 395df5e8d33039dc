package cache

import (
	"context"
	"errors"
	"time"
)

// ErrContention is reported when a computation slot could not be
// acquired within the lock budget. The caller still receives a value
// computed locally; the error is a signal for logging and metrics,
// not a failure of the request.
var ErrContention = errors.New("cache: lock contention budget exhausted")

// Loader computes a value on cache miss. The returned bytes are
// stored as-is and must be self-contained (typically JSON).
type Loader func(ctx context.Context) ([]byte, error)

// Port is the cache surface the engines depend on. Implementations
// absorb distributed-tier outages: every operation keeps working on
// the local tier alone.
type Port interface {
	// Get returns the cached value for key, if present and fresh.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Put stores value under key in both tiers (write-through).
	// ttl bounds the distributed tier; the local tier caps it at its
	// own default.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// GetOrCompute returns the cached value or runs loader exactly
	// once per key across concurrent callers, caching the result.
	// hit reports whether the value came from a cache tier.
	GetOrCompute(ctx context.Context, key string, ttl time.Duration, loader Loader) (value []byte, hit bool, err error)

	// Evict removes a single key from both tiers.
	Evict(ctx context.Context, key string) error

	// EvictByPattern removes all keys matching the pattern from both
	// tiers. The only supported wildcard is '*'.
	EvictByPattern(ctx context.Context, pattern string) (int, error)

	// Stats returns a snapshot of cache counters.
	Stats() Stats
}

// Stats is a point-in-time snapshot of cache behavior.
type Stats struct {
	L1Hits        uint64    `json:"l1_hits"`
	L2Hits        uint64    `json:"l2_hits"`
	Misses        uint64    `json:"misses"`
	Evictions     uint64    `json:"evictions"`
	Errors        uint64    `json:"errors"`
	HitRatio      float64   `json:"hit_ratio"`
	L1Size        int       `json:"l1_size"`
	Degraded      bool      `json:"degraded"`
	LastRenewal   time.Time `json:"last_renewal,omitempty"`
	RenewalEvicts int       `json:"renewal_evictions"`
}
