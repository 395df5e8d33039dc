package cache

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Key namespaces. All keys live under the "geobank:" prefix on the
// distributed tier; the prefix is applied by the Redis tier and never
// appears in the logical keys used by callers.
const (
	// Prefix applied to every key on the distributed tier
	KeyPrefix = "geobank:"

	// Namespaces
	NearestNamespace  = "nearest:"    // nearest:{lat},{lon}:r{radius}:m{max}[:t{types}][:s{service}]
	BranchesNamespace = "branches:"   // branches:all, branches:{id}, branches:type:{type}
	TileNamespace     = "stats:tile:" // stats:tile:{geohash}
	LockNamespace     = "lock:"       // lock:{key}

	// Patterns cleared when the branch set changes
	NearestPattern  = "nearest:*"
	BranchesPattern = "branches:*"
	TilePattern     = "stats:tile:*"
)

// NearestKey builds the canonical key for a proximity query result.
// Coordinates are quantized to six decimal places (about 0.1 m) so
// that equivalent queries share an entry. Types are upper-case,
// deduplicated and sorted; the service name is lower-case. Optional
// segments are omitted entirely when absent.
func NearestKey(lat, lon, radiusKm float64, maxResults int, types []string, service string) string {
	var b strings.Builder
	b.Grow(64)

	b.WriteString(NearestNamespace)
	fmt.Fprintf(&b, "%.6f,%.6f", lat, lon)
	b.WriteString(":r")
	b.WriteString(formatRadius(radiusKm))
	b.WriteString(":m")
	b.WriteString(strconv.Itoa(maxResults))

	if len(types) > 0 {
		set := make(map[string]struct{}, len(types))
		for _, t := range types {
			set[strings.ToUpper(strings.TrimSpace(t))] = struct{}{}
		}
		sorted := make([]string, 0, len(set))
		for t := range set {
			sorted = append(sorted, t)
		}
		sort.Strings(sorted)
		b.WriteString(":t")
		b.WriteString(strings.Join(sorted, ","))
	}

	if service != "" {
		b.WriteString(":s")
		b.WriteString(strings.ToLower(strings.TrimSpace(service)))
	}

	return b.String()
}

// formatRadius renders the radius without a trailing fraction for
// whole numbers ("10", not "10.000000").
func formatRadius(radiusKm float64) string {
	return strconv.FormatFloat(radiusKm, 'f', -1, 64)
}

// BranchKey returns the key caching a single branch by ID.
func BranchKey(id string) string {
	return BranchesNamespace + id
}

// BranchesAllKey returns the key caching the full branch listing.
func BranchesAllKey() string {
	return BranchesNamespace + "all"
}

// BranchesByTypeKey returns the key caching a per-type listing.
func BranchesByTypeKey(branchType string) string {
	return BranchesNamespace + "type:" + strings.ToUpper(branchType)
}

// TileStatsKey returns the key caching density aggregates for a
// geohash tile.
func TileStatsKey(tile string) string {
	return TileNamespace + tile
}

// LockKey returns the distributed-lock key guarding a cache key.
func LockKey(key string) string {
	return LockNamespace + key
}

// MatchPattern reports whether key matches pattern. The only wildcard
// is '*', matching any run of characters including none; every other
// character matches itself. Patterns without '*' require equality.
func MatchPattern(pattern, key string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == key
	}

	// First part anchors the start, last part anchors the end, the
	// rest must appear in order between them.
	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	key = key[len(parts[0]):]

	last := parts[len(parts)-1]
	if !strings.HasSuffix(key, last) {
		return false
	}
	key = key[:len(key)-len(last)]

	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(key, part)
		if idx < 0 {
			return false
		}
		key = key[idx+len(part):]
	}

	return true
}
