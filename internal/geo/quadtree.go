package geo

import (
	"sort"
	"sync"
)

const (
	// Maximum number of members in a node before splitting
	nodeCapacity = 32

	// Maximum depth of the tree
	maxDepth = 12

	// Minimum node size in degrees
	minNodeSize = 0.001

	// Search radius ceiling for k-nearest expansion; anything above
	// half the Earth's circumference covers the whole planet.
	maxSearchRadiusKm = 25000.0
)

// Member is a point entry tracked by the index.
type Member struct {
	ID  string
	Lat float64
	Lon float64
}

// Neighbor is a query result: a member together with its exact
// great-circle distance from the query point in kilometers.
type Neighbor struct {
	Member
	DistanceKm float64
}

// QuadTree is an in-memory spatial index over point members.
// Lookups run under a shared lock, so concurrent readers never block
// each other; writers take the lock exclusively.
type QuadTree struct {
	mu      sync.RWMutex
	root    *node
	members map[string]Member // fast lookup by ID
}

// node represents a node in the QuadTree
type node struct {
	bounds  BoundingBox
	members []Member
	depth   int

	// Child nodes (nil if leaf)
	nw *node // Northwest
	ne *node // Northeast
	sw *node // Southwest
	se *node // Southeast
}

func worldRoot() *node {
	return &node{
		bounds: BoundingBox{
			MinLat: -90.0,
			MinLon: -180.0,
			MaxLat: 90.0,
			MaxLon: 180.0,
		},
		members: make([]Member, 0, nodeCapacity),
		depth:   0,
	}
}

// NewQuadTree creates an empty QuadTree with world bounds.
func NewQuadTree() *QuadTree {
	return &QuadTree{
		root:    worldRoot(),
		members: make(map[string]Member),
	}
}

// Insert adds a member to the tree. Inserting an ID that is already
// present relocates it, so Insert doubles as an upsert.
func (qt *QuadTree) Insert(m Member) {
	qt.mu.Lock()
	defer qt.mu.Unlock()

	if old, exists := qt.members[m.ID]; exists {
		qt.root.remove(old)
	}

	qt.members[m.ID] = m
	qt.root.insert(m)
}

// Update relocates a member to a new position.
func (qt *QuadTree) Update(m Member) {
	qt.Insert(m)
}

// Remove deletes a member by ID. Removing an unknown ID is a no-op.
func (qt *QuadTree) Remove(id string) {
	qt.mu.Lock()
	defer qt.mu.Unlock()

	m, exists := qt.members[id]
	if !exists {
		return
	}

	delete(qt.members, id)
	qt.root.remove(m)
}

// Get returns the stored position of a member.
func (qt *QuadTree) Get(id string) (Member, bool) {
	qt.mu.RLock()
	defer qt.mu.RUnlock()

	m, ok := qt.members[id]
	return m, ok
}

// Contains reports whether the ID is indexed.
func (qt *QuadTree) Contains(id string) bool {
	qt.mu.RLock()
	defer qt.mu.RUnlock()

	_, ok := qt.members[id]
	return ok
}

// WithinRadius returns all members within radiusKm of the center,
// in no particular order. Candidates come from a degree bounding box
// and are refined with the exact Haversine distance, so the result
// never includes a member farther than radiusKm.
func (qt *QuadTree) WithinRadius(centerLat, centerLon, radiusKm float64) []Neighbor {
	qt.mu.RLock()
	defer qt.mu.RUnlock()

	return qt.withinRadiusLocked(centerLat, centerLon, radiusKm)
}

func (qt *QuadTree) withinRadiusLocked(centerLat, centerLon, radiusKm float64) []Neighbor {
	if radiusKm <= 0 {
		return nil
	}

	box := NewBoundingBox(centerLat, centerLon, radiusKm)
	candidates := qt.root.query(box)

	result := make([]Neighbor, 0, len(candidates))
	for _, m := range candidates {
		dist := Distance(centerLat, centerLon, m.Lat, m.Lon)
		if dist <= radiusKm {
			result = append(result, Neighbor{Member: m, DistanceKm: dist})
		}
	}

	return result
}

// KNearest returns the k members closest to the point, ordered by
// ascending distance with ties broken by ascending ID. The search
// expands its radius in doubling rings until enough candidates are
// collected or the whole planet has been covered.
func (qt *QuadTree) KNearest(centerLat, centerLon float64, k int) []Neighbor {
	if k <= 0 {
		return nil
	}

	qt.mu.RLock()
	defer qt.mu.RUnlock()

	if len(qt.members) == 0 {
		return nil
	}

	var found []Neighbor
	for radius := 1.0; ; radius *= 2 {
		found = qt.withinRadiusLocked(centerLat, centerLon, radius)
		if len(found) >= k || radius >= maxSearchRadiusKm {
			break
		}
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].DistanceKm != found[j].DistanceKm {
			return found[i].DistanceKm < found[j].DistanceKm
		}
		return found[i].ID < found[j].ID
	})

	if len(found) > k {
		found = found[:k]
	}
	return found
}

// QueryBounds returns all members inside the box, unordered.
func (qt *QuadTree) QueryBounds(box BoundingBox) []Member {
	qt.mu.RLock()
	defer qt.mu.RUnlock()

	return qt.root.query(box)
}

// Size returns the number of members in the tree.
func (qt *QuadTree) Size() int {
	qt.mu.RLock()
	defer qt.mu.RUnlock()

	return len(qt.members)
}

// IDs returns the IDs of all members, unordered.
func (qt *QuadTree) IDs() []string {
	qt.mu.RLock()
	defer qt.mu.RUnlock()

	ids := make([]string, 0, len(qt.members))
	for id := range qt.members {
		ids = append(ids, id)
	}
	return ids
}

// Rebuild replaces the entire tree content in one exclusive section.
// Used on startup and by the reconciler when the index has drifted
// from the backing store.
func (qt *QuadTree) Rebuild(members []Member) {
	qt.mu.Lock()
	defer qt.mu.Unlock()

	qt.root = worldRoot()
	qt.members = make(map[string]Member, len(members))

	for _, m := range members {
		qt.members[m.ID] = m
		qt.root.insert(m)
	}
}

// insert adds a member to the node
func (n *node) insert(m Member) {
	if !n.bounds.Contains(m.Lat, m.Lon) {
		return
	}

	// If node has children, insert into appropriate child
	if n.nw != nil {
		n.insertIntoChild(m)
		return
	}

	n.members = append(n.members, m)

	if len(n.members) > nodeCapacity && n.shouldSplit() {
		n.split()
	}
}

// insertIntoChild routes a member to the quadrant covering its point
func (n *node) insertIntoChild(m Member) {
	centerLat, centerLon := n.bounds.Center()

	if m.Lat >= centerLat {
		if m.Lon >= centerLon {
			n.ne.insert(m)
		} else {
			n.nw.insert(m)
		}
	} else {
		if m.Lon >= centerLon {
			n.se.insert(m)
		} else {
			n.sw.insert(m)
		}
	}
}

// shouldSplit checks if node should be split
func (n *node) shouldSplit() bool {
	return n.depth < maxDepth &&
		n.bounds.Width() > minNodeSize &&
		n.bounds.Height() > minNodeSize
}

// split divides the node into four children
func (n *node) split() {
	centerLat, centerLon := n.bounds.Center()

	n.nw = &node{
		bounds: BoundingBox{
			MinLat: centerLat,
			MinLon: n.bounds.MinLon,
			MaxLat: n.bounds.MaxLat,
			MaxLon: centerLon,
		},
		members: make([]Member, 0, nodeCapacity),
		depth:   n.depth + 1,
	}

	n.ne = &node{
		bounds: BoundingBox{
			MinLat: centerLat,
			MinLon: centerLon,
			MaxLat: n.bounds.MaxLat,
			MaxLon: n.bounds.MaxLon,
		},
		members: make([]Member, 0, nodeCapacity),
		depth:   n.depth + 1,
	}

	n.sw = &node{
		bounds: BoundingBox{
			MinLat: n.bounds.MinLat,
			MinLon: n.bounds.MinLon,
			MaxLat: centerLat,
			MaxLon: centerLon,
		},
		members: make([]Member, 0, nodeCapacity),
		depth:   n.depth + 1,
	}

	n.se = &node{
		bounds: BoundingBox{
			MinLat: n.bounds.MinLat,
			MinLon: centerLon,
			MaxLat: centerLat,
			MaxLon: n.bounds.MaxLon,
		},
		members: make([]Member, 0, nodeCapacity),
		depth:   n.depth + 1,
	}

	// Move members to children
	old := n.members
	n.members = nil

	for _, m := range old {
		n.insertIntoChild(m)
	}
}

// remove deletes a member from the node, descending by quadrant using
// the same routing as insertIntoChild so the member is found where it
// was placed.
func (n *node) remove(m Member) bool {
	if n.nw != nil {
		centerLat, centerLon := n.bounds.Center()

		if m.Lat >= centerLat {
			if m.Lon >= centerLon {
				return n.ne.remove(m)
			}
			return n.nw.remove(m)
		}
		if m.Lon >= centerLon {
			return n.se.remove(m)
		}
		return n.sw.remove(m)
	}

	for i, existing := range n.members {
		if existing.ID == m.ID {
			n.members = append(n.members[:i], n.members[i+1:]...)
			return true
		}
	}

	return false
}

// query returns all members within the given box
func (n *node) query(box BoundingBox) []Member {
	if !n.bounds.Intersects(box) {
		return nil
	}

	var result []Member

	if n.nw != nil {
		result = append(result, n.nw.query(box)...)
		result = append(result, n.ne.query(box)...)
		result = append(result, n.sw.query(box)...)
		result = append(result, n.se.query(box)...)
		return result
	}

	for _, m := range n.members {
		if box.Contains(m.Lat, m.Lon) {
			result = append(result, m)
		}
	}

	return result
}
