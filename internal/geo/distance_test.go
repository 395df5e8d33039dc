package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name      string
		lat1      float64
		lon1      float64
		lat2      float64
		lon2      float64
		expected  float64
		tolerance float64
	}{
		{
			name:      "Same point",
			lat1:      -23.5505, lon1: -46.6333,
			lat2:      -23.5505, lon2: -46.6333,
			expected:  0.0,
			tolerance: 0.001,
		},
		{
			name:      "One degree of latitude",
			lat1:      10.0, lon1: -50.0,
			lat2:      11.0, lon2: -50.0,
			expected:  111.2,
			tolerance: 0.5,
		},
		{
			name:      "One degree of longitude at the equator",
			lat1:      0.0, lon1: 0.0,
			lat2:      0.0, lon2: 1.0,
			expected:  111.2,
			tolerance: 0.5,
		},
		{
			name:      "One degree of longitude at 60 degrees",
			lat1:      60.0, lon1: 0.0,
			lat2:      60.0, lon2: 1.0,
			expected:  55.6,
			tolerance: 0.5,
		},
		{
			name:      "Sao Paulo to Rio de Janeiro",
			lat1:      -23.5505, lon1: -46.6333,
			lat2:      -22.9068, lon2: -43.1729,
			expected:  361.0,
			tolerance: 5.0,
		},
		{
			name:      "Antipodal points",
			lat1:      0.0, lon1: 0.0,
			lat2:      0.0, lon2: 180.0,
			expected:  20015.0, // half the Earth's circumference
			tolerance: 25.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.expected, d, tt.tolerance)

			// Symmetry
			reverse := Distance(tt.lat2, tt.lon2, tt.lat1, tt.lon1)
			assert.InDelta(t, d, reverse, 0.0001)
		})
	}
}

func TestBearing(t *testing.T) {
	tests := []struct {
		name      string
		lat2      float64
		lon2      float64
		expected  float64
		tolerance float64
	}{
		{"North", 1.0, 0.0, 0.0, 0.5},
		{"East", 0.0, 1.0, 90.0, 0.5},
		{"South", -1.0, 0.0, 180.0, 0.5},
		{"West", 0.0, -1.0, 270.0, 0.5},
		{"Northeast", 1.0, 1.0, 45.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Bearing(0, 0, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.expected, b, tt.tolerance)
			assert.GreaterOrEqual(t, b, 0.0)
			assert.Less(t, b, 360.0)
		})
	}
}

func TestNewBoundingBox(t *testing.T) {
	t.Run("Symmetric at the equator", func(t *testing.T) {
		box := NewBoundingBox(0, 0, 111.0)

		assert.InDelta(t, 1.0, box.MaxLat, 0.01)
		assert.InDelta(t, -1.0, box.MinLat, 0.01)
		assert.InDelta(t, 1.0, box.MaxLon, 0.01)
		assert.InDelta(t, -1.0, box.MinLon, 0.01)
	})

	t.Run("Longitude span widens with latitude", func(t *testing.T) {
		equator := NewBoundingBox(0, 0, 50.0)
		north := NewBoundingBox(60, 0, 50.0)

		assert.InDelta(t, equator.Height(), north.Height(), 0.001)
		assert.Greater(t, north.Width(), equator.Width()*1.9)
	})

	t.Run("Clamped at the pole", func(t *testing.T) {
		box := NewBoundingBox(89.9, 0, 100.0)

		assert.Equal(t, 90.0, box.MaxLat)
		assert.Equal(t, -180.0, box.MinLon)
		assert.Equal(t, 180.0, box.MaxLon)
	})

	t.Run("Clamped at the date line", func(t *testing.T) {
		box := NewBoundingBox(0, 179.5, 111.0)

		assert.Equal(t, 180.0, box.MaxLon)
		assert.InDelta(t, 178.5, box.MinLon, 0.01)
	})

	t.Run("Box never excludes points within the radius", func(t *testing.T) {
		// Points at the exact radius along each axis stay inside the box.
		const radius = 25.0
		center := struct{ lat, lon float64 }{-23.5505, -46.6333}
		box := NewBoundingBox(center.lat, center.lon, radius)

		north := center.lat + radius/111.2
		assert.True(t, box.Contains(north, center.lon))
		assert.True(t, box.Contains(center.lat-radius/111.2, center.lon))
	})
}

func TestBoundingBox_Contains(t *testing.T) {
	box := BoundingBox{MinLat: -24.0, MinLon: -47.0, MaxLat: -23.0, MaxLon: -46.0}

	assert.True(t, box.Contains(-23.5, -46.5))
	assert.True(t, box.Contains(-24.0, -47.0)) // corner is inclusive
	assert.False(t, box.Contains(-22.9, -46.5))
	assert.False(t, box.Contains(-23.5, -45.9))
}

func TestBoundingBox_Intersects(t *testing.T) {
	base := BoundingBox{MinLat: 0, MinLon: 0, MaxLat: 10, MaxLon: 10}

	tests := []struct {
		name     string
		other    BoundingBox
		expected bool
	}{
		{"Overlapping", BoundingBox{MinLat: 5, MinLon: 5, MaxLat: 15, MaxLon: 15}, true},
		{"Contained", BoundingBox{MinLat: 2, MinLon: 2, MaxLat: 8, MaxLon: 8}, true},
		{"Touching edge", BoundingBox{MinLat: 10, MinLon: 0, MaxLat: 20, MaxLon: 10}, true},
		{"Disjoint north", BoundingBox{MinLat: 11, MinLon: 0, MaxLat: 20, MaxLon: 10}, false},
		{"Disjoint east", BoundingBox{MinLat: 0, MinLon: 11, MaxLat: 10, MaxLon: 20}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, base.Intersects(tt.other))
			assert.Equal(t, tt.expected, tt.other.Intersects(base))
		})
	}
}

func TestBoundingBox_Center(t *testing.T) {
	box := BoundingBox{MinLat: -24.0, MinLon: -47.0, MaxLat: -23.0, MaxLon: -46.0}
	lat, lon := box.Center()

	assert.InDelta(t, -23.5, lat, 0.0001)
	assert.InDelta(t, -46.5, lon, 0.0001)
}

func TestBoundingBox_ApproxAreaKm2(t *testing.T) {
	t.Run("One degree square at the equator", func(t *testing.T) {
		box := BoundingBox{MinLat: -0.5, MinLon: -0.5, MaxLat: 0.5, MaxLon: 0.5}
		assert.InDelta(t, 12321.0, box.ApproxAreaKm2(), 100.0) // ~111km x ~111km
	})

	t.Run("Shrinks with latitude", func(t *testing.T) {
		equator := BoundingBox{MinLat: -0.5, MinLon: -0.5, MaxLat: 0.5, MaxLon: 0.5}
		north := BoundingBox{MinLat: 59.5, MinLon: -0.5, MaxLat: 60.5, MaxLon: 0.5}

		assert.InDelta(t, equator.ApproxAreaKm2()/2, north.ApproxAreaKm2(), 100.0)
	})
}
