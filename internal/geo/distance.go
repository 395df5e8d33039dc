package geo

import (
	"math"
)

const (
	// Earth radius in kilometers (spherical model)
	earthRadiusKm = 6371.0

	// Approximate kilometers per degree of latitude
	kmPerDegreeLat = 111.0
)

// Distance returns the great-circle distance between two points in
// kilometers using the Haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// Bearing returns the initial bearing in degrees [0, 360) to travel
// from point 1 to point 2 along the great circle.
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(deltaLon) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) -
		math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLon)

	bearing := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(bearing+360, 360)
}

// BoundingBox is a latitude/longitude rectangle used as a cheap
// prefilter before exact Haversine refinement.
type BoundingBox struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// NewBoundingBox builds a degree box around a center sized for the
// given radius. The longitude span widens with latitude; results are
// clamped to the valid coordinate domain. Membership in the box admits
// false positives, never false negatives, so callers must refine with
// Distance.
func NewBoundingBox(lat, lon, radiusKm float64) BoundingBox {
	latDelta := radiusKm / kmPerDegreeLat

	// cos(lat) shrinks toward the poles; near them the box degenerates
	// to the full longitude range.
	cosLat := math.Cos(lat * math.Pi / 180)
	var lonDelta float64
	if cosLat > 1e-9 {
		lonDelta = radiusKm / (kmPerDegreeLat * cosLat)
	} else {
		lonDelta = 360
	}

	box := BoundingBox{
		MinLat: lat - latDelta,
		MinLon: lon - lonDelta,
		MaxLat: lat + latDelta,
		MaxLon: lon + lonDelta,
	}

	if box.MinLat < -90 {
		box.MinLat = -90
	}
	if box.MaxLat > 90 {
		box.MaxLat = 90
	}
	if box.MinLon < -180 {
		box.MinLon = -180
	}
	if box.MaxLon > 180 {
		box.MaxLon = 180
	}

	return box
}

// Width returns the longitude span of the box in degrees.
func (b BoundingBox) Width() float64 {
	return b.MaxLon - b.MinLon
}

// Height returns the latitude span of the box in degrees.
func (b BoundingBox) Height() float64 {
	return b.MaxLat - b.MinLat
}

// Contains reports whether the point lies inside the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat &&
		lon >= b.MinLon && lon <= b.MaxLon
}

// Intersects reports whether two boxes overlap.
func (b BoundingBox) Intersects(other BoundingBox) bool {
	return b.MinLat <= other.MaxLat && b.MaxLat >= other.MinLat &&
		b.MinLon <= other.MaxLon && b.MaxLon >= other.MinLon
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// ApproxAreaKm2 returns the approximate area of the box in square
// kilometers, treating it as a planar rectangle scaled by the cosine
// of the center latitude. Good enough for density aggregates.
func (b BoundingBox) ApproxAreaKm2() float64 {
	centerLat, _ := b.Center()
	heightKm := b.Height() * kmPerDegreeLat
	widthKm := b.Width() * kmPerDegreeLat * math.Cos(centerLat*math.Pi/180)
	if widthKm < 0 {
		widthKm = -widthKm
	}
	return heightKm * widthKm
}
