package geo

import (
	"github.com/mmcloughlin/geohash"
)

// TilePrecision is the geohash length used for density tiles.
// Five characters give cells of roughly 4.9 x 4.9 km, matching the
// scale of the area saturation rules.
const TilePrecision = 5

// Tile returns the geohash tile covering the point.
func Tile(lat, lon float64) string {
	return geohash.EncodeWithPrecision(lat, lon, TilePrecision)
}

// TileAt returns the geohash tile covering the point at an explicit
// precision. Precision is clamped to the valid geohash range.
func TileAt(lat, lon float64, precision int) string {
	if precision < 1 {
		precision = 1
	}
	if precision > 12 {
		precision = 12
	}
	return geohash.EncodeWithPrecision(lat, lon, uint(precision))
}

// TileNeighbors returns the eight tiles surrounding the given tile.
// A point near a tile edge influences aggregates cached under the
// adjacent tiles, so invalidation touches the center plus all eight.
func TileNeighbors(tile string) []string {
	return geohash.Neighbors(tile)
}

// TileBounds returns the box covered by a tile.
func TileBounds(tile string) BoundingBox {
	box := geohash.BoundingBox(tile)
	return BoundingBox{
		MinLat: box.MinLat,
		MinLon: box.MinLng,
		MaxLat: box.MaxLat,
		MaxLon: box.MaxLng,
	}
}
