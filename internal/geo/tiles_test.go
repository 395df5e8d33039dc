package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTile(t *testing.T) {
	tile := Tile(-23.5505, -46.6333)
	assert.Len(t, tile, TilePrecision)

	// Nearby points share a tile, distant points do not.
	assert.Equal(t, tile, Tile(-23.5506, -46.6334))
	assert.NotEqual(t, tile, Tile(-22.9068, -43.1729))
}

func TestTileAt(t *testing.T) {
	assert.Len(t, TileAt(-23.5505, -46.6333, 7), 7)

	// Precision clamps to the valid geohash range.
	assert.Len(t, TileAt(-23.5505, -46.6333, 0), 1)
	assert.Len(t, TileAt(-23.5505, -46.6333, -3), 1)
	assert.Len(t, TileAt(-23.5505, -46.6333, 20), 12)
}

func TestTileNeighbors(t *testing.T) {
	tile := Tile(-23.5505, -46.6333)
	neighbors := TileNeighbors(tile)

	require.Len(t, neighbors, 8)
	for _, n := range neighbors {
		assert.Len(t, n, TilePrecision)
		assert.NotEqual(t, tile, n)
	}
}

func TestTileBounds(t *testing.T) {
	const lat, lon = -23.5505, -46.6333
	box := TileBounds(Tile(lat, lon))

	assert.True(t, box.Contains(lat, lon))
	assert.Less(t, box.MinLat, box.MaxLat)
	assert.Less(t, box.MinLon, box.MaxLon)

	// A precision-5 cell is roughly 4.9 x 4.9 km.
	assert.Less(t, box.Height(), 0.1)
	assert.Less(t, box.Width(), 0.1)
}
